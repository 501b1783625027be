// Package history implements the append-only adherence log and refill
// counters for all medications. The Store owns the persisted document
// exclusively: every mutation is written through the durable store before
// the call returns, then observers for the touched medication are told.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"medication-reminder/internal/scheduler"
	"medication-reminder/internal/store"
)

const (
	// StoreKey is the document key used in the durable store.
	StoreKey = "medication_reminder_history"

	// maxEvents caps each medication's log before the age filter runs.
	maxEvents = 500

	// maxAgeDays drops events older than this at every write.
	maxAgeDays = 60
)

// ErrNoRefill is returned when a refill operation targets a medication
// without a refill record.
var ErrNoRefill = errors.New("no refill record")

// Event is one recorded status transition.
type Event struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Refill tracks remaining dose units for one medication.
type Refill struct {
	Remaining      int  `json:"remaining"`
	Threshold      int  `json:"threshold"`
	UnitsPerIntake int  `json:"units_per_intake"`
	Alerted        bool `json:"alerted"`
}

// Counts holds per-status tallies over a time range.
type Counts struct {
	Taken   int `json:"taken"`
	Skipped int `json:"skipped"`
	Snoozed int `json:"snoozed"`
}

type document struct {
	Events map[string][]Event `json:"events"`
	Refill map[string]*Refill `json:"refill"`
}

// Store is the history manager. All methods are safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	store     store.Store
	clock     scheduler.Clock
	events    map[string][]Event
	refill    map[string]*Refill
	observers map[int]observer
	nextObs   int
}

type observer struct {
	medicationID string
	fn           func(medicationID string)
}

func New(s store.Store, clock scheduler.Clock) *Store {
	return &Store{
		store:     s,
		clock:     clock,
		events:    make(map[string][]Event),
		refill:    make(map[string]*Refill),
		observers: make(map[int]observer),
	}
}

// Load reads the persisted document, discarding malformed entries. It
// never fails: unreadable or corrupt documents leave the store empty.
func (h *Store) Load() {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := h.store.Load(StoreKey)
	if err != nil {
		log.Printf("Failed to load history document, starting empty: %v", err)
		return
	}
	if data == nil {
		return
	}

	var raw struct {
		Events map[string][]map[string]any `json:"events"`
		Refill map[string]map[string]any   `json:"refill"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Printf("Failed to parse history document, starting empty: %v", err)
		return
	}

	for id, entries := range raw.Events {
		var valid []Event
		for _, e := range entries {
			status, okStatus := e["status"].(string)
			timestamp, okTimestamp := e["timestamp"].(string)
			if !okStatus || !okTimestamp {
				continue
			}
			valid = append(valid, Event{Status: status, Timestamp: timestamp})
		}
		if valid != nil {
			h.events[id] = valid
		}
	}

	for id, fields := range raw.Refill {
		remaining, okRemaining := intField(fields, "remaining")
		threshold, okThreshold := intField(fields, "threshold")
		units, okUnits := intField(fields, "units_per_intake")
		if !okRemaining || !okThreshold || !okUnits {
			continue
		}
		alerted, _ := fields["alerted"].(bool)
		h.refill[id] = &Refill{
			Remaining:      remaining,
			Threshold:      threshold,
			UnitsPerIntake: units,
			Alerted:        alerted,
		}
	}
}

// intField extracts an integral JSON number.
func intField(fields map[string]any, key string) (int, bool) {
	v, ok := fields[key].(float64)
	if !ok || v != float64(int(v)) {
		return 0, false
	}
	return int(v), true
}

// Record appends a status event, prunes the medication's log and persists
// the document. Observers for the medication fire after a successful save.
func (h *Store) Record(medicationID, status, timestampISO string) error {
	h.mu.Lock()
	h.events[medicationID] = h.prune(append(h.events[medicationID], Event{Status: status, Timestamp: timestampISO}))
	err := h.saveLocked()
	h.mu.Unlock()
	if err != nil {
		return err
	}

	h.notify(medicationID)
	return nil
}

// prune keeps the newest maxEvents entries by insertion order, then drops
// entries older than maxAgeDays. Entries whose timestamps do not parse
// are dropped too.
func (h *Store) prune(events []Event) []Event {
	if len(events) > maxEvents {
		events = events[len(events)-maxEvents:]
	}
	cutoff := h.clock.Now().AddDate(0, 0, -maxAgeDays)
	kept := make([]Event, 0, len(events))
	for _, e := range events {
		ts, err := time.Parse(time.RFC3339, e.Timestamp)
		if err != nil {
			continue
		}
		if !ts.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

// Compact applies the pruning rules to every medication's log and saves
// once. Used by the nightly maintenance sweep so stale entries go away
// even when nothing is being recorded.
func (h *Store) Compact() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, events := range h.events {
		h.events[id] = h.prune(events)
	}
	return h.saveLocked()
}

// Recent returns the newest limit events in oldest-to-newest order.
func (h *Store) Recent(medicationID string, limit int) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	events := h.events[medicationID]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// CountsSince tallies taken/skipped/snoozed events at or after since.
func (h *Store) CountsSince(medicationID string, since time.Time) Counts {
	h.mu.Lock()
	defer h.mu.Unlock()

	var c Counts
	for _, e := range h.events[medicationID] {
		ts, err := time.Parse(time.RFC3339, e.Timestamp)
		if err != nil || ts.Before(since) {
			continue
		}
		tally(&c, e.Status)
	}
	return c
}

// CountsBetween tallies taken/skipped/snoozed events within [start, end].
func (h *Store) CountsBetween(medicationID string, start, end time.Time) Counts {
	h.mu.Lock()
	defer h.mu.Unlock()

	var c Counts
	for _, e := range h.events[medicationID] {
		ts, err := time.Parse(time.RFC3339, e.Timestamp)
		if err != nil || ts.Before(start) || ts.After(end) {
			continue
		}
		tally(&c, e.Status)
	}
	return c
}

// tally matches statuses by case-insensitive prefix so variants like
// "taken"/"Taken"/"take" all count.
func tally(c *Counts, status string) {
	s := strings.ToLower(status)
	switch {
	case strings.HasPrefix(s, "take"):
		c.Taken++
	case strings.HasPrefix(s, "skip"):
		c.Skipped++
	case strings.HasPrefix(s, "snooz"):
		c.Snoozed++
	}
}

// Refill returns a copy of the medication's refill record.
func (h *Store) Refill(medicationID string) (Refill, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, ok := h.refill[medicationID]
	if !ok {
		return Refill{}, false
	}
	return *rec, true
}

// SetRefill replaces the medication's refill record.
func (h *Store) SetRefill(medicationID string, rec Refill) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rec.Remaining < 0 {
		rec.Remaining = 0
	}
	if rec.UnitsPerIntake < 1 {
		rec.UnitsPerIntake = 1
	}
	copied := rec
	h.refill[medicationID] = &copied
	return h.saveLocked()
}

// AdjustRefill partially updates the refill record: nil fields keep their
// prior values. A record is created if none exists. Providing remaining
// clears the alerted latch.
func (h *Store) AdjustRefill(medicationID string, remaining, threshold, unitsPerIntake *int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, ok := h.refill[medicationID]
	if !ok {
		rec = &Refill{UnitsPerIntake: 1}
		h.refill[medicationID] = rec
	}
	if remaining != nil {
		rec.Remaining = *remaining
		if rec.Remaining < 0 {
			rec.Remaining = 0
		}
		rec.Alerted = false
	}
	if threshold != nil {
		rec.Threshold = *threshold
		if rec.Threshold < 0 {
			rec.Threshold = 0
		}
	}
	if unitsPerIntake != nil {
		rec.UnitsPerIntake = *unitsPerIntake
		if rec.UnitsPerIntake < 1 {
			rec.UnitsPerIntake = 1
		}
	}
	return h.saveLocked()
}

// AddRefill adds delta (possibly negative) to remaining, floored at zero,
// and clears the alerted latch.
func (h *Store) AddRefill(medicationID string, delta int) (Refill, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, ok := h.refill[medicationID]
	if !ok {
		return Refill{}, ErrNoRefill
	}
	rec.Remaining += delta
	if rec.Remaining < 0 {
		rec.Remaining = 0
	}
	rec.Alerted = false
	if err := h.saveLocked(); err != nil {
		return Refill{}, err
	}
	return *rec, nil
}

// DecrementRefill subtracts amount from remaining, floored at zero. It
// returns nil when the medication has no refill record.
func (h *Store) DecrementRefill(medicationID string, amount int) (*Refill, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, ok := h.refill[medicationID]
	if !ok {
		return nil, nil
	}
	rec.Remaining -= amount
	if rec.Remaining < 0 {
		rec.Remaining = 0
	}
	if err := h.saveLocked(); err != nil {
		return nil, err
	}
	copied := *rec
	return &copied, nil
}

// AcknowledgeRefill clears the alerted latch. Missing records are a no-op.
func (h *Store) AcknowledgeRefill(medicationID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, ok := h.refill[medicationID]
	if !ok || !rec.Alerted {
		return nil
	}
	rec.Alerted = false
	return h.saveLocked()
}

// SetRefillAlerted latches (or clears) the low-refill alert flag.
func (h *Store) SetRefillAlerted(medicationID string, alerted bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, ok := h.refill[medicationID]
	if !ok || rec.Alerted == alerted {
		return nil
	}
	rec.Alerted = alerted
	return h.saveLocked()
}

// Subscribe registers fn to run after every successful Record for the
// medication. The returned id releases the subscription via Unsubscribe.
func (h *Store) Subscribe(medicationID string, fn func(medicationID string)) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextObs++
	id := h.nextObs
	h.observers[id] = observer{medicationID: medicationID, fn: fn}
	return id
}

// Unsubscribe removes a subscription.
func (h *Store) Unsubscribe(id int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.observers[id]; !ok {
		return fmt.Errorf("unknown history subscription: %d", id)
	}
	delete(h.observers, id)
	return nil
}

func (h *Store) notify(medicationID string) {
	h.mu.Lock()
	var fns []func(string)
	for _, obs := range h.observers {
		if obs.medicationID == medicationID {
			fns = append(fns, obs.fn)
		}
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(medicationID)
	}
}

func (h *Store) saveLocked() error {
	doc := document{Events: h.events, Refill: h.refill}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode history document: %w", err)
	}
	if err := h.store.Save(StoreKey, data); err != nil {
		return fmt.Errorf("failed to persist history document: %w", err)
	}
	return nil
}
