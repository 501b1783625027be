// Package medication implements the per-medication state machine: daily
// reminder timers, snooze and nag cycles, refill accounting and entity
// state publication.
package medication

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"medication-reminder/internal/history"
	"medication-reminder/internal/notify"
	"medication-reminder/internal/scheduler"
	"medication-reminder/internal/state"
)

// Status is the user-visible state of a medication.
type Status string

const (
	StatusPending Status = "Pending"
	StatusTaken   Status = "Taken"
	StatusSkipped Status = "Skipped"
	StatusSnoozed Status = "Snoozed"
)

const (
	DefaultSnoozeMinutes = 5
	MinSnoozeMinutes     = 1
	MaxSnoozeMinutes     = 1440
	MaxNagIntervalMin    = 120
	MaxNagCount          = 48
)

// ClampSnooze bounds snooze minutes to the allowed range.
func ClampSnooze(minutes int) int {
	if minutes < MinSnoozeMinutes {
		return MinSnoozeMinutes
	}
	if minutes > MaxSnoozeMinutes {
		return MaxSnoozeMinutes
	}
	return minutes
}

// Config describes one medication. Times must be HH:MM strings; New
// normalizes and validates them.
type Config struct {
	Name               string
	Dose               string
	Times              []string
	SnoozeMinutes      int
	NotifyServices     []string
	NagIntervalMinutes int
	NagMax             int
	RefillThreshold    int
	UnitsPerIntake     int
}

// ConfigUpdate carries a partial configuration change. Nil fields are
// left untouched; a non-nil Times rebuilds every daily timer.
type ConfigUpdate struct {
	Dose               *string
	Times              []string
	SnoozeMinutes      *int
	NotifyServices     []string
	NagIntervalMinutes *int
	NagMax             *int
	RefillThreshold    *int
	UnitsPerIntake     *int
	RefillTotal        *int
}

// LastAction records the most recent transition for display.
type LastAction struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Medication is one live medication instance. All timer callbacks and
// command paths serialize on its mutex.
type Medication struct {
	id      string
	entryID string

	mu          sync.Mutex
	cfg         Config
	status      Status
	lastAction  *LastAction
	dailyTimers map[string]scheduler.Timer
	snoozeTimer scheduler.Timer
	nagTimer    scheduler.Timer
	nagLeft     int
	closed      bool

	clock    scheduler.Clock
	history  *history.Store
	notifier *notify.Manager
	sink     state.Sink
}

func New(cfg Config, h *history.Store, notifier *notify.Manager, sink state.Sink, clock scheduler.Clock) (*Medication, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("medication name is required")
	}
	times, err := NormalizeTimes(cfg.Times)
	if err != nil {
		return nil, err
	}
	cfg.Times = times
	cfg.NotifyServices = FilterNotifyServices(cfg.NotifyServices)
	if cfg.SnoozeMinutes == 0 {
		cfg.SnoozeMinutes = DefaultSnoozeMinutes
	}
	cfg.SnoozeMinutes = ClampSnooze(cfg.SnoozeMinutes)
	cfg.NagIntervalMinutes = clampRange(cfg.NagIntervalMinutes, 0, MaxNagIntervalMin)
	cfg.NagMax = clampRange(cfg.NagMax, 0, MaxNagCount)
	if cfg.UnitsPerIntake < 1 {
		cfg.UnitsPerIntake = 1
	}
	if cfg.RefillThreshold < 0 {
		cfg.RefillThreshold = 0
	}

	return &Medication{
		id:          "medication." + Slugify(cfg.Name),
		entryID:     uuid.NewString(),
		cfg:         cfg,
		status:      StatusPending,
		dailyTimers: make(map[string]scheduler.Timer),
		clock:       clock,
		history:     h,
		notifier:    notifier,
		sink:        sink,
	}, nil
}

func clampRange(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ID returns the medication's entity identifier.
func (m *Medication) ID() string { return m.id }

// EntryID returns the activation id assigned when the medication was
// created.
func (m *Medication) EntryID() string { return m.entryID }

// Name returns the configured display name.
func (m *Medication) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Name
}

// Config returns a copy of the current configuration.
func (m *Medication) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.cfg
	cfg.Times = append([]string(nil), m.cfg.Times...)
	cfg.NotifyServices = append([]string(nil), m.cfg.NotifyServices...)
	return cfg
}

// SnoozeMinutes returns the configured default snooze duration.
func (m *Medication) SnoozeMinutes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.SnoozeMinutes
}

// Status returns the current status.
func (m *Medication) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Start arms the daily reminder timers and publishes the initial state.
func (m *Medication) Start() {
	m.mu.Lock()
	m.scheduleAllLocked()
	m.mu.Unlock()
	m.PublishState()
}

// Close cancels every outstanding timer and retracts the entity state.
func (m *Medication) Close() {
	m.mu.Lock()
	m.closed = true
	for _, t := range m.dailyTimers {
		t.Stop()
	}
	m.dailyTimers = make(map[string]scheduler.Timer)
	if m.snoozeTimer != nil {
		m.snoozeTimer.Stop()
		m.snoozeTimer = nil
	}
	m.stopNagLocked()
	m.mu.Unlock()

	m.sink.Remove(m.id)
}

// scheduleAllLocked cancels and rebuilds every daily timer from the
// configured times.
func (m *Medication) scheduleAllLocked() {
	for _, t := range m.dailyTimers {
		t.Stop()
	}
	m.dailyTimers = make(map[string]scheduler.Timer)

	now := m.clock.Now()
	for _, value := range m.cfg.Times {
		hour, minute, err := ParseTimeOfDay(value)
		if err != nil {
			continue
		}
		key := value
		target := scheduler.NextOccurrence(now, hour, minute)
		m.dailyTimers[key] = scheduler.At(m.clock, target, func() {
			m.onDailyTimer(hour, minute)
		})
	}
}

// onDailyTimer fires a reminder and immediately re-arms the same
// time-of-day for the next day, keeping the daily cycle alive.
func (m *Medication) onDailyTimer(hour, minute int) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	key := fmt.Sprintf("%02d:%02d", hour, minute)
	next := scheduler.NextOccurrence(m.clock.Now(), hour, minute)
	m.dailyTimers[key] = scheduler.At(m.clock, next, func() {
		m.onDailyTimer(hour, minute)
	})
	m.mu.Unlock()

	m.sendReminder(false)
}

// sendReminder dispatches the generic and actionable notifications,
// records a transient "Reminder" last-action and manages the nag cycle.
// viaNag distinguishes nag resends from fresh reminder fires.
func (m *Medication) sendReminder(viaNag bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.lastAction = &LastAction{Status: "Reminder", Timestamp: m.clock.Now().Format(time.RFC3339)}
	if viaNag {
		if m.nagLeft > 0 {
			m.armNagLocked()
		}
	} else {
		m.stopNagLocked()
		if m.cfg.NagIntervalMinutes > 0 && m.cfg.NagMax > 0 {
			m.nagLeft = m.cfg.NagMax
			m.armNagLocked()
		}
	}
	cfg := m.cfg
	services := append([]string(nil), m.cfg.NotifyServices...)
	m.mu.Unlock()

	m.PublishState()

	title := "Medication Reminder: " + cfg.Name
	message := fmt.Sprintf("Time to take %s (%s)", cfg.Dose, cfg.Name)
	m.notifier.Announce(notify.Notification{Title: title, Message: message})

	if len(services) == 0 {
		return
	}
	n := notify.Notification{
		Title:   title,
		Message: message,
		Tag:     m.id,
		Actions: []notify.Action{
			{Action: "MED_TAKEN", Title: "Taken"},
			{Action: "MED_SKIP", Title: "Skip"},
			{Action: "MED_SNOOZE", Title: fmt.Sprintf("Snooze (%dm)", cfg.SnoozeMinutes)},
			{Action: "MED_DISMISS", Title: "Dismiss"},
		},
		Data: notify.ActionData{EntityID: m.id, Minutes: cfg.SnoozeMinutes},
	}
	for _, svc := range services {
		m.notifier.Send(svc, n)
	}
}

func (m *Medication) armNagLocked() {
	if m.nagTimer != nil {
		m.nagTimer.Stop()
	}
	d := time.Duration(m.cfg.NagIntervalMinutes) * time.Minute
	m.nagTimer = m.clock.AfterFunc(d, m.onNagTimer)
}

func (m *Medication) stopNagLocked() {
	if m.nagTimer != nil {
		m.nagTimer.Stop()
		m.nagTimer = nil
	}
	m.nagLeft = 0
}

func (m *Medication) onNagTimer() {
	m.mu.Lock()
	if m.closed || m.status == StatusTaken || m.status == StatusSkipped {
		m.stopNagLocked()
		m.mu.Unlock()
		return
	}
	if m.nagLeft <= 0 {
		m.mu.Unlock()
		return
	}
	m.nagLeft--
	m.mu.Unlock()

	m.sendReminder(true)
}

// Mark transitions the medication to the given status. Taken appends a
// history event and draws down the refill; Skipped appends only; Pending
// is a local reset with no history record.
func (m *Medication) Mark(status Status) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("medication %s is closed", m.id)
	}
	now := m.clock.Now()
	m.status = status
	m.lastAction = &LastAction{Status: string(status), Timestamp: now.Format(time.RFC3339)}
	m.stopNagLocked()
	m.mu.Unlock()

	m.PublishState()

	switch status {
	case StatusTaken:
		if err := m.history.Record(m.id, string(StatusTaken), now.Format(time.RFC3339)); err != nil {
			return err
		}
		return m.drawDownRefill()
	case StatusSkipped:
		return m.history.Record(m.id, string(StatusSkipped), now.Format(time.RFC3339))
	}
	return nil
}

// drawDownRefill consumes one intake's worth of units and fires the
// low-refill alert when the remaining count crosses the threshold. The
// alert latches until the refill is raised or acknowledged.
func (m *Medication) drawDownRefill() error {
	rec, ok := m.history.Refill(m.id)
	if !ok {
		return nil
	}
	amount := rec.UnitsPerIntake
	if amount < 1 {
		amount = 1
	}
	updated, err := m.history.DecrementRefill(m.id, amount)
	if err != nil {
		return err
	}
	if updated != nil && updated.Remaining <= updated.Threshold && !updated.Alerted {
		m.sendLowRefill(updated.Remaining)
		if err := m.history.SetRefillAlerted(m.id, true); err != nil {
			return err
		}
	}
	m.PublishState()
	return nil
}

func (m *Medication) sendLowRefill(remaining int) {
	m.mu.Lock()
	name := m.cfg.Name
	services := append([]string(nil), m.cfg.NotifyServices...)
	m.mu.Unlock()

	n := notify.Notification{
		Title:   "Medication Refill Needed: " + name,
		Message: fmt.Sprintf("Only %d doses of %s left. Time to refill.", remaining, name),
		Tag:     m.id,
	}
	m.notifier.Announce(n)
	for _, svc := range services {
		m.notifier.Send(svc, n)
	}
}

// Snooze arms a one-shot timer that re-fires the reminder after the
// delay and records a Snoozed event.
func (m *Medication) Snooze(minutes int) error {
	minutes = ClampSnooze(minutes)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("medication %s is closed", m.id)
	}
	now := m.clock.Now()
	if m.snoozeTimer != nil {
		m.snoozeTimer.Stop()
	}
	m.snoozeTimer = m.clock.AfterFunc(time.Duration(minutes)*time.Minute, func() {
		m.mu.Lock()
		m.snoozeTimer = nil
		m.mu.Unlock()
		m.sendReminder(false)
	})
	m.status = StatusSnoozed
	m.lastAction = &LastAction{Status: string(StatusSnoozed), Timestamp: now.Format(time.RFC3339)}
	m.stopNagLocked()
	m.mu.Unlock()

	m.PublishState()
	return m.history.Record(m.id, string(StatusSnoozed), now.Format(time.RFC3339))
}

// RefillSet applies an absolute refill update. Fields left nil keep the
// record's prior values; a missing record is created with the
// medication's configured defaults.
func (m *Medication) RefillSet(remaining, threshold, unitsPerIntake *int) error {
	m.mu.Lock()
	cfgThreshold := m.cfg.RefillThreshold
	cfgUnits := m.cfg.UnitsPerIntake
	m.mu.Unlock()

	if _, ok := m.history.Refill(m.id); !ok {
		if threshold == nil {
			threshold = &cfgThreshold
		}
		if unitsPerIntake == nil {
			unitsPerIntake = &cfgUnits
		}
	}
	if err := m.history.AdjustRefill(m.id, remaining, threshold, unitsPerIntake); err != nil {
		return err
	}
	m.PublishState()
	return nil
}

// RefillAdd adds (possibly negative) doses to the remaining count,
// creating the record from configured defaults when absent.
func (m *Medication) RefillAdd(amount int) error {
	if _, ok := m.history.Refill(m.id); !ok {
		zero := 0
		if err := m.RefillSet(&zero, nil, nil); err != nil {
			return err
		}
	}
	if _, err := m.history.AddRefill(m.id, amount); err != nil {
		return err
	}
	m.PublishState()
	return nil
}

// RefillAcknowledge clears the low-refill alert latch.
func (m *Medication) RefillAcknowledge() error {
	if err := m.history.AcknowledgeRefill(m.id); err != nil {
		return err
	}
	m.PublishState()
	return nil
}

// UpdateConfig applies a partial configuration edit. A times change
// rebuilds all daily timers; a refill total pushes an absolute remaining
// count into the refill record.
func (m *Medication) UpdateConfig(u ConfigUpdate) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("medication %s is closed", m.id)
	}

	changed := false
	if u.Dose != nil && *u.Dose != m.cfg.Dose {
		m.cfg.Dose = *u.Dose
		changed = true
	}
	if u.Times != nil {
		times, err := NormalizeTimes(u.Times)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		if !equalStrings(times, m.cfg.Times) {
			m.cfg.Times = times
			m.scheduleAllLocked()
			changed = true
		}
	}
	if u.SnoozeMinutes != nil {
		v := ClampSnooze(*u.SnoozeMinutes)
		if v != m.cfg.SnoozeMinutes {
			m.cfg.SnoozeMinutes = v
			changed = true
		}
	}
	if u.NotifyServices != nil {
		m.cfg.NotifyServices = FilterNotifyServices(u.NotifyServices)
		changed = true
	}
	if u.NagIntervalMinutes != nil {
		v := clampRange(*u.NagIntervalMinutes, 0, MaxNagIntervalMin)
		if v != m.cfg.NagIntervalMinutes {
			m.cfg.NagIntervalMinutes = v
			changed = true
		}
	}
	if u.NagMax != nil {
		v := clampRange(*u.NagMax, 0, MaxNagCount)
		if v != m.cfg.NagMax {
			m.cfg.NagMax = v
			changed = true
		}
	}
	if u.RefillThreshold != nil {
		v := *u.RefillThreshold
		if v < 0 {
			v = 0
		}
		if v != m.cfg.RefillThreshold {
			m.cfg.RefillThreshold = v
			changed = true
		}
	}
	if u.UnitsPerIntake != nil {
		v := *u.UnitsPerIntake
		if v < 1 {
			v = 1
		}
		if v != m.cfg.UnitsPerIntake {
			m.cfg.UnitsPerIntake = v
			changed = true
		}
	}
	m.mu.Unlock()

	if u.RefillTotal != nil {
		remaining := *u.RefillTotal
		if err := m.RefillSet(&remaining, nil, nil); err != nil {
			return err
		}
		changed = true
	}
	if changed {
		m.PublishState()
	}
	return nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// PublishState pushes the current entity state and attributes to the
// state sink.
func (m *Medication) PublishState() {
	m.mu.Lock()
	cfg := m.cfg
	status := m.status
	lastAction := m.lastAction
	m.mu.Unlock()

	attrs := map[string]any{
		"name":                 cfg.Name,
		"dose":                 cfg.Dose,
		"times":                append([]string(nil), cfg.Times...),
		"snooze_minutes":       cfg.SnoozeMinutes,
		"notify_services":      append([]string(nil), cfg.NotifyServices...),
		"nag_interval_minutes": cfg.NagIntervalMinutes,
		"nag_max":              cfg.NagMax,
	}
	if rec, ok := m.history.Refill(m.id); ok {
		attrs["refill_remaining"] = rec.Remaining
		attrs["refill_threshold"] = rec.Threshold
		attrs["units_per_intake"] = rec.UnitsPerIntake
		attrs["refill_needed"] = rec.Remaining <= rec.Threshold
	} else {
		attrs["refill_remaining"] = nil
		attrs["refill_threshold"] = cfg.RefillThreshold
		attrs["units_per_intake"] = cfg.UnitsPerIntake
		attrs["refill_needed"] = false
	}
	if lastAction != nil {
		attrs["last_action"] = map[string]any{
			"status":    lastAction.Status,
			"timestamp": lastAction.Timestamp,
		}
	} else {
		attrs["last_action"] = nil
	}

	m.sink.Set(m.id, string(status), attrs)
}
