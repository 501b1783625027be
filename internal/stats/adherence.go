// Package stats derives adherence and interval statistics sensors from
// the recorded medication history. Each sensor subscribes to history
// writes for its medication and republishes itself on every change.
package stats

import (
	"fmt"
	"log"
	"math"
	"sync"

	"medication-reminder/internal/history"
	"medication-reminder/internal/scheduler"
	"medication-reminder/internal/state"
)

const (
	adherenceWindowDays = 7
	recentEventLimit    = 100
)

// AdherenceSensor publishes a 7-day adherence percentage for one
// medication, with raw tallies and recent events as attributes.
type AdherenceSensor struct {
	entityID     string
	medicationID string
	name         string

	mu         sync.Mutex
	timesPerDay int
	subID       int

	history *history.Store
	sink    state.Sink
	clock   scheduler.Clock
}

func NewAdherenceSensor(medicationID, name string, timesPerDay int, h *history.Store, sink state.Sink, clock scheduler.Clock) *AdherenceSensor {
	return &AdherenceSensor{
		entityID:     medicationID + "_adherence",
		medicationID: medicationID,
		name:         name,
		timesPerDay:  timesPerDay,
		history:      h,
		sink:         sink,
		clock:        clock,
	}
}

func (s *AdherenceSensor) EntityID() string { return s.entityID }

// Start subscribes to history changes and publishes the initial value.
func (s *AdherenceSensor) Start() {
	s.mu.Lock()
	s.subID = s.history.Subscribe(s.medicationID, func(string) { s.Recompute() })
	s.mu.Unlock()
	s.Recompute()
}

// Close drops the subscription and retracts the entity state.
func (s *AdherenceSensor) Close() {
	s.mu.Lock()
	subID := s.subID
	s.subID = 0
	s.mu.Unlock()

	if subID != 0 {
		if err := s.history.Unsubscribe(subID); err != nil {
			log.Printf("Failed to unsubscribe adherence sensor %s: %v", s.entityID, err)
		}
	}
	s.sink.Remove(s.entityID)
}

// UpdateTimes adjusts the expected daily dose count after a schedule
// edit and republishes.
func (s *AdherenceSensor) UpdateTimes(timesPerDay int) {
	s.mu.Lock()
	s.timesPerDay = timesPerDay
	s.mu.Unlock()
	s.Recompute()
}

// Recompute recalculates the window and pushes the state.
func (s *AdherenceSensor) Recompute() {
	s.mu.Lock()
	timesPerDay := s.timesPerDay
	s.mu.Unlock()

	now := s.clock.Now()
	since := now.AddDate(0, 0, -adherenceWindowDays)
	counts := s.history.CountsSince(s.medicationID, since)
	expected := adherenceWindowDays * timesPerDay

	value := state.StateUnknown
	if expected > 0 {
		percent := math.Round(100 * float64(counts.Taken) / float64(expected))
		value = fmt.Sprintf("%d", int(percent))
	}

	recent := s.history.Recent(s.medicationID, recentEventLimit)
	recentAttrs := make([]map[string]any, 0, len(recent))
	for _, e := range recent {
		recentAttrs = append(recentAttrs, map[string]any{
			"status":    e.Status,
			"timestamp": e.Timestamp,
		})
	}

	s.sink.Set(s.entityID, value, map[string]any{
		"medication":    s.name,
		"taken_7d":      counts.Taken,
		"skipped_7d":    counts.Skipped,
		"snoozed_7d":    counts.Snoozed,
		"expected_7d":   expected,
		"recent_events": recentAttrs,
	})
}
