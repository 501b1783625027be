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

// window is one reporting interval for the stats sensor.
type window struct {
	attr string
	days int
}

var windows = []window{
	{"daily", 1},
	{"weekly", 7},
	{"monthly", 30},
	{"yearly", 365},
}

// StatsSensor publishes rolling taken/skipped/missed tallies over fixed
// windows. Its state is the 30-day adherence percentage.
type StatsSensor struct {
	entityID     string
	medicationID string
	name         string

	mu          sync.Mutex
	timesPerDay int
	subID       int

	history *history.Store
	sink    state.Sink
	clock   scheduler.Clock
}

func NewStatsSensor(medicationID, name string, timesPerDay int, h *history.Store, sink state.Sink, clock scheduler.Clock) *StatsSensor {
	return &StatsSensor{
		entityID:     medicationID + "_stats",
		medicationID: medicationID,
		name:         name,
		timesPerDay:  timesPerDay,
		history:      h,
		sink:         sink,
		clock:        clock,
	}
}

func (s *StatsSensor) EntityID() string { return s.entityID }

func (s *StatsSensor) Start() {
	s.mu.Lock()
	s.subID = s.history.Subscribe(s.medicationID, func(string) { s.Recompute() })
	s.mu.Unlock()
	s.Recompute()
}

func (s *StatsSensor) Close() {
	s.mu.Lock()
	subID := s.subID
	s.subID = 0
	s.mu.Unlock()

	if subID != 0 {
		if err := s.history.Unsubscribe(subID); err != nil {
			log.Printf("Failed to unsubscribe stats sensor %s: %v", s.entityID, err)
		}
	}
	s.sink.Remove(s.entityID)
}

func (s *StatsSensor) UpdateTimes(timesPerDay int) {
	s.mu.Lock()
	s.timesPerDay = timesPerDay
	s.mu.Unlock()
	s.Recompute()
}

func (s *StatsSensor) Recompute() {
	s.mu.Lock()
	timesPerDay := s.timesPerDay
	s.mu.Unlock()

	now := s.clock.Now()
	attrs := map[string]any{"medication": s.name}
	value := state.StateUnknown

	for _, w := range windows {
		since := now.AddDate(0, 0, -w.days)
		counts := s.history.CountsSince(s.medicationID, since)
		expected := w.days * timesPerDay
		missed := expected - counts.Taken - counts.Skipped
		if missed < 0 {
			missed = 0
		}
		attrs[w.attr] = map[string]any{
			"taken":    counts.Taken,
			"skipped":  counts.Skipped,
			"missed":   missed,
			"expected": expected,
		}
		if w.days == 30 && expected > 0 {
			percent := math.Round(100 * float64(counts.Taken) / float64(expected))
			value = fmt.Sprintf("%d", int(percent))
		}
	}

	s.sink.Set(s.entityID, value, attrs)
}
