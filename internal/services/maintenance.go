// Package services hosts background workers that run alongside the API.
package services

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"medication-reminder/internal/history"
	"medication-reminder/internal/medication"
)

// MaintenanceService compacts the history log and re-checks refill
// levels on a cron schedule, so stale events are pruned and missed
// low-refill alerts fire even when nothing is being recorded.
type MaintenanceService struct {
	history  *history.Store
	registry *medication.Registry
	cron     *cron.Cron
}

func NewMaintenanceService(h *history.Store, registry *medication.Registry) *MaintenanceService {
	return &MaintenanceService{
		history:  h,
		registry: registry,
		cron:     cron.New(),
	}
}

// Start schedules the sweep. The schedule uses standard cron syntax,
// typically "0 3 * * *" for a nightly run.
func (s *MaintenanceService) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.Run); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	log.Printf("Maintenance sweep scheduled: %s", schedule)
	return nil
}

// Stop halts the scheduler. Already-running sweeps finish.
func (s *MaintenanceService) Stop() {
	s.cron.Stop()
}

// Run executes one sweep immediately.
func (s *MaintenanceService) Run() {
	if err := s.history.Compact(); err != nil {
		log.Printf("History compaction failed: %v", err)
	}

	// Republish every medication so refill attributes reflect the
	// compacted history, and surface any refill that slipped below its
	// threshold without an alert.
	for _, m := range s.registry.All() {
		m.PublishState()
		if rec, ok := s.history.Refill(m.ID()); ok && rec.Remaining <= rec.Threshold && !rec.Alerted {
			log.Printf("Refill low for %s: %d remaining (threshold %d)", m.ID(), rec.Remaining, rec.Threshold)
		}
	}
}
