// Package service implements the command surface: batch mark operations,
// refill commands and notification-action dispatch.
package service

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"medication-reminder/internal/medication"
)

// Service executes commands against the medication registry. Batch
// operations resolve every target through the registry and stop at the
// first unknown entity id; targets already processed keep their changes.
type Service struct {
	registry *medication.Registry
}

func New(registry *medication.Registry) *Service {
	return &Service{registry: registry}
}

// MarkTaken marks each target medication as taken.
func (s *Service) MarkTaken(entityIDs []string) error {
	return s.each(entityIDs, func(m *medication.Medication) error {
		return m.Mark(medication.StatusTaken)
	})
}

// MarkSkipped marks each target medication as skipped.
func (s *Service) MarkSkipped(entityIDs []string) error {
	return s.each(entityIDs, func(m *medication.Medication) error {
		return m.Mark(medication.StatusSkipped)
	})
}

// MarkPending resets each target medication to pending.
func (s *Service) MarkPending(entityIDs []string) error {
	return s.each(entityIDs, func(m *medication.Medication) error {
		return m.Mark(medication.StatusPending)
	})
}

// MarkSnoozed snoozes each target. A nil minutes uses each medication's
// own configured default; out-of-range values are clamped.
func (s *Service) MarkSnoozed(entityIDs []string, minutes *int) error {
	return s.each(entityIDs, func(m *medication.Medication) error {
		v := m.SnoozeMinutes()
		if minutes != nil {
			v = medication.ClampSnooze(*minutes)
		}
		return m.Snooze(v)
	})
}

// RefillSet applies an absolute refill update. At least one field must
// be provided.
func (s *Service) RefillSet(entityID string, remaining, threshold, unitsPerIntake *int) error {
	if remaining == nil && threshold == nil && unitsPerIntake == nil {
		return fmt.Errorf("refill_set requires at least one of remaining, threshold or units_per_intake")
	}
	m, err := s.registry.Get(entityID)
	if err != nil {
		return err
	}
	return m.RefillSet(remaining, threshold, unitsPerIntake)
}

// RefillAdd adds doses to the remaining count.
func (s *Service) RefillAdd(entityID string, amount *int) error {
	if amount == nil {
		return fmt.Errorf("refill_add requires an amount")
	}
	m, err := s.registry.Get(entityID)
	if err != nil {
		return err
	}
	return m.RefillAdd(*amount)
}

// RefillAcknowledge clears the low-refill alert latch.
func (s *Service) RefillAcknowledge(entityID string) error {
	m, err := s.registry.Get(entityID)
	if err != nil {
		return err
	}
	return m.RefillAcknowledge()
}

func (s *Service) each(entityIDs []string, fn func(*medication.Medication) error) error {
	if len(entityIDs) == 0 {
		return fmt.Errorf("no medication entity ids given")
	}
	for _, id := range entityIDs {
		m, err := s.registry.Get(id)
		if err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

// ActionEvent is a notification-action response from a client, either a
// mobile app event or a chat-channel button press.
type ActionEvent struct {
	Action string          `json:"action"`
	Tag    string          `json:"tag,omitempty"`
	Data   ActionEventData `json:"action_data,omitempty"`
}

type ActionEventData struct {
	EntityID string `json:"entity_id,omitempty"`
	Minutes  any    `json:"minutes,omitempty"`
}

// HandleNotificationAction maps a notification response onto a command.
// Unknown actions and unresolvable entity ids are ignored so stray
// events from other integrations pass through quietly.
func (s *Service) HandleNotificationAction(ev ActionEvent) {
	entityID := ev.Data.EntityID
	if entityID == "" {
		entityID = ev.Tag
	}
	if entityID == "" {
		return
	}
	if _, err := s.registry.Get(entityID); err != nil {
		return
	}

	var err error
	switch strings.ToUpper(strings.TrimSpace(ev.Action)) {
	case "MED_TAKEN", "TAKEN":
		err = s.MarkTaken([]string{entityID})
	case "MED_SKIP", "SKIP", "SKIPPED", "MED_DISMISS", "DISMISS":
		err = s.MarkSkipped([]string{entityID})
	case "MED_SNOOZE", "SNOOZE", "SNOOZED":
		err = s.MarkSnoozed([]string{entityID}, coerceMinutes(ev.Data.Minutes))
	default:
		return
	}
	if err != nil {
		log.Printf("Notification action %s for %s failed: %v", ev.Action, entityID, err)
	}
}

// coerceMinutes accepts the number or string a client put in the event
// payload. Anything unusable becomes nil, which means the medication's
// default.
func coerceMinutes(v any) *int {
	switch n := v.(type) {
	case nil:
		return nil
	case float64:
		if n != float64(int(n)) {
			return nil
		}
		m := int(n)
		return &m
	case int:
		m := n
		return &m
	case string:
		m, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return nil
		}
		return &m
	default:
		return nil
	}
}
