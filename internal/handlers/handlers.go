// Package handlers implements the HTTP API: medication commands, state
// reads, history queries and report exports.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"medication-reminder/internal/history"
	"medication-reminder/internal/medication"
	"medication-reminder/internal/service"
	"medication-reminder/internal/state"
)

// EntityIDs accepts either a single string or an array of strings, the
// way service-call payloads are commonly written.
type EntityIDs []string

func (e *EntityIDs) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*e = EntityIDs{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("entity_id must be a string or array of strings")
	}
	*e = EntityIDs(many)
	return nil
}

// MarkRequest is the body for mark_taken, mark_skipped, mark_snoozed and
// mark_pending service calls.
type MarkRequest struct {
	EntityID EntityIDs `json:"entity_id"`
	Minutes  *int      `json:"minutes,omitempty"`
}

// RefillRequest is the body for the refill services.
type RefillRequest struct {
	EntityID       string `json:"entity_id"`
	Remaining      *int   `json:"remaining,omitempty"`
	Threshold      *int   `json:"threshold,omitempty"`
	UnitsPerIntake *int   `json:"units_per_intake,omitempty"`
	Amount         *int   `json:"amount,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func serviceError(w http.ResponseWriter, err error) {
	if errors.Is(err, medication.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func decodeMark(w http.ResponseWriter, r *http.Request) (*MarkRequest, bool) {
	var req MarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return nil, false
	}
	if len(req.EntityID) == 0 {
		http.Error(w, "entity_id is required", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

// HandleMarkTaken marks the targets as taken.
func HandleMarkTaken(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeMark(w, r)
		if !ok {
			return
		}
		if err := svc.MarkTaken(req.EntityID); err != nil {
			serviceError(w, err)
			return
		}
		writeOK(w)
	}
}

// HandleMarkSkipped marks the targets as skipped.
func HandleMarkSkipped(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeMark(w, r)
		if !ok {
			return
		}
		if err := svc.MarkSkipped(req.EntityID); err != nil {
			serviceError(w, err)
			return
		}
		writeOK(w)
	}
}

// HandleMarkSnoozed snoozes the targets. minutes is optional.
func HandleMarkSnoozed(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeMark(w, r)
		if !ok {
			return
		}
		if err := svc.MarkSnoozed(req.EntityID, req.Minutes); err != nil {
			serviceError(w, err)
			return
		}
		writeOK(w)
	}
}

// HandleMarkPending resets the targets to pending.
func HandleMarkPending(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeMark(w, r)
		if !ok {
			return
		}
		if err := svc.MarkPending(req.EntityID); err != nil {
			serviceError(w, err)
			return
		}
		writeOK(w)
	}
}

// HandleRefillSet applies an absolute refill update.
func HandleRefillSet(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RefillRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.EntityID == "" {
			http.Error(w, "entity_id is required", http.StatusBadRequest)
			return
		}
		if err := svc.RefillSet(req.EntityID, req.Remaining, req.Threshold, req.UnitsPerIntake); err != nil {
			serviceError(w, err)
			return
		}
		writeOK(w)
	}
}

// HandleRefillAdd adds doses to the remaining count.
func HandleRefillAdd(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RefillRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.EntityID == "" {
			http.Error(w, "entity_id is required", http.StatusBadRequest)
			return
		}
		if err := svc.RefillAdd(req.EntityID, req.Amount); err != nil {
			serviceError(w, err)
			return
		}
		writeOK(w)
	}
}

// HandleRefillAcknowledge clears the low-refill alert latch.
func HandleRefillAcknowledge(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RefillRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.EntityID == "" {
			http.Error(w, "entity_id is required", http.StatusBadRequest)
			return
		}
		if err := svc.RefillAcknowledge(req.EntityID); err != nil {
			serviceError(w, err)
			return
		}
		writeOK(w)
	}
}

// HandleNotificationEvent ingests a notification-action event, typically
// fired by a mobile app when the user presses a reminder button.
func HandleNotificationEvent(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev service.ActionEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		svc.HandleNotificationAction(ev)
		writeOK(w)
	}
}

// HandleGetStates lists every published entity state.
func HandleGetStates(registry *state.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, registry.All())
	}
}

// HandleGetState returns one entity state.
func HandleGetState(registry *state.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entityID := chi.URLParam(r, "entityID")
		st, ok := registry.Get(entityID)
		if !ok {
			http.Error(w, "Entity not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// HandleGetHistory returns the recorded events for one medication,
// oldest first. An optional limit query parameter caps the result to the
// newest N events.
func HandleGetHistory(h *history.Store, registry *medication.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entityID := chi.URLParam(r, "entityID")
		if _, err := registry.Get(entityID); err != nil {
			serviceError(w, err)
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		events := h.Recent(entityID, limit)
		if events == nil {
			events = []history.Event{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"entity_id": entityID,
			"events":    events,
		})
	}
}

// HandleHealth is the liveness probe.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}
