// Package state publishes entity states so clients can read the current
// status of each medication and its derived sensors.
package state

import (
	"sort"
	"sync"
	"time"
)

// StateUnknown is published when an entity has no numeric value yet.
const StateUnknown = "unknown"

// State is one published entity snapshot.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Sink receives entity state updates.
type Sink interface {
	Set(entityID, state string, attributes map[string]any)
	Remove(entityID string)
}

// Registry is an in-memory Sink that also serves reads.
type Registry struct {
	mu     sync.RWMutex
	states map[string]State
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{states: make(map[string]State), now: time.Now}
}

func (r *Registry) Set(entityID, state string, attributes map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[entityID] = State{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastUpdated: r.now(),
	}
}

func (r *Registry) Remove(entityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, entityID)
}

// Get returns the current state of one entity.
func (r *Registry) Get(entityID string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[entityID]
	return s, ok
}

// All returns every published state sorted by entity id.
func (r *Registry) All() []State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]State, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}
