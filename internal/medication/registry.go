package medication

import (
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound marks lookups for entity ids with no active medication.
var ErrNotFound = fmt.Errorf("medication entity not found")

// Registry tracks every active medication by entity id.
type Registry struct {
	mu   sync.RWMutex
	meds map[string]*Medication
}

func NewRegistry() *Registry {
	return &Registry{meds: make(map[string]*Medication)}
}

// Add registers a medication. Names that slugify to an existing entity
// id are rejected.
func (r *Registry) Add(m *Medication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.meds[m.ID()]; exists {
		return fmt.Errorf("duplicate medication entity: %s", m.ID())
	}
	r.meds[m.ID()] = m
	return nil
}

// Get resolves one entity id.
func (r *Registry) Get(entityID string) (*Medication, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.meds[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}
	return m, nil
}

// Remove closes and drops one medication.
func (r *Registry) Remove(entityID string) error {
	r.mu.Lock()
	m, ok := r.meds[entityID]
	if ok {
		delete(r.meds, entityID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}
	m.Close()
	return nil
}

// All returns every active medication sorted by entity id.
func (r *Registry) All() []*Medication {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Medication, 0, len(r.meds))
	for _, m := range r.meds {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// CloseAll shuts down every medication, leaving the registry empty.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	meds := make([]*Medication, 0, len(r.meds))
	for _, m := range r.meds {
		meds = append(meds, m)
	}
	r.meds = make(map[string]*Medication)
	r.mu.Unlock()

	for _, m := range meds {
		m.Close()
	}
}
