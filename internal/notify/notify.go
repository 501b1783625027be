// Package notify dispatches reminder notifications to named channels.
// Delivery is best-effort: failures are logged, never propagated.
package notify

import (
	"log"
	"sync"
)

// Action is one button on an actionable notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// ActionData rides along with an actionable notification so the channel
// can route the user's response back to the right medication.
type ActionData struct {
	EntityID string `json:"entity_id"`
	Minutes  int    `json:"minutes,omitempty"`
}

// Notification is a single outbound message.
type Notification struct {
	Title   string
	Message string
	Tag     string
	Actions []Action
	Data    ActionData
}

// Channel delivers notifications to one destination.
type Channel interface {
	Name() string
	Send(n Notification) error
}

// Manager routes notifications to registered channels by name.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

func NewManager() *Manager {
	return &Manager{channels: make(map[string]Channel)}
}

// Register adds a channel. Registering a second channel under the same
// name replaces the first.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Has reports whether a channel is registered under the given name.
func (m *Manager) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.channels[name]
	return ok
}

// Send delivers to one named channel. Unknown channels and delivery
// failures are logged and swallowed.
func (m *Manager) Send(name string, n Notification) {
	m.mu.RLock()
	ch, ok := m.channels[name]
	m.mu.RUnlock()

	if !ok {
		log.Printf("Notification channel %q not registered, dropping %q", name, n.Title)
		return
	}
	if err := ch.Send(n); err != nil {
		log.Printf("Failed to send notification via %s: %v", name, err)
	}
}

// Announce delivers a generic (non-actionable) notification to the log
// channel. It is always best-effort.
func (m *Manager) Announce(n Notification) {
	m.mu.RLock()
	ch, ok := m.channels["log"]
	m.mu.RUnlock()

	if !ok {
		log.Printf("%s: %s", n.Title, n.Message)
		return
	}
	if err := ch.Send(n); err != nil {
		log.Printf("Failed to announce notification: %v", err)
	}
}
