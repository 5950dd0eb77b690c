// Package health tracks the liveness of the service's components for
// the /healthz endpoint.
package health

import (
	"sync"
	"time"
)

// Status describes the health of one named component.
type Status struct {
	Component string    `json:"component"`
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Monitor is a thread-safe registry of component health statuses.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// SetHealthy records a component as healthy.
func (m *Monitor) SetHealthy(name, message string) {
	m.set(name, true, message)
}

// SetUnhealthy records a component as unhealthy.
func (m *Monitor) SetUnhealthy(name, message string) {
	m.set(name, false, message)
}

func (m *Monitor) set(name string, healthy bool, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[name] = Status{
		Component: name,
		Healthy:   healthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Get returns the status for a named component.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[name]
	return s, ok
}

// All returns a copy of every recorded status.
func (m *Monitor) All() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.statuses))
	for k, v := range m.statuses {
		out[k] = v
	}
	return out
}

// Healthy reports whether every recorded component is healthy. An empty
// monitor is considered healthy.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
