package config

import (
	"sync"
)

// Manager holds the live config and serializes reads against periodic
// overlay reloads downloaded from the backend.
type Manager struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewManager wraps an already-loaded Config for concurrent access.
func NewManager(cfg *Config) *Manager {
	return &Manager{cfg: cfg}
}

// Get returns the current effective config. Callers must not mutate the
// returned value; Reload installs a fresh copy rather than mutating in
// place.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Reload applies a JSON overlay on top of a copy of the current config and
// installs it atomically.
func (m *Manager) Reload(overlay []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := *m.cfg
	if err := next.ApplyOverlay(overlay); err != nil {
		return err
	}
	m.cfg = &next
	return nil
}
