package plugins

import (
	"context"
	"fmt"
	"sync"

	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
)

// State is a plugin's lifecycle state.
type State int

// Lifecycle states. NotInstalled is a plugin waiting to be installed; Uninstalled is
// only ever persisted and makes later loads of the bundle fail as rejected.
const (
	NotInstalled State = iota
	Disabled
	Enabled
	Uninstalled
)

func (s State) String() string {
	switch s {
	case NotInstalled:
		return "not_installed"
	case Disabled:
		return "disabled"
	case Enabled:
		return "enabled"
	case Uninstalled:
		return "uninstalled"
	default:
		return "unknown"
	}
}

// ParseState converts the persisted form of a state.
func ParseState(s string) (State, error) {
	switch s {
	case "not_installed":
		return NotInstalled, nil
	case "disabled":
		return Disabled, nil
	case "enabled":
		return Enabled, nil
	case "uninstalled":
		return Uninstalled, nil
	default:
		return NotInstalled, fmt.Errorf("unknown plugin state %q", s)
	}
}

// StateEntry is the persisted lifecycle state of a plugin.
type StateEntry struct {
	ID      pluginapi.ID
	Title   string
	Version string
	System  bool
	State   State
}

// StateStore persists lifecycle state across restarts.
type StateStore interface {
	GetState(ctx context.Context, id pluginapi.ID) (StateEntry, bool, error)
	PutState(ctx context.Context, e StateEntry) error
	DeleteState(ctx context.Context, id pluginapi.ID) error
	ListStates(ctx context.Context) ([]StateEntry, error)
}

// MemoryStateStore keeps state in memory. Used when no database is configured.
type MemoryStateStore struct {
	mu      sync.RWMutex
	entries map[pluginapi.ID]StateEntry
}

// NewMemoryStateStore returns an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: make(map[pluginapi.ID]StateEntry)}
}

// GetState implements StateStore.
func (m *MemoryStateStore) GetState(_ context.Context, id pluginapi.ID) (StateEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	return e, ok, nil
}

// PutState implements StateStore.
func (m *MemoryStateStore) PutState(_ context.Context, e StateEntry) error {
	m.mu.Lock()
	m.entries[e.ID] = e
	m.mu.Unlock()

	return nil
}

// DeleteState implements StateStore.
func (m *MemoryStateStore) DeleteState(_ context.Context, id pluginapi.ID) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()

	return nil
}

// ListStates implements StateStore.
func (m *MemoryStateStore) ListStates(_ context.Context) ([]StateEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]StateEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}

	return out, nil
}
