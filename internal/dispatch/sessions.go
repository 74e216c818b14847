package dispatch

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
	"github.com/google/uuid"
)

// MemorySessions keeps sessions in process memory. Used when no database is configured.
type MemorySessions struct {
	mu       sync.RWMutex
	sessions map[string]map[string]string
	updated  map[string]time.Time
	now      func() time.Time
}

// NewMemorySessions returns an empty in-memory session store.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{
		sessions: make(map[string]map[string]string),
		updated:  make(map[string]time.Time),
		now:      time.Now,
	}
}

// Load implements SessionStore.
func (m *MemorySessions) Load(_ context.Context, id string) (*pluginapi.Session, error) {
	m.mu.RLock()
	values, ok := m.sessions[id]
	m.mu.RUnlock()

	if id == "" || !ok {
		return pluginapi.NewSession(uuid.NewString()), nil
	}

	sess := pluginapi.NewSession(id)
	sess.Values = maps.Clone(values)

	return sess, nil
}

// Save implements SessionStore.
func (m *MemorySessions) Save(_ context.Context, s *pluginapi.Session) error {
	if s == nil || s.Private || !s.Dirty() {
		return nil
	}

	m.mu.Lock()
	m.sessions[s.ID] = maps.Clone(s.Values)
	m.updated[s.ID] = m.now()
	m.mu.Unlock()

	return nil
}

// Purge drops sessions not saved within maxAge.
func (m *MemorySessions) Purge(_ context.Context, maxAge time.Duration) (int64, error) {
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, at := range m.updated {
		if at.Before(cutoff) {
			delete(m.sessions, id)
			delete(m.updated, id)
			n++
		}
	}

	return n, nil
}

// Len returns the number of stored sessions.
func (m *MemorySessions) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}
