package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
	"github.com/google/uuid"
)

// SessionStore persists client sessions in the sessions table.
type SessionStore struct {
	db  *DB
	now func() time.Time
}

// NewSessionStore returns a SessionStore backed by db.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

// Load returns the session with id, or a fresh session when id is empty or unknown.
// Fresh sessions get a new identifier.
func (s *SessionStore) Load(ctx context.Context, id string) (*pluginapi.Session, error) {
	if id == "" {
		return pluginapi.NewSession(uuid.NewString()), nil
	}

	var data string
	err := s.db.x.GetContext(ctx, &data, s.db.x.Rebind("SELECT data FROM sessions WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return pluginapi.NewSession(uuid.NewString()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	sess := pluginapi.NewSession(id)
	if err := json.Unmarshal([]byte(data), &sess.Values); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}

	return sess, nil
}

// Save writes the session unless it is private or unchanged.
func (s *SessionStore) Save(ctx context.Context, sess *pluginapi.Session) error {
	if sess == nil || sess.Private || !sess.Dirty() {
		return nil
	}

	data, err := json.Marshal(sess.Values)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	_, err = s.db.x.ExecContext(ctx, s.db.x.Rebind(`
INSERT INTO sessions (id, data, updated_at) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`),
		sess.ID, string(data), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return nil
}

// Delete removes a session.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.x.ExecContext(ctx, s.db.x.Rebind("DELETE FROM sessions WHERE id = ?"), id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	return nil
}

// Purge deletes sessions not updated within maxAge and returns how many were removed.
func (s *SessionStore) Purge(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxAge).UnixMilli()

	res, err := s.db.x.ExecContext(ctx, s.db.x.Rebind("DELETE FROM sessions WHERE updated_at < ?"), cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}

	return res.RowsAffected()
}
