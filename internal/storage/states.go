package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/andrei-cloud/go_pluginhost/internal/plugins"
	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
)

// StateStore persists plugin lifecycle state in the plugin_states table.
type StateStore struct {
	db  *DB
	now func() time.Time
}

// NewStateStore returns a StateStore backed by db.
func NewStateStore(db *DB) *StateStore {
	return &StateStore{db: db, now: time.Now}
}

type stateRow struct {
	ID        string `db:"id"`
	Title     string `db:"title"`
	Version   string `db:"version"`
	System    int    `db:"system"`
	State     string `db:"state"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r stateRow) entry() (plugins.StateEntry, error) {
	id, err := pluginapi.ParseID(r.ID)
	if err != nil {
		return plugins.StateEntry{}, fmt.Errorf("plugin_states %q: %w", r.ID, err)
	}
	st, err := plugins.ParseState(r.State)
	if err != nil {
		return plugins.StateEntry{}, err
	}

	return plugins.StateEntry{
		ID:      id,
		Title:   r.Title,
		Version: r.Version,
		System:  r.System != 0,
		State:   st,
	}, nil
}

const stateColumns = "id, title, version, system, state, updated_at"

// GetState implements plugins.StateStore.
func (s *StateStore) GetState(ctx context.Context, id pluginapi.ID) (plugins.StateEntry, bool, error) {
	var row stateRow
	err := s.db.x.GetContext(ctx, &row,
		s.db.x.Rebind("SELECT "+stateColumns+" FROM plugin_states WHERE id = ?"), id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return plugins.StateEntry{}, false, nil
	}
	if err != nil {
		return plugins.StateEntry{}, false, fmt.Errorf("get plugin state: %w", err)
	}

	e, err := row.entry()
	if err != nil {
		return plugins.StateEntry{}, false, err
	}

	return e, true, nil
}

// PutState implements plugins.StateStore.
func (s *StateStore) PutState(ctx context.Context, e plugins.StateEntry) error {
	system := 0
	if e.System {
		system = 1
	}

	_, err := s.db.x.ExecContext(ctx, s.db.x.Rebind(`
INSERT INTO plugin_states (`+stateColumns+`) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    title = excluded.title,
    version = excluded.version,
    system = excluded.system,
    state = excluded.state,
    updated_at = excluded.updated_at`),
		e.ID.String(), e.Title, e.Version, system, e.State.String(), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put plugin state: %w", err)
	}

	return nil
}

// DeleteState implements plugins.StateStore.
func (s *StateStore) DeleteState(ctx context.Context, id pluginapi.ID) error {
	_, err := s.db.x.ExecContext(ctx, s.db.x.Rebind("DELETE FROM plugin_states WHERE id = ?"), id.String())
	if err != nil {
		return fmt.Errorf("delete plugin state: %w", err)
	}

	return nil
}

// ListStates implements plugins.StateStore.
func (s *StateStore) ListStates(ctx context.Context) ([]plugins.StateEntry, error) {
	var rows []stateRow
	if err := s.db.x.SelectContext(ctx, &rows, "SELECT "+stateColumns+" FROM plugin_states ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list plugin states: %w", err)
	}

	out := make([]plugins.StateEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}

	return out, nil
}
