// Package storage implements the persistence collaborator: pooled connections handed to
// plugins, plugin lifecycle state and client sessions.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // sqlite driver
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrUnknownDriver is returned for drivers other than sqlite and postgres.
var ErrUnknownDriver = errors.New("unknown database driver")

// DB is the shared connection pool.
type DB struct {
	x   *sqlx.DB
	log zerolog.Logger
}

// Open connects to the database, verifies the connection and applies migrations.
func Open(ctx context.Context, driver, dsn string, logger zerolog.Logger) (*DB, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	x, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := x.PingContext(ctx); err != nil {
		_ = x.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	db := NewDB(x.DB, driver, logger)
	if err := db.Migrate(ctx); err != nil {
		_ = x.Close()
		return nil, err
	}

	logger.Info().
		Str("event", "database_opened").
		Str("driver", driver).
		Msg("database ready")

	return db, nil
}

// NewDB wraps an already opened pool.
func NewDB(db *sql.DB, driver string, logger zerolog.Logger) *DB {
	return &DB{x: sqlx.NewDb(db, driver), log: logger}
}

// Migrate applies the embedded schema migrations.
func (d *DB) Migrate(ctx context.Context) error {
	return ApplyMigrations(ctx, d.x, migrationFS, "migrations")
}

// Acquire returns a dedicated connection from the pool.
func (d *DB) Acquire(ctx context.Context) (*Conn, error) {
	c, err := d.x.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	return &Conn{c: c}, nil
}

// Close closes the pool.
func (d *DB) Close() error {
	return d.x.Close()
}
