package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/jmoiron/sqlx"
)

// Transaction errors.
var (
	ErrTxActive = errors.New("transaction already active")
	ErrNoTx     = errors.New("no active transaction")
)

// querier is the subset shared by *sqlx.Conn and *sqlx.Tx.
type querier interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
	Rebind(query string) string
}

// Conn is one pooled connection handed to a request or lifecycle operation. Queries use
// ? placeholders and are rebound for the driver. It is not safe for concurrent use.
type Conn struct {
	c  *sqlx.Conn
	tx *sqlx.Tx
}

func (c *Conn) q() querier {
	if c.tx != nil {
		return c.tx
	}

	return c.c
}

// Read scans the result into dest: all rows for a pointer to a slice, otherwise the
// first row.
func (c *Conn) Read(ctx context.Context, dest any, query string, args ...any) error {
	q := c.q()
	query = q.Rebind(query)

	if t := reflect.TypeOf(dest); t != nil && t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Slice &&
		t.Elem().Elem().Kind() != reflect.Uint8 {
		return q.SelectContext(ctx, dest, query, args...)
	}

	return q.GetContext(ctx, dest, query, args...)
}

// Execute runs a statement.
func (c *Conn) Execute(ctx context.Context, query string, args ...any) (sql.Result, error) {
	q := c.q()
	return q.ExecContext(ctx, q.Rebind(query), args...)
}

// ExecuteScalar returns the first column of the first row, or nil when there are no rows.
func (c *Conn) ExecuteScalar(ctx context.Context, query string, args ...any) (any, error) {
	q := c.q()

	var v any
	err := q.QueryRowxContext(ctx, q.Rebind(query), args...).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return v, nil
}

// Begin starts a transaction on the connection.
func (c *Conn) Begin(ctx context.Context) error {
	if c.tx != nil {
		return ErrTxActive
	}

	tx, err := c.c.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	c.tx = tx

	return nil
}

// Commit commits the active transaction.
func (c *Conn) Commit() error {
	if c.tx == nil {
		return ErrNoTx
	}
	tx := c.tx
	c.tx = nil

	return tx.Commit()
}

// Rollback aborts the active transaction.
func (c *Conn) Rollback() error {
	if c.tx == nil {
		return ErrNoTx
	}
	tx := c.tx
	c.tx = nil

	return tx.Rollback()
}

// Close rolls back any open transaction and returns the connection to the pool.
func (c *Conn) Close() error {
	if c.tx != nil {
		_ = c.Rollback()
	}

	return c.c.Close()
}
