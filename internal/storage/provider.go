package storage

import (
	"context"

	"github.com/andrei-cloud/go_pluginhost/internal/plugins"
)

// Provider adapts DB to plugins.ConnProvider.
type Provider struct {
	DB *DB
}

// Acquire implements plugins.ConnProvider.
func (p Provider) Acquire(ctx context.Context) (plugins.Conn, error) {
	c, err := p.DB.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	return c, nil
}
