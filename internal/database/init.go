// Package database opens the configured storage backend.
package database

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/trio-odds/internal/config"
)

// Conn is an open storage backend
type Conn interface {
	Driver() string
	Ping(ctx context.Context) error
	EnsureSchema(ctx context.Context) error
	Close() error
}

// Initialize opens the database selected by cfg.Database.Driver and ensures its schema exists
func Initialize(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (Conn, error) {
	var (
		conn Conn
		err  error
	)
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		conn, err = NewDB(ctx, &cfg.Database)
	case config.DriverSQLite:
		conn, err = NewSQLiteDB(ctx, &cfg.Database)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := conn.EnsureSchema(ctx); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			return nil, fmt.Errorf("%w (close failed: %v)", err, closeErr)
		}
		return nil, err
	}

	if logger != nil {
		logger.WithField("driver", conn.Driver()).Info("Database initialized")
	}
	return conn, nil
}
