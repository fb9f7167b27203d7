package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/yourusername/trio-odds/internal/config"
)

// SQLiteDB wraps a database/sql handle opened with the modernc.org/sqlite driver
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens the SQLite file named in the configuration, creating its directory
func NewSQLiteDB(ctx context.Context, cfg *config.DatabaseConfig) (*SQLiteDB, error) {
	if dir := filepath.Dir(cfg.SQLitePath); cfg.SQLitePath != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return OpenSQLite(ctx, cfg.DSN())
}

// OpenSQLite opens a SQLite database from a DSN such as "file::memory:"
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// a single connection keeps writes serialized and lets in-memory databases persist
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// Driver returns the driver name
func (s *SQLiteDB) Driver() string {
	return config.DriverSQLite
}

// Ping verifies database connectivity
func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// EnsureSchema creates missing tables and indexes
func (s *SQLiteDB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// WithTransaction runs fn in a transaction, rolling back if fn returns an error
func (s *SQLiteDB) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %w", err, rollbackErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Conn returns the underlying handle
func (s *SQLiteDB) Conn() *sql.DB {
	return s.db
}
