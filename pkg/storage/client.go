// Package storage provides the SQLite-backed news store and migration
// utilities.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // Register the CGo-free sqlite driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// Store wraps the SQLite connection. It is the single writer
// contention point: SQLite serializes writes per connection, and the
// pool is capped at one open connection to keep write transactions
// exclusive.
type Store struct {
	db   *sql.DB
	path string
}

// DB returns the underlying connection for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// NewStore opens (creating if necessary) the database at path, applies
// migrations, and probes legacy schemas for the impact_degree column.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: writes must never contend inside the process.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	store := &Store{db: db, path: path}

	if err := store.ensureImpactDegreeColumn(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// runMigrations applies embedded migrations using golang-migrate.
func runMigrations(db *sql.DB) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver; m.Close() would also close the
	// shared *sql.DB via the database driver.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}

	return nil
}

// ensureImpactDegreeColumn adds impact_degree to stores created before
// the column existed. This probe is the only supported in-place schema
// repair; any other drift surfaces as a query error to the caller.
func (s *Store) ensureImpactDegreeColumn(ctx context.Context) error {
	var probe sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT impact_degree FROM news_items LIMIT 1").Scan(&probe)
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if !strings.Contains(err.Error(), "impact_degree") {
		return fmt.Errorf("failed to probe impact_degree column: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "ALTER TABLE news_items ADD COLUMN impact_degree TEXT"); err != nil {
		return fmt.Errorf("failed to add impact_degree column: %w", err)
	}
	return nil
}
