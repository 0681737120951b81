// Package sqlite is the SQLite-backed implementation of the decision
// ledger and worker session index: a durable audit trail of every
// Decision and terminal WorkerSession outcome, queryable after a run
// completes. It opens the database via the ncruces pure-Go SQLite
// engine and runs schema migrations through golang-migrate.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/foreflux/conductor/internal/sessions/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a SQLite connection and exposes repository constructors over
// it.
type DB struct {
	conn *sql.DB
}

// NewDB opens (creating if necessary) the database at path, applying WAL
// mode, foreign keys, and a 5s busy timeout, then runs pending schema
// migrations. If a database file already exists at path, it is backed up
// to path+".bak" before migrations run.
func NewDB(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		if err := backupFile(path); err != nil {
			return nil, fmt.Errorf("backing up existing database: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}

	if err := runMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

func backupFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return os.WriteFile(path+".bak", data, 0o600)
}

func runMigrations(conn *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	driver, err := newMigrateDriver(conn)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("constructing migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Connection returns the underlying *sql.DB, for callers that need raw
// access (migrations, diagnostics).
func (db *DB) Connection() *sql.DB {
	return db.conn
}

// SessionRepository returns a domain.WorkerSessionRepository backed by
// this connection.
func (db *DB) SessionRepository() domain.WorkerSessionRepository {
	return newSessionRepository(db.conn)
}

// DecisionRepository returns a domain.DecisionRepository backed by this
// connection.
func (db *DB) DecisionRepository() domain.DecisionRepository {
	return newDecisionRepository(db.conn)
}
