package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang-migrate/migrate/v4/database"
)

// migrateDriver adapts golang-migrate's database.Driver interface to a
// plain *sql.DB opened against the ncruces pure-Go SQLite engine.
// golang-migrate ships a "sqlite3" database driver, but it imports
// mattn/go-sqlite3 directly to classify driver-specific errors, which
// would pull a cgo dependency back into an otherwise pure-Go binary.
// This adapter only needs raw SQL execution and a version table, so it
// reimplements that much of the interface itself rather than taking on
// the cgo driver.
type migrateDriver struct {
	db *sql.DB
	mu sync.Mutex
}

func newMigrateDriver(db *sql.DB) (*migrateDriver, error) {
	d := &migrateDriver{db: db}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL PRIMARY KEY, dirty INTEGER NOT NULL)`); err != nil {
		return nil, fmt.Errorf("creating schema_migrations table: %w", err)
	}
	return d, nil
}

// Open is part of database.Driver but is never called on this instance:
// runMigrations constructs migrateDriver directly and hands it to
// migrate.NewWithInstance, which bypasses URL-based Open.
func (d *migrateDriver) Open(url string) (database.Driver, error) {
	return nil, fmt.Errorf("sqlite: migrateDriver.Open is not supported; construct via newMigrateDriver")
}

// Close is a no-op: the *sql.DB connection is owned by the DB struct.
func (d *migrateDriver) Close() error {
	return nil
}

func (d *migrateDriver) Lock() error {
	d.mu.Lock()
	return nil
}

func (d *migrateDriver) Unlock() error {
	d.mu.Unlock()
	return nil
}

func (d *migrateDriver) Run(migration io.Reader) error {
	stmt, err := io.ReadAll(migration)
	if err != nil {
		return fmt.Errorf("reading migration: %w", err)
	}
	if _, err := d.db.Exec(string(stmt)); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}
	return nil
}

func (d *migrateDriver) SetVersion(version int, dirty bool) error {
	if _, err := d.db.Exec(`DELETE FROM schema_migrations`); err != nil {
		return err
	}
	if version < 0 {
		return nil
	}
	_, err := d.db.Exec(`INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)`, version, dirty)
	return err
}

func (d *migrateDriver) Version() (int, bool, error) {
	var version int
	var dirty bool
	err := d.db.QueryRow(`SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return database.NilVersion, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return version, dirty, nil
}

func (d *migrateDriver) Drop() error {
	rows, err := d.db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return err
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return err
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, name := range tables {
		if _, err := d.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, name)); err != nil {
			return err
		}
	}
	return nil
}

var _ database.Driver = (*migrateDriver)(nil)
