// Package syncdb is the SQLite implementation of the store ports: the
// sync event log and the device registry in one database file.
package syncdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/nolan/converse/internal/store"
)

// DB wraps the database connection and implements store.EventStore and
// store.DeviceStore.
type DB struct {
	conn  *sql.DB
	path  string
	clock store.Clock
	ids   store.IDGen
}

// Open opens the database at path and runs any pending migrations. The
// file and its directory are created if missing.
func Open(dbPath string, clock store.Clock, ids store.IDGen) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")
	conn.Exec("PRAGMA foreign_keys=ON")

	db, err := NewWithConn(conn, clock, ids)
	if err != nil {
		conn.Close()
		return nil, err
	}
	db.path = dbPath
	return db, nil
}

// NewWithConn initializes the schema on an existing connection. Used
// by tests with in-memory databases.
func NewWithConn(conn *sql.DB, clock store.Clock, ids store.IDGen) (*DB, error) {
	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	db := &DB{conn: conn, clock: clock, ids: ids}
	if _, err := db.RunMigrations(); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Ping checks the database connection is alive.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return db.conn.Close()
}

// RunMigrations runs any pending migrations and returns how many ran.
func (db *DB) RunMigrations() (int, error) {
	currentVersion := db.getSchemaVersion()

	if currentVersion >= SchemaVersion {
		return 0, nil
	}

	migrationsRun := 0
	for _, m := range Migrations {
		if m.Version > currentVersion {
			if _, err := db.conn.Exec(m.SQL); err != nil {
				return migrationsRun, fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
			}
			if err := db.setSchemaVersion(m.Version); err != nil {
				return migrationsRun, fmt.Errorf("set version %d: %w", m.Version, err)
			}
			migrationsRun++
		}
	}

	// Set to current version if fresh DB
	if currentVersion == 0 {
		if err := db.setSchemaVersion(SchemaVersion); err != nil {
			return migrationsRun, err
		}
	}

	return migrationsRun, nil
}

func (db *DB) getSchemaVersion() int {
	var version string
	err := db.conn.QueryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&version)
	if err != nil {
		return 0
	}
	var v int
	fmt.Sscanf(version, "%d", &v)
	return v
}

func (db *DB) setSchemaVersion(version int) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		fmt.Sprintf("%d", version))
	return err
}
