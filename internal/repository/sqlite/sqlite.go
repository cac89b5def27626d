// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// The execution history is small, append-mostly and local to one server.
// An embedded database means no separate server to run next to the sandbox,
// and ":memory:" gives tests a fresh database for free.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// modernc.org/sqlite is a pure Go translation of SQLite with no CGo, so the
// binary cross-compiles and runs in a scratch container image.
package sqlite

import (
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/history.db" → file-based database (persistent)
//   - ":memory:"        → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// sql.Open is lazy; Ping surfaces a bad path or permissions now.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// ":memory:" gives every pooled connection its own database, so keep
	// exactly one connection around.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	// WAL lets the history listing read while an execution record is written.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate runs all database migrations.
//
// CREATE TABLE IF NOT EXISTS is idempotent, so this is safe on every start.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id           TEXT PRIMARY KEY,
			code_sha256  TEXT NOT NULL,
			requirements TEXT NOT NULL DEFAULT '[]',
			status       TEXT NOT NULL,
			error        TEXT NOT NULL DEFAULT '',
			duration_ns  INTEGER NOT NULL DEFAULT 0,
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating executions table: %w", err)
	}

	return nil
}
