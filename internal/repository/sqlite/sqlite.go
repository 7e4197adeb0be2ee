// Package sqlite implements the repository interfaces on an embedded SQLite
// database. It is the default backend for local development and for
// single-node deployments that do not use Supabase.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler installed and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of the SQLite C code.
//
// TABLES:
//
//	users       one row per participant (columns mirror the Supabase table)
//	messages    direct messages, indexed for conversation lookups
//	identities  credentials for the embedded auth provider (password / Google)
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/starhunters/internal/apperror"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/starhunters.db" → file-based database (persistent)
//   - ":memory:"            → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every pooled connection to ":memory:" is its own empty database.
	// Pin the pool to one connection so all callers see the same tables.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL mode allows concurrent readers while a write is in progress.
	// The refresh loop reads constantly while users send messages.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite. messages → users relies on them.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := wrap(conn)

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// wrap builds a DB around an existing pool without running migrations.
// Tests use it with go-sqlmock.
func wrap(conn *sql.DB) *DB {
	return &DB{
		conn: conn,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable. Used by the health endpoint.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// migrate creates the schema. Every statement is idempotent, so it runs on
// every start.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			auth_user_id TEXT UNIQUE,
			name         TEXT NOT NULL DEFAULT '',
			age          INTEGER NOT NULL DEFAULT 0,
			gender       TEXT NOT NULL DEFAULT '',
			email        TEXT NOT NULL DEFAULT '',
			orientation  TEXT NOT NULL DEFAULT '',
			stars        INTEGER NOT NULL DEFAULT 0 CHECK (stars >= 0),
			level        TEXT NOT NULL DEFAULT 'Bronce',
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
		CREATE INDEX IF NOT EXISTS idx_users_stars ON users(stars DESC);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// Profile columns added with the profile editor.
	for _, col := range []struct{ name, def string }{
		{"profile_photo_url", "TEXT NOT NULL DEFAULT ''"},
		{"bio", "TEXT NOT NULL DEFAULT ''"},
		{"visible_on_map", "INTEGER NOT NULL DEFAULT 0"},
	} {
		if err := db.addColumnIfNotExists("users", col.name, col.def); err != nil {
			return fmt.Errorf("adding %s to users: %w", col.name, err)
		}
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id           TEXT PRIMARY KEY,
			sender_id    TEXT NOT NULL REFERENCES users(id),
			recipient_id TEXT NOT NULL REFERENCES users(id),
			content      TEXT NOT NULL,
			read         INTEGER NOT NULL DEFAULT 0,
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_messages_pair
			ON messages(sender_id, recipient_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating messages table: %w", err)
	}

	// google_sub is NULL for password-only identities; UNIQUE ignores NULLs.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS identities (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			google_sub    TEXT UNIQUE,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating identities table: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// Makes ALTER TABLE migrations idempotent, so they can run on every start.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

// constraintError maps SQLite constraint failures onto domain errors.
// The driver only exposes them through the message text.
func constraintError(err error, resource, key string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return apperror.Conflict(resource, key)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return apperror.ValidationFailed("", "unknown user")
	case strings.Contains(msg, "CHECK constraint failed"):
		return apperror.ValidationFailed("", "value out of range")
	}
	return nil
}

// nullable turns "" into NULL so UNIQUE columns accept many empty values.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
