// Package db provides the SQLite connection and schema for huestream.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	dsn := dbPath + "?_journal_mode=WAL"
	if dbPath == ":memory:" {
		dsn = dbPath
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Stream ledger - append-only history of session lifecycle and failures
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS stream_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			session_id TEXT,
			group_id TEXT,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_stream_ledger_type_ts ON stream_ledger(event_type, timestamp);
		CREATE INDEX IF NOT EXISTS idx_stream_ledger_session ON stream_ledger(session_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create stream_ledger table: %w", err)
	}

	// Bridge credentials - application key and PSK per bridge address
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS bridge_credentials (
			bridge TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			client_key TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create bridge_credentials table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
