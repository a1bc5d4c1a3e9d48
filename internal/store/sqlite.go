// Package store provides the SQLite-backed record store: owner documents,
// item-like records with typed flag metadata, catalog folders, per-category
// resource pools, and container category assignments.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS owners (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS pools (
	owner_id TEXT NOT NULL,
	category INTEGER NOT NULL,
	amount   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (owner_id, category)
);

CREATE TABLE IF NOT EXISTS records (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	kind         TEXT NOT NULL DEFAULT '',
	owner_id     TEXT,
	container_id TEXT,
	folder_id    TEXT,
	category     INTEGER,
	source_ref   TEXT,
	origin_ref   TEXT,
	temporary    INTEGER NOT NULL DEFAULT 0,
	image        TEXT NOT NULL DEFAULT '',
	extra        TEXT NOT NULL DEFAULT '{}',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_records_owner     ON records(owner_id);
CREATE INDEX IF NOT EXISTS idx_records_container ON records(container_id);
CREATE INDEX IF NOT EXISTS idx_records_folder    ON records(folder_id);
CREATE INDEX IF NOT EXISTS idx_records_source    ON records(source_ref);

CREATE TABLE IF NOT EXISTS folders (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	parent_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders(parent_id);

CREATE TABLE IF NOT EXISTS assignments (
	container_id TEXT NOT NULL,
	record_id    TEXT NOT NULL,
	record_name  TEXT NOT NULL,
	category     INTEGER NOT NULL,
	PRIMARY KEY (container_id, record_id)
);

CREATE INDEX IF NOT EXISTS idx_assignments_name ON assignments(container_id, record_name);
`

// DB wraps a sql.DB with record-store operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
