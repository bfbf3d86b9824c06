package database

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Database represents the database connection and operations
type Database struct {
	DB *sql.DB
}

// New creates a new Database instance
func New(ctx context.Context, dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	// Verify connection
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{DB: db}, nil
}

// Init creates the required tables if they don't exist
func (d *Database) Init(ctx context.Context) error {
	createTables := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		unit_start INTEGER NOT NULL,
		unit_end INTEGER NOT NULL,
		units INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS view_stats (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		view_id INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		successes INTEGER NOT NULL,
		failures INTEGER NOT NULL,
		timeouts INTEGER NOT NULL,
		errors INTEGER NOT NULL,
		degraded BOOLEAN NOT NULL,
		dead BOOLEAN NOT NULL,
		moved BOOLEAN NOT NULL,
		PRIMARY KEY (session_id, view_id)
	);
	`

	_, err := d.DB.ExecContext(ctx, createTables)
	return err
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}

// BeginTransaction starts a new database transaction
func (d *Database) BeginTransaction(ctx context.Context) (*sql.Tx, error) {
	return d.DB.BeginTx(ctx, nil)
}
