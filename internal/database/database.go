package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB is the durable store shared by the proxy and the sync engine. It holds
// the page-side sync queue, the worker-side offline request queue, a generic
// key/value staging area and cached auth tokens.
type DB struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return &DB{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sync_items (
            id TEXT PRIMARY KEY,
            resource_type TEXT NOT NULL,
            operation TEXT NOT NULL,
            payload TEXT NOT NULL,
            enqueued_at DATETIME NOT NULL,
            priority INTEGER NOT NULL DEFAULT 5,
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_retry_at DATETIME,
            status TEXT NOT NULL DEFAULT 'pending',
            checksum TEXT NOT NULL,
            last_error TEXT,
            conflict_payload TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS offline_requests (
            id TEXT PRIMARY KEY,
            url TEXT NOT NULL,
            method TEXT NOT NULL,
            header TEXT NOT NULL,
            body BLOB,
            enqueued_at DATETIME NOT NULL,
            retry_count INTEGER NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS offline_data (
            key TEXT PRIMARY KEY,
            value BLOB NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS auth_tokens (
            name TEXT PRIMARY KEY,
            token TEXT NOT NULL,
            expires_at DATETIME,
            updated_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_sync_items_status ON sync_items(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_items_enqueued_at ON sync_items(enqueued_at)`,
		`CREATE INDEX IF NOT EXISTS idx_offline_requests_enqueued_at ON offline_requests(enqueued_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// PingContext checks the underlying connection.
func (db *DB) PingContext(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.db.Close()
}
