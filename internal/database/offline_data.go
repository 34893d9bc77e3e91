package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetValue stores a blob in the offline_data key/value staging area.
func (db *DB) SetValue(ctx context.Context, key string, value []byte) error {
	query := `INSERT INTO offline_data (key, value, updated_at) VALUES (?, ?, ?)
              ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := db.db.ExecContext(ctx, query, key, value, time.Now()); err != nil {
		return fmt.Errorf("failed to set value for %s: %w", key, err)
	}
	return nil
}

// GetValue returns the stored blob, or nil when the key is absent.
func (db *DB) GetValue(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT value FROM offline_data WHERE key = ?`

	var value []byte
	err := db.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get value for %s: %w", key, err)
	}
	return value, nil
}

func (db *DB) DeleteValue(ctx context.Context, key string) error {
	query := `DELETE FROM offline_data WHERE key = ?`
	if _, err := db.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete value for %s: %w", key, err)
	}
	return nil
}

// SetAuthToken caches a bearer token so worker-initiated replay can authenticate.
func (db *DB) SetAuthToken(ctx context.Context, name, token string, expiresAt *time.Time) error {
	query := `INSERT INTO auth_tokens (name, token, expires_at, updated_at) VALUES (?, ?, ?, ?)
              ON CONFLICT(name) DO UPDATE SET token = excluded.token, expires_at = excluded.expires_at, updated_at = excluded.updated_at`
	if _, err := db.db.ExecContext(ctx, query, name, token, expiresAt, time.Now()); err != nil {
		return fmt.Errorf("failed to set auth token %s: %w", name, err)
	}
	return nil
}

// GetAuthToken returns the cached token, or empty string when missing or expired.
func (db *DB) GetAuthToken(ctx context.Context, name string) (string, error) {
	query := `SELECT token, expires_at FROM auth_tokens WHERE name = ?`

	var token string
	var expiresAt *time.Time
	err := db.db.QueryRowContext(ctx, query, name).Scan(&token, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get auth token %s: %w", name, err)
	}

	if expiresAt != nil && time.Now().After(*expiresAt) {
		return "", nil
	}
	return token, nil
}
