package database

import (
	"context"
	"fmt"
	"time"

	"relaysync/internal/models"
)

func (db *DB) UpsertSyncItem(ctx context.Context, item *models.SyncItem) error {
	query := `INSERT INTO sync_items (id, resource_type, operation, payload, enqueued_at, priority, retry_count, last_retry_at, status, checksum, last_error, conflict_payload)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  payload = excluded.payload,
                  priority = excluded.priority,
                  retry_count = excluded.retry_count,
                  last_retry_at = excluded.last_retry_at,
                  status = excluded.status,
                  checksum = excluded.checksum,
                  last_error = excluded.last_error,
                  conflict_payload = excluded.conflict_payload`

	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}

	_, err := db.db.ExecContext(ctx, query,
		item.ID,
		item.ResourceType,
		item.Operation,
		string(item.Payload),
		item.EnqueuedAt,
		item.Priority,
		item.RetryCount,
		item.LastRetryAt,
		item.Status,
		item.Checksum,
		item.LastError,
		nullableRaw(item.ConflictPayload),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sync item: %w", err)
	}
	return nil
}

func (db *DB) GetSyncItems(ctx context.Context) ([]models.SyncItem, error) {
	query := `SELECT id, resource_type, operation, payload, enqueued_at, priority, retry_count, last_retry_at, status, checksum, last_error, conflict_payload
              FROM sync_items ORDER BY enqueued_at ASC`

	rows, err := db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync items: %w", err)
	}
	defer rows.Close()

	var items []models.SyncItem
	for rows.Next() {
		item, err := scanSyncItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync items: %w", err)
	}
	return items, nil
}

// ReplaceSyncItems rewrites the whole persisted queue in one transaction.
// Used by the engine's debounced durable mirror.
func (db *DB) ReplaceSyncItems(ctx context.Context, items []models.SyncItem) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_items`); err != nil {
		return fmt.Errorf("failed to clear sync items: %w", err)
	}

	query := `INSERT INTO sync_items (id, resource_type, operation, payload, enqueued_at, priority, retry_count, last_retry_at, status, checksum, last_error, conflict_payload)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for i := range items {
		item := &items[i]
		_, err := tx.ExecContext(ctx, query,
			item.ID,
			item.ResourceType,
			item.Operation,
			string(item.Payload),
			item.EnqueuedAt,
			item.Priority,
			item.RetryCount,
			item.LastRetryAt,
			item.Status,
			item.Checksum,
			item.LastError,
			nullableRaw(item.ConflictPayload),
		)
		if err != nil {
			return fmt.Errorf("failed to insert sync item %s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sync items: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSyncItem(row rowScanner) (models.SyncItem, error) {
	var item models.SyncItem
	var payload string
	var conflictPayload *string

	err := row.Scan(
		&item.ID,
		&item.ResourceType,
		&item.Operation,
		&payload,
		&item.EnqueuedAt,
		&item.Priority,
		&item.RetryCount,
		&item.LastRetryAt,
		&item.Status,
		&item.Checksum,
		&item.LastError,
		&conflictPayload,
	)
	if err != nil {
		return item, fmt.Errorf("failed to scan sync item: %w", err)
	}

	item.Payload = []byte(payload)
	if conflictPayload != nil {
		item.ConflictPayload = []byte(*conflictPayload)
	}
	return item, nil
}

func nullableRaw(raw []byte) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}
