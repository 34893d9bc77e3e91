package database

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"relaysync/internal/models"
)

func (db *DB) CreateQueuedRequest(ctx context.Context, req *models.QueuedRequest) error {
	header, err := json.Marshal(req.Header)
	if err != nil {
		return fmt.Errorf("failed to encode request header: %w", err)
	}

	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now()
	}

	query := `INSERT INTO offline_requests (id, url, method, header, body, enqueued_at, retry_count)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = db.db.ExecContext(ctx, query,
		req.ID,
		req.URL,
		req.Method,
		string(header),
		req.Body,
		req.EnqueuedAt,
		req.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("failed to create queued request: %w", err)
	}
	return nil
}

// GetQueuedRequests returns captured requests in enqueue order.
func (db *DB) GetQueuedRequests(ctx context.Context) ([]models.QueuedRequest, error) {
	query := `SELECT id, url, method, header, body, enqueued_at, retry_count
              FROM offline_requests ORDER BY enqueued_at ASC`

	rows, err := db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get queued requests: %w", err)
	}
	defer rows.Close()

	var requests []models.QueuedRequest
	for rows.Next() {
		var req models.QueuedRequest
		var header string
		err := rows.Scan(&req.ID, &req.URL, &req.Method, &header, &req.Body, &req.EnqueuedAt, &req.RetryCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queued request: %w", err)
		}
		if header != "" {
			var h http.Header
			if err := json.Unmarshal([]byte(header), &h); err != nil {
				return nil, fmt.Errorf("failed to decode request header: %w", err)
			}
			req.Header = h
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queued requests: %w", err)
	}
	return requests, nil
}

func (db *DB) UpdateQueuedRequestRetry(ctx context.Context, id string, retryCount int) error {
	query := `UPDATE offline_requests SET retry_count = ? WHERE id = ?`
	if _, err := db.db.ExecContext(ctx, query, retryCount, id); err != nil {
		return fmt.Errorf("failed to update queued request retry: %w", err)
	}
	return nil
}

func (db *DB) DeleteQueuedRequest(ctx context.Context, id string) error {
	query := `DELETE FROM offline_requests WHERE id = ?`
	if _, err := db.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete queued request: %w", err)
	}
	return nil
}
