package domain

import (
	"context"
	"encoding/json"
	"time"

	"relaysync/internal/models"
)

// SyncStore persists the page-side sync queue and the worker-side request queue.
type SyncStore interface {
	UpsertSyncItem(ctx context.Context, item *models.SyncItem) error
	GetSyncItems(ctx context.Context) ([]models.SyncItem, error)
	ReplaceSyncItems(ctx context.Context, items []models.SyncItem) error

	CreateQueuedRequest(ctx context.Context, req *models.QueuedRequest) error
	GetQueuedRequests(ctx context.Context) ([]models.QueuedRequest, error)
	UpdateQueuedRequestRetry(ctx context.Context, id string, retryCount int) error
	DeleteQueuedRequest(ctx context.Context, id string) error

	SetValue(ctx context.Context, key string, value []byte) error
	GetValue(ctx context.Context, key string) ([]byte, error)
	DeleteValue(ctx context.Context, key string) error

	SetAuthToken(ctx context.Context, name, token string, expiresAt *time.Time) error
	GetAuthToken(ctx context.Context, name string) (string, error)
}

// CacheRepository stores cached HTTP responses per bucket.
type CacheRepository interface {
	Get(ctx context.Context, bucket, key string) (*models.CacheEntry, error)
	Set(ctx context.Context, entry *models.CacheEntry) error
	Delete(ctx context.Context, bucket, key string) error
	Entries(ctx context.Context, bucket string) ([]models.CacheEntry, error)
	Purge(ctx context.Context, bucket string) error
}

// ConflictEntry mirrors one element of a batch response's conflicts array.
type ConflictEntry struct {
	Conflict   bool            `json:"conflict"`
	ServerData json.RawMessage `json:"serverData,omitempty"`
}

// BatchResponse is the shape shared by all batch endpoints.
type BatchResponse struct {
	Success   bool            `json:"success"`
	Conflicts []ConflictEntry `json:"conflicts,omitempty"`
}

// BatchAPI is the REST surface the sync engine drains into.
type BatchAPI interface {
	BatchCreate(ctx context.Context, collection string, items []json.RawMessage) (*BatchResponse, error)
	BatchUpdate(ctx context.Context, collection string, items []json.RawMessage) (*BatchResponse, error)
	BatchDelete(ctx context.Context, collection string, ids []string) (*BatchResponse, error)
	ResolveUpdate(ctx context.Context, collection string, payload json.RawMessage, resolution string) error
}

// Publisher is the event-bus surface components emit through.
type Publisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// ConnectivitySource exposes the latest network snapshot.
type ConnectivitySource interface {
	Online() bool
	SlowConnection() bool
}
