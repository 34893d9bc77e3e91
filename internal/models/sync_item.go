package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// SyncItem represents one pending mutation against a named resource collection.
type SyncItem struct {
	ID              string          `json:"id"`
	ResourceType    string          `json:"resource_type"`
	Operation       string          `json:"operation"`
	Payload         json.RawMessage `json:"payload"`
	EnqueuedAt      time.Time       `json:"enqueued_at"`
	Priority        int             `json:"priority"`
	RetryCount      int             `json:"retry_count"`
	LastRetryAt     *time.Time      `json:"last_retry_at,omitempty"`
	Status          string          `json:"status"`
	Checksum        string          `json:"checksum"`
	LastError       *string         `json:"last_error,omitempty"`
	ConflictPayload json.RawMessage `json:"conflict_payload,omitempty"`
}

// Checksum computes the content checksum stored on a SyncItem.
func Checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// QueueStatus is the read model exposed by the sync engine.
type QueueStatus struct {
	Total     int        `json:"total"`
	Pending   int        `json:"pending"`
	Syncing   int        `json:"syncing"`
	Failed    int        `json:"failed"`
	Conflicts int        `json:"conflicts"`
	OldestAt  *time.Time `json:"oldest_at,omitempty"`
}

// SyncResult aggregates the outcome of one sync pass.
type SyncResult struct {
	Success        bool     `json:"success"`
	SyncedCount    int      `json:"synced_count"`
	FailedCount    int      `json:"failed_count"`
	ConflictsCount int      `json:"conflicts_count"`
	Errors         []string `json:"errors,omitempty"`
}
