package models

import "time"

const (
	StatusPending  = "pending"
	StatusSyncing  = "syncing"
	StatusSynced   = "synced"
	StatusFailed   = "failed"
	StatusConflict = "conflict"
)

const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

const (
	// PriorityMin and PriorityMax bound SyncItem.Priority.
	PriorityMin     = 1
	PriorityMax     = 10
	PriorityDefault = 5
)

const (
	BucketStatic  = "static"
	BucketAPI     = "api"
	BucketRuntime = "runtime"
)

const (
	// Per-bucket freshness windows for cached responses.
	StaticCacheTTL  = 7 * 24 * time.Hour
	APICacheTTL     = 30 * time.Minute
	RuntimeCacheTTL = 24 * time.Hour

	// BucketByteBudget caps a single cache bucket before largest-first eviction.
	BucketByteBudget = 50 * 1024 * 1024
)

const (
	// DefaultBatchSize items per sync batch
	DefaultBatchSize = 10

	// ReplayRetryCeiling replay attempts before a queued request is dropped
	ReplayRetryCeiling = 4

	// DefaultSyncInterval periodic sync tick
	DefaultSyncInterval = 30 * time.Second

	// ReconnectSettleDelay wait after reconnect before auto-sync
	ReconnectSettleDelay = 2 * time.Second

	// SlowBatchDelay pause between batches on a constrained link
	SlowBatchDelay = time.Second

	// SlowDownlinkMbps threshold below which a link counts as slow
	SlowDownlinkMbps = 1.5
)

// ValidOperation reports whether op is a recognized mutation kind.
func ValidOperation(op string) bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// ClampPriority forces a priority into the valid range, zero meaning default.
func ClampPriority(p int) int {
	if p == 0 {
		return PriorityDefault
	}
	if p < PriorityMin {
		return PriorityMin
	}
	if p > PriorityMax {
		return PriorityMax
	}
	return p
}
