package database

import (
	"context"
	"testing"
	"time"

	"relaysync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncItemsCRUD(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	item := &models.SyncItem{
		ID:           "item-1",
		ResourceType: "contexts",
		Operation:    models.OpCreate,
		Payload:      []byte(`{"name":"kb"}`),
		Priority:     models.PriorityDefault,
		Status:       models.StatusPending,
		Checksum:     models.Checksum([]byte(`{"name":"kb"}`)),
	}

	// Create
	err := db.UpsertSyncItem(ctx, item)
	require.NoError(t, err)
	assert.False(t, item.EnqueuedAt.IsZero())

	// Read
	items, err := db.GetSyncItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "contexts", items[0].ResourceType)
	assert.JSONEq(t, `{"name":"kb"}`, string(items[0].Payload))
	assert.Nil(t, items[0].ConflictPayload)

	// Upsert overwrites, never duplicates ids
	item.Status = models.StatusSyncing
	require.NoError(t, db.UpsertSyncItem(ctx, item))
	items, err = db.GetSyncItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.StatusSyncing, items[0].Status)

	// Upsert carries failure bookkeeping through
	errMsg := "boom"
	retryAt := time.Now()
	item.Status = models.StatusFailed
	item.RetryCount = 1
	item.LastRetryAt = &retryAt
	item.LastError = &errMsg
	require.NoError(t, db.UpsertSyncItem(ctx, item))
	items, _ = db.GetSyncItems(ctx)
	require.Len(t, items, 1)
	assert.Equal(t, models.StatusFailed, items[0].Status)
	assert.Equal(t, 1, items[0].RetryCount)
	require.NotNil(t, items[0].LastError)
	assert.Equal(t, "boom", *items[0].LastError)
	assert.NotNil(t, items[0].LastRetryAt)

	// Delete via full rewrite
	require.NoError(t, db.ReplaceSyncItems(ctx, nil))
	items, _ = db.GetSyncItems(ctx)
	assert.Len(t, items, 0)
}

func TestSyncItemsConflictPayload(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	item := &models.SyncItem{
		ID:              "item-2",
		ResourceType:    "messages",
		Operation:       models.OpUpdate,
		Payload:         []byte(`{"text":"local"}`),
		Priority:        3,
		Status:          models.StatusConflict,
		Checksum:        models.Checksum([]byte(`{"text":"local"}`)),
		ConflictPayload: []byte(`{"text":"server"}`),
	}
	require.NoError(t, db.UpsertSyncItem(ctx, item))

	items, err := db.GetSyncItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.JSONEq(t, `{"text":"server"}`, string(items[0].ConflictPayload))
}

func TestReplaceSyncItems(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.UpsertSyncItem(ctx, &models.SyncItem{
			ID:           id,
			ResourceType: "sessions",
			Operation:    models.OpCreate,
			Payload:      []byte(`{}`),
			Status:       models.StatusPending,
			Checksum:     models.Checksum([]byte(`{}`)),
		}))
	}

	now := time.Now()
	replacement := []models.SyncItem{
		{
			ID:           "d",
			ResourceType: "documents",
			Operation:    models.OpDelete,
			Payload:      []byte(`{"id":"d"}`),
			EnqueuedAt:   now,
			Priority:     9,
			Status:       models.StatusPending,
			Checksum:     models.Checksum([]byte(`{"id":"d"}`)),
		},
	}
	require.NoError(t, db.ReplaceSyncItems(ctx, replacement))

	items, err := db.GetSyncItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "d", items[0].ID)
	assert.Equal(t, 9, items[0].Priority)
}
