package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfflineDataKV(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	// Missing key
	val, err := db.GetValue(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, val)

	// Set and get
	require.NoError(t, db.SetValue(ctx, "staged:contexts", []byte(`[{"id":1}]`)))
	val, err = db.GetValue(ctx, "staged:contexts")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[{"id":1}]`), val)

	// Overwrite
	require.NoError(t, db.SetValue(ctx, "staged:contexts", []byte(`[]`)))
	val, _ = db.GetValue(ctx, "staged:contexts")
	assert.Equal(t, []byte(`[]`), val)

	// Delete
	require.NoError(t, db.DeleteValue(ctx, "staged:contexts"))
	val, _ = db.GetValue(ctx, "staged:contexts")
	assert.Nil(t, val)
}

func TestAuthTokens(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	// Missing token
	token, err := db.GetAuthToken(ctx, "default")
	require.NoError(t, err)
	assert.Empty(t, token)

	// Valid token
	require.NoError(t, db.SetAuthToken(ctx, "default", "bearer-abc", nil))
	token, err = db.GetAuthToken(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "bearer-abc", token)

	// Expired token reads back empty
	past := time.Now().Add(-time.Minute)
	require.NoError(t, db.SetAuthToken(ctx, "default", "bearer-old", &past))
	token, err = db.GetAuthToken(ctx, "default")
	require.NoError(t, err)
	assert.Empty(t, token)

	// Future expiry is still valid
	future := time.Now().Add(time.Hour)
	require.NoError(t, db.SetAuthToken(ctx, "default", "bearer-new", &future))
	token, _ = db.GetAuthToken(ctx, "default")
	assert.Equal(t, "bearer-new", token)
}
