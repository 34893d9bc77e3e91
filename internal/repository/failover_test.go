package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"relaysync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenCacheRepository struct {
	calls int
}

func (b *brokenCacheRepository) Get(ctx context.Context, bucket, key string) (*models.CacheEntry, error) {
	b.calls++
	return nil, errors.New("primary down")
}

func (b *brokenCacheRepository) Set(ctx context.Context, entry *models.CacheEntry) error {
	b.calls++
	return errors.New("primary down")
}

func (b *brokenCacheRepository) Delete(ctx context.Context, bucket, key string) error {
	b.calls++
	return errors.New("primary down")
}

func (b *brokenCacheRepository) Entries(ctx context.Context, bucket string) ([]models.CacheEntry, error) {
	b.calls++
	return nil, errors.New("primary down")
}

func (b *brokenCacheRepository) Purge(ctx context.Context, bucket string) error {
	b.calls++
	return errors.New("primary down")
}

func TestFailoverFallsBackOnPrimaryError(t *testing.T) {
	logger := zerolog.New(os.Stdout)
	primary := &brokenCacheRepository{}
	fallback := NewMemoryCacheRepository()
	repo := NewFailoverCacheRepository(primary, fallback, &logger)

	ctx := context.Background()
	entry := &models.CacheEntry{
		Key:        "/api/contexts",
		Bucket:     models.BucketAPI,
		StatusCode: 200,
		Body:       []byte(`[]`),
		CachedAt:   time.Now(),
	}

	// First call trips the breaker and lands in the fallback.
	require.NoError(t, repo.Set(ctx, entry))

	got, err := repo.Get(ctx, models.BucketAPI, entry.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.Body, got.Body)

	// Primary is not retried inside the recovery window.
	callsAfterTrip := primary.calls
	_, _ = repo.Get(ctx, models.BucketAPI, entry.Key)
	assert.Equal(t, callsAfterTrip, primary.calls)
}

func TestFailoverRecoversAfterWindow(t *testing.T) {
	logger := zerolog.New(os.Stdout)
	primary := NewMemoryCacheRepository()
	fallback := NewMemoryCacheRepository()
	repo := NewFailoverCacheRepository(primary, fallback, &logger)

	// Force the down state with an expired recovery window.
	repo.isDown.Store(true)
	repo.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())

	ctx := context.Background()
	entry := &models.CacheEntry{Key: "/static/app.js", Bucket: models.BucketStatic, StatusCode: 200, CachedAt: time.Now()}
	require.NoError(t, primary.Set(ctx, entry))

	got, err := repo.Get(ctx, models.BucketStatic, entry.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, repo.isDown.Load())
}

func TestFailoverUsesPrimaryWhenHealthy(t *testing.T) {
	logger := zerolog.New(os.Stdout)
	primary := NewMemoryCacheRepository()
	fallback := NewMemoryCacheRepository()
	repo := NewFailoverCacheRepository(primary, fallback, &logger)

	ctx := context.Background()
	entry := &models.CacheEntry{Key: "/api/messages", Bucket: models.BucketAPI, StatusCode: 200, CachedAt: time.Now()}
	require.NoError(t, repo.Set(ctx, entry))

	// Written through the primary, not the fallback.
	fromPrimary, _ := primary.Get(ctx, models.BucketAPI, entry.Key)
	fromFallback, _ := fallback.Get(ctx, models.BucketAPI, entry.Key)
	assert.NotNil(t, fromPrimary)
	assert.Nil(t, fromFallback)
}
