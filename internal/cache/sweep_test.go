package cache

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"relaysync/internal/models"
	"relaysync/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSweeper(repo *repository.MemoryCacheRepository) *Sweeper {
	logger := zerolog.New(os.Stdout)
	return NewSweeper(repo, &logger)
}

func TestSweepExpiredRemovesOldEntries(t *testing.T) {
	repo := repository.NewMemoryCacheRepository()
	sweeper := newTestSweeper(repo)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, repo.Set(ctx, &models.CacheEntry{
		Key:      "/api/old",
		Bucket:   models.BucketAPI,
		CachedAt: now.Add(-models.APICacheTTL - time.Minute),
	}))
	require.NoError(t, repo.Set(ctx, &models.CacheEntry{
		Key:      "/api/fresh",
		Bucket:   models.BucketAPI,
		CachedAt: now,
	}))

	sweeper.SweepOnce(ctx)

	old, _ := repo.Get(ctx, models.BucketAPI, "/api/old")
	fresh, _ := repo.Get(ctx, models.BucketAPI, "/api/fresh")
	assert.Nil(t, old)
	assert.NotNil(t, fresh)
}

func TestSweepExpiredRespectsPerBucketTTL(t *testing.T) {
	repo := repository.NewMemoryCacheRepository()
	sweeper := newTestSweeper(repo)
	ctx := context.Background()

	// One hour old: expired for the api bucket, fresh for static.
	cachedAt := time.Now().Add(-time.Hour)
	require.NoError(t, repo.Set(ctx, &models.CacheEntry{Key: "/api/a", Bucket: models.BucketAPI, CachedAt: cachedAt}))
	require.NoError(t, repo.Set(ctx, &models.CacheEntry{Key: "/static/a.js", Bucket: models.BucketStatic, CachedAt: cachedAt}))

	sweeper.SweepOnce(ctx)

	api, _ := repo.Get(ctx, models.BucketAPI, "/api/a")
	static, _ := repo.Get(ctx, models.BucketStatic, "/static/a.js")
	assert.Nil(t, api)
	assert.NotNil(t, static)
}

func TestSweepOversizeEvictsLargestFirst(t *testing.T) {
	repo := repository.NewMemoryCacheRepository()
	sweeper := newTestSweeper(repo)
	sweeper.byteBudget = 100
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, repo.Set(ctx, &models.CacheEntry{Key: "/big", Bucket: models.BucketRuntime, Body: bytes.Repeat([]byte("a"), 80), CachedAt: now}))
	require.NoError(t, repo.Set(ctx, &models.CacheEntry{Key: "/medium", Bucket: models.BucketRuntime, Body: bytes.Repeat([]byte("b"), 50), CachedAt: now}))
	require.NoError(t, repo.Set(ctx, &models.CacheEntry{Key: "/small", Bucket: models.BucketRuntime, Body: bytes.Repeat([]byte("c"), 10), CachedAt: now}))

	sweeper.SweepOnce(ctx)

	// 140 bytes total; dropping the 80-byte entry brings the bucket to 60.
	big, _ := repo.Get(ctx, models.BucketRuntime, "/big")
	medium, _ := repo.Get(ctx, models.BucketRuntime, "/medium")
	small, _ := repo.Get(ctx, models.BucketRuntime, "/small")
	assert.Nil(t, big)
	assert.NotNil(t, medium)
	assert.NotNil(t, small)
}

func TestSweepOversizeAppliedPerBucket(t *testing.T) {
	repo := repository.NewMemoryCacheRepository()
	sweeper := newTestSweeper(repo)
	sweeper.byteBudget = 100
	ctx := context.Background()

	now := time.Now()
	// Each bucket stays within budget on its own.
	require.NoError(t, repo.Set(ctx, &models.CacheEntry{Key: "/a", Bucket: models.BucketAPI, Body: bytes.Repeat([]byte("a"), 90), CachedAt: now}))
	require.NoError(t, repo.Set(ctx, &models.CacheEntry{Key: "/b", Bucket: models.BucketRuntime, Body: bytes.Repeat([]byte("b"), 90), CachedAt: now}))

	sweeper.SweepOnce(ctx)

	a, _ := repo.Get(ctx, models.BucketAPI, "/a")
	b, _ := repo.Get(ctx, models.BucketRuntime, "/b")
	assert.NotNil(t, a)
	assert.NotNil(t, b)
}
