package repository

import (
	"context"
	"sync/atomic"
	"time"

	"relaysync/internal/domain"
	"relaysync/internal/models"

	"github.com/rs/zerolog"
)

// FailoverCacheRepository serves from a primary repository and degrades to a
// fallback when the primary errors, retrying the primary after a recovery window.
type FailoverCacheRepository struct {
	primary   domain.CacheRepository
	fallback  domain.CacheRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverCacheRepository(primary, fallback domain.CacheRepository, logger *zerolog.Logger) *FailoverCacheRepository {
	return &FailoverCacheRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

const recoveryWindow = time.Minute

func (r *FailoverCacheRepository) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary cache repository failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverCacheRepository) shouldProbe() bool {
	return r.isDown.Load() && time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryWindow
}

func (r *FailoverCacheRepository) Get(ctx context.Context, bucket, key string) (*models.CacheEntry, error) {
	if !r.isDown.Load() {
		entry, err := r.primary.Get(ctx, bucket, key)
		if err == nil {
			return entry, nil
		}
		r.markDown(err)
	}

	if r.shouldProbe() {
		entry, err := r.primary.Get(ctx, bucket, key)
		if err == nil {
			r.isDown.Store(false)
			return entry, nil
		}
		r.lastCheck.Store(time.Now().UnixNano())
	}

	return r.fallback.Get(ctx, bucket, key)
}

func (r *FailoverCacheRepository) Set(ctx context.Context, entry *models.CacheEntry) error {
	if !r.isDown.Load() {
		err := r.primary.Set(ctx, entry)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Set(ctx, entry)
}

func (r *FailoverCacheRepository) Delete(ctx context.Context, bucket, key string) error {
	if !r.isDown.Load() {
		err := r.primary.Delete(ctx, bucket, key)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Delete(ctx, bucket, key)
}

func (r *FailoverCacheRepository) Entries(ctx context.Context, bucket string) ([]models.CacheEntry, error) {
	if !r.isDown.Load() {
		entries, err := r.primary.Entries(ctx, bucket)
		if err == nil {
			return entries, nil
		}
		r.markDown(err)
	}

	return r.fallback.Entries(ctx, bucket)
}

func (r *FailoverCacheRepository) Purge(ctx context.Context, bucket string) error {
	if !r.isDown.Load() {
		err := r.primary.Purge(ctx, bucket)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Purge(ctx, bucket)
}
