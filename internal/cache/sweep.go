package cache

import (
	"context"
	"sort"
	"time"

	"relaysync/internal/domain"
	"relaysync/internal/metrics"
	"relaysync/internal/models"

	"github.com/rs/zerolog"
)

var allBuckets = []string{models.BucketStatic, models.BucketAPI, models.BucketRuntime}

// Sweeper removes expired cache entries and enforces the per-bucket byte
// budget, evicting the largest entries first.
type Sweeper struct {
	repo       domain.CacheRepository
	logger     *zerolog.Logger
	byteBudget int64
	now        func() time.Time
}

func NewSweeper(repo domain.CacheRepository, logger *zerolog.Logger) *Sweeper {
	return &Sweeper{
		repo:       repo,
		logger:     logger,
		byteBudget: models.BucketByteBudget,
		now:        time.Now,
	}
}

// Run sweeps once immediately, then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	s.SweepOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs the expiry pass and the size pass over every bucket.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	for _, bucket := range allBuckets {
		if err := s.sweepExpired(ctx, bucket); err != nil {
			s.logger.Warn().Err(err).Str("bucket", bucket).Msg("Expiry sweep failed")
		}
		if err := s.sweepOversize(ctx, bucket); err != nil {
			s.logger.Warn().Err(err).Str("bucket", bucket).Msg("Size sweep failed")
		}
	}
}

func (s *Sweeper) sweepExpired(ctx context.Context, bucket string) error {
	entries, err := s.repo.Entries(ctx, bucket)
	if err != nil {
		return err
	}

	ttl := TTLFor(bucket)
	now := s.now()
	for i := range entries {
		if entries[i].Age(now) > ttl {
			if err := s.repo.Delete(ctx, bucket, entries[i].Key); err != nil {
				return err
			}
			metrics.IncCacheEviction(bucket, "expired")
		}
	}
	return nil
}

func (s *Sweeper) sweepOversize(ctx context.Context, bucket string) error {
	entries, err := s.repo.Entries(ctx, bucket)
	if err != nil {
		return err
	}

	var total int64
	for i := range entries {
		total += entries[i].Size()
	}
	if total <= s.byteBudget {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Size() > entries[j].Size()
	})

	for i := range entries {
		if total <= s.byteBudget {
			break
		}
		if err := s.repo.Delete(ctx, bucket, entries[i].Key); err != nil {
			return err
		}
		total -= entries[i].Size()
		metrics.IncCacheEviction(bucket, "oversize")
	}

	s.logger.Info().Str("bucket", bucket).Int64("bytes", total).Msg("Bucket trimmed to byte budget")
	return nil
}
