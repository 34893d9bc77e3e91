package repository

import (
	"context"
	"sync"

	"relaysync/internal/models"
)

// MemoryCacheRepository keeps cache entries in process memory. Used standalone
// in tests and as the fallback behind the failover repository.
type MemoryCacheRepository struct {
	mu      sync.RWMutex
	buckets map[string]map[string]models.CacheEntry
}

func NewMemoryCacheRepository() *MemoryCacheRepository {
	return &MemoryCacheRepository{
		buckets: make(map[string]map[string]models.CacheEntry),
	}
}

func (r *MemoryCacheRepository) Get(ctx context.Context, bucket, key string) (*models.CacheEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.buckets[bucket][key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (r *MemoryCacheRepository) Set(ctx context.Context, entry *models.CacheEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buckets[entry.Bucket] == nil {
		r.buckets[entry.Bucket] = make(map[string]models.CacheEntry)
	}
	r.buckets[entry.Bucket][entry.Key] = *entry
	return nil
}

func (r *MemoryCacheRepository) Delete(ctx context.Context, bucket, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.buckets[bucket], key)
	return nil
}

func (r *MemoryCacheRepository) Entries(ctx context.Context, bucket string) ([]models.CacheEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []models.CacheEntry
	for _, entry := range r.buckets[bucket] {
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *MemoryCacheRepository) Purge(ctx context.Context, bucket string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.buckets, bucket)
	return nil
}
