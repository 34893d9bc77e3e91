package models

import (
	"net/http"
	"time"
)

// QueuedRequest is a raw write request captured while offline, awaiting replay.
type QueuedRequest struct {
	ID         string      `json:"id"`
	URL        string      `json:"url"`
	Method     string      `json:"method"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	RetryCount int         `json:"retry_count"`
}

// CacheEntry is one cached HTTP response, owned by the cache strategy engine.
type CacheEntry struct {
	Key        string      `json:"key"`
	Bucket     string      `json:"bucket"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	CachedAt   time.Time   `json:"cached_at"`
}

// Size returns the byte footprint counted against a bucket budget.
func (e *CacheEntry) Size() int64 {
	return int64(len(e.Body))
}

// Age reports how long ago the entry was cached.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.CachedAt)
}
