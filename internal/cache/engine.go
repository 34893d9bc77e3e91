package cache

import (
	"context"
	"net/http"
	"time"

	"relaysync/internal/domain"
	"relaysync/internal/metrics"
	"relaysync/internal/models"

	"github.com/rs/zerolog"
)

// Request is the subset of an HTTP GET the engine works with.
type Request struct {
	Path   string
	URL    string
	Header http.Header
}

// Response is what the engine hands back to the proxy.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Cached     bool
	Stale      bool
}

// Fetcher performs the actual network request for a cache miss or refresh.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// Engine applies one of four cache strategies to every same-origin GET.
type Engine struct {
	repo    domain.CacheRepository
	fetcher Fetcher
	routes  *RouteTable
	logger  *zerolog.Logger
	now     func() time.Time
}

func NewEngine(repo domain.CacheRepository, fetcher Fetcher, routes *RouteTable, logger *zerolog.Logger) *Engine {
	return &Engine{
		repo:    repo,
		fetcher: fetcher,
		routes:  routes,
		logger:  logger,
		now:     time.Now,
	}
}

// Serve resolves the route's strategy and serves the request through it.
// Network failures never propagate; the worst outcome is a synthesized 503.
func (e *Engine) Serve(ctx context.Context, req *Request) *Response {
	strategy := e.routes.Resolve(req.Path)
	bucket := BucketFor(req.Path)

	switch strategy {
	case CacheFirst:
		return e.cacheFirst(ctx, req, bucket, strategy)
	case NetworkFirst:
		return e.networkFirst(ctx, req, bucket, strategy)
	case NetworkOnly:
		return e.networkOnly(ctx, req, strategy)
	case StaleWhileRevalidate:
		return e.staleWhileRevalidate(ctx, req, bucket, strategy)
	default:
		return e.networkFirst(ctx, req, bucket, strategy)
	}
}

func (e *Engine) cacheFirst(ctx context.Context, req *Request, bucket string, strategy Strategy) *Response {
	entry := e.lookup(ctx, bucket, req.URL)
	if entry != nil && e.fresh(entry, bucket) {
		metrics.IncCacheLookup(strategy.String(), "hit")
		return entryResponse(entry, false)
	}

	resp, err := e.fetchAndStore(ctx, req, bucket)
	if err == nil {
		metrics.IncCacheLookup(strategy.String(), "miss")
		return resp
	}

	if entry != nil {
		metrics.IncCacheLookup(strategy.String(), "stale")
		return entryResponse(entry, true)
	}

	metrics.IncCacheLookup(strategy.String(), "offline")
	return offlineResponse()
}

func (e *Engine) networkFirst(ctx context.Context, req *Request, bucket string, strategy Strategy) *Response {
	resp, err := e.fetchAndStore(ctx, req, bucket)
	if err == nil {
		metrics.IncCacheLookup(strategy.String(), "network")
		return resp
	}

	if entry := e.lookup(ctx, bucket, req.URL); entry != nil {
		metrics.IncCacheLookup(strategy.String(), "stale")
		return entryResponse(entry, !e.fresh(entry, bucket))
	}

	metrics.IncCacheLookup(strategy.String(), "offline")
	return offlineResponse()
}

func (e *Engine) networkOnly(ctx context.Context, req *Request, strategy Strategy) *Response {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		metrics.IncCacheLookup(strategy.String(), "offline")
		return offlineResponse()
	}
	metrics.IncCacheLookup(strategy.String(), "network")
	return resp
}

func (e *Engine) staleWhileRevalidate(ctx context.Context, req *Request, bucket string, strategy Strategy) *Response {
	entry := e.lookup(ctx, bucket, req.URL)
	if entry != nil && e.fresh(entry, bucket) {
		metrics.IncCacheLookup(strategy.String(), "hit")
		go e.revalidate(req, bucket)
		return entryResponse(entry, false)
	}

	resp, err := e.fetchAndStore(ctx, req, bucket)
	if err == nil {
		metrics.IncCacheLookup(strategy.String(), "miss")
		return resp
	}

	metrics.IncCacheLookup(strategy.String(), "offline")
	return offlineResponse()
}

// revalidate refreshes the cache in the background after a fresh hit was
// already returned. Detached from the request context on purpose.
func (e *Engine) revalidate(req *Request, bucket string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := e.fetchAndStore(ctx, req, bucket); err != nil {
		e.logger.Debug().Err(err).Str("url", req.URL).Msg("Background revalidation failed")
	}
}

func (e *Engine) lookup(ctx context.Context, bucket, key string) *models.CacheEntry {
	entry, err := e.repo.Get(ctx, bucket, key)
	if err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("Cache lookup failed")
		return nil
	}
	return entry
}

func (e *Engine) fresh(entry *models.CacheEntry, bucket string) bool {
	return entry.Age(e.now()) <= TTLFor(bucket)
}

func (e *Engine) fetchAndStore(ctx context.Context, req *Request, bucket string) (*Response, error) {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	// Only successful responses are worth replaying from cache later.
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		entry := &models.CacheEntry{
			Key:        req.URL,
			Bucket:     bucket,
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       resp.Body,
			CachedAt:   e.now(),
		}
		if err := e.repo.Set(ctx, entry); err != nil {
			e.logger.Warn().Err(err).Str("key", req.URL).Msg("Cache write failed")
		}
	}

	return resp, nil
}

func entryResponse(entry *models.CacheEntry, stale bool) *Response {
	header := make(http.Header, len(entry.Header)+1)
	for k, v := range entry.Header {
		header[k] = v
	}
	header.Set("X-Cache-Timestamp", entry.CachedAt.UTC().Format(time.RFC3339))

	return &Response{
		StatusCode: entry.StatusCode,
		Header:     header,
		Body:       entry.Body,
		Cached:     true,
		Stale:      stale,
	}
}

func offlineResponse() *Response {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("X-Offline", "true")

	return &Response{
		StatusCode: http.StatusServiceUnavailable,
		Header:     header,
		Body:       []byte(`{"error":"offline","message":"No network connection and no cached response available"}`),
	}
}
