package cache

import (
	"path"
	"strings"
	"time"

	"relaysync/internal/config"
	"relaysync/internal/models"
)

// RouteTable resolves a request path to a cache strategy by longest-prefix
// match across the four static route sets. Unmatched API paths default to
// network-first, everything else to cache-first.
type RouteTable struct {
	routes map[string]Strategy
}

func NewRouteTable(cfg config.CacheConfig) *RouteTable {
	routes := make(map[string]Strategy)
	for _, prefix := range cfg.CacheFirst {
		routes[prefix] = CacheFirst
	}
	for _, prefix := range cfg.NetworkFirst {
		routes[prefix] = NetworkFirst
	}
	for _, prefix := range cfg.NetworkOnly {
		routes[prefix] = NetworkOnly
	}
	for _, prefix := range cfg.StaleWhileRevalidate {
		routes[prefix] = StaleWhileRevalidate
	}
	return &RouteTable{routes: routes}
}

// Resolve returns the strategy for a request path.
func (t *RouteTable) Resolve(reqPath string) Strategy {
	bestLen := -1
	best := CacheFirst
	for prefix, strategy := range t.routes {
		if strings.HasPrefix(reqPath, prefix) && len(prefix) > bestLen {
			bestLen = len(prefix)
			best = strategy
		}
	}
	if bestLen >= 0 {
		return best
	}

	if strings.HasPrefix(reqPath, "/api/") {
		return NetworkFirst
	}
	return CacheFirst
}

var staticExtensions = map[string]bool{
	".js":    true,
	".css":   true,
	".html":  true,
	".png":   true,
	".jpg":   true,
	".jpeg":  true,
	".svg":   true,
	".gif":   true,
	".ico":   true,
	".woff":  true,
	".woff2": true,
	".ttf":   true,
	".json":  false,
}

// BucketFor assigns a request path to a cache bucket.
func BucketFor(reqPath string) string {
	if strings.HasPrefix(reqPath, "/api/") {
		return models.BucketAPI
	}
	if strings.HasPrefix(reqPath, "/static/") || staticExtensions[strings.ToLower(path.Ext(reqPath))] {
		return models.BucketStatic
	}
	return models.BucketRuntime
}

// TTLFor returns the freshness window of a bucket.
func TTLFor(bucket string) time.Duration {
	switch bucket {
	case models.BucketStatic:
		return models.StaticCacheTTL
	case models.BucketAPI:
		return models.APICacheTTL
	default:
		return models.RuntimeCacheTTL
	}
}
