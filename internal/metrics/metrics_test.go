package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncCacheLookup("cache-first", "hit")
		IncCacheEviction("api", "expired")
		IncSyncItem("synced")
		IncReplay("synced")
		SetQueueDepth("sync_items", 3)
	})
}
