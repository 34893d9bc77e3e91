package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"relaysync/internal/cache"
	"relaysync/internal/config"
	"relaysync/internal/database"
	"relaysync/internal/events"
	"relaysync/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFixture struct {
	handler    *Handler
	network    *fakeNetwork
	db         *database.DB
	origin     *httptest.Server
	hits       *atomic.Int64
	lastMethod *atomic.Value
}

func setupHandler(t *testing.T) *handlerFixture {
	t.Helper()

	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var hits atomic.Int64
	var lastMethod atomic.Value
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		lastMethod.Store(r.Method)
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"from":"origin"}`))
		case http.MethodHead:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"created":true}`))
		}
	}))
	t.Cleanup(origin.Close)

	upstream := NewUpstream(config.UpstreamConfig{BaseURL: origin.URL, TimeoutSeconds: 2}, &logger)
	network := &fakeNetwork{online: true}

	routes := cache.NewRouteTable(config.CacheConfig{})
	cacheEngine := cache.NewEngine(repository.NewMemoryCacheRepository(), upstream, routes, &logger)

	queue := NewReplayQueue(db, upstream, network, &fakeFlights{}, events.NewBus(), &logger)
	handler := NewHandler(cacheEngine, queue, upstream, network, db, "default", &logger)

	return &handlerFixture{handler: handler, network: network, db: db, origin: origin, hits: &hits, lastMethod: &lastMethod}
}

func TestHandlerServesGetThroughCache(t *testing.T) {
	fx := setupHandler(t)

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/app.js", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"from":"origin"}`, rec.Body.String())
	assert.Equal(t, int64(1), fx.hits.Load())

	// Second hit is served from cache without touching the origin.
	rec = httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/app.js", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cache", rec.Header().Get("X-Served-From"))
	assert.Equal(t, int64(1), fx.hits.Load())
}

func TestHandlerPassesWriteThroughWhenOnline(t *testing.T) {
	fx := setupHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{"text":"hi"}`))
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"created":true}`, rec.Body.String())

	stored, err := fx.db.GetQueuedRequests(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestHandlerCapturesWriteWhileOffline(t *testing.T) {
	fx := setupHandler(t)
	fx.network.setOnline(false)

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-Queued"))

	var body struct {
		Queued bool   `json:"queued"`
		ID     string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Queued)
	require.NotEmpty(t, body.ID)

	stored, err := fx.db.GetQueuedRequests(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, body.ID, stored[0].ID)
	assert.Equal(t, "/api/messages", stored[0].URL)
	assert.Equal(t, `{"text":"hi"}`, string(stored[0].Body))

	assert.Equal(t, int64(0), fx.hits.Load())
}

func TestHandlerForwardsHeadWithoutBody(t *testing.T) {
	fx := setupHandler(t)

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/static/app.js", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	assert.Equal(t, http.MethodHead, fx.lastMethod.Load())
}

func TestHandlerHeadWhileUnreachableReturnsOffline(t *testing.T) {
	fx := setupHandler(t)
	fx.origin.Close()

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/static/app.js", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-Offline"))
}

func TestHandlerPersistsBearerToken(t *testing.T) {
	fx := setupHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer tok-123")
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	token, err := fx.db.GetAuthToken(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)

	// A rotated token replaces the stored one.
	req = httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer tok-456")
	rec = httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	token, err = fx.db.GetAuthToken(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, "tok-456", token)
}

func TestHandlerCapturesWriteWhenPassThroughFails(t *testing.T) {
	fx := setupHandler(t)
	fx.origin.Close()

	req := httptest.NewRequest(http.MethodPut, "/api/conversations/c1", strings.NewReader(`{"title":"renamed"}`))
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	stored, err := fx.db.GetQueuedRequests(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, http.MethodPut, stored[0].Method)
}
