package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"relaysync/internal/cache"
	"relaysync/internal/domain"

	"github.com/rs/zerolog"
)

// maxCaptureBytes bounds the body persisted for a queued write request.
const maxCaptureBytes = 10 << 20

// TokenSink persists the bearer token observed on proxied traffic so replay
// and batch sync can authenticate without the application running.
type TokenSink interface {
	SetAuthToken(ctx context.Context, name, token string, expiresAt *time.Time) error
}

// Handler is the request-facing side of the agent: GETs go through the cache
// strategy engine, writes pass through when online and are captured for
// replay when not.
type Handler struct {
	cache    *cache.Engine
	queue    *ReplayQueue
	upstream *Upstream
	network  domain.ConnectivitySource
	logger   *zerolog.Logger

	tokens    TokenSink
	tokenName string
	tokenMu   sync.Mutex
	lastToken string
}

func NewHandler(cacheEngine *cache.Engine, queue *ReplayQueue, upstream *Upstream, network domain.ConnectivitySource, tokens TokenSink, tokenName string, logger *zerolog.Logger) *Handler {
	return &Handler{
		cache:     cacheEngine,
		queue:     queue,
		upstream:  upstream,
		network:   network,
		tokens:    tokens,
		tokenName: tokenName,
		logger:    logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.captureToken(r)

	switch r.Method {
	case http.MethodGet:
		h.serveRead(w, r)
	case http.MethodHead:
		h.serveHead(w, r)
	default:
		h.serveWrite(w, r)
	}
}

// captureToken mirrors the Authorization bearer into the durable token
// store whenever it changes, so queued work replays with valid credentials
// even after a restart.
func (h *Handler) captureToken(r *http.Request) {
	if h.tokens == nil {
		return
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}

	h.tokenMu.Lock()
	changed := token != h.lastToken
	if changed {
		h.lastToken = token
	}
	h.tokenMu.Unlock()

	if !changed {
		return
	}
	if err := h.tokens.SetAuthToken(r.Context(), h.tokenName, token, nil); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to persist auth token")
	}
}

// serveHead forwards HEAD as-is: the cache path is GET-only, and a HEAD
// response must never carry a body.
func (h *Handler) serveHead(w http.ResponseWriter, r *http.Request) {
	resp, err := h.upstream.Forward(r.Context(), http.MethodHead, r.URL.RequestURI(), r.Header, nil)
	if err != nil {
		w.Header().Set("X-Offline", "true")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	header := w.Header()
	for name, values := range resp.Header {
		header[name] = values
	}
	w.WriteHeader(resp.StatusCode)
}

func (h *Handler) serveRead(w http.ResponseWriter, r *http.Request) {
	resp := h.cache.Serve(r.Context(), &cache.Request{
		Path:   r.URL.Path,
		URL:    r.URL.RequestURI(),
		Header: r.Header,
	})

	writeResponse(w, resp)
}

func (h *Handler) serveWrite(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCaptureBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	if h.network.Online() {
		resp, err := h.upstream.Forward(r.Context(), r.Method, r.URL.RequestURI(), r.Header, body)
		if err == nil {
			writeResponse(w, resp)
			return
		}
		// The link dropped mid-request; fall through to capture.
		h.logger.Warn().Err(err).Str("method", r.Method).Str("url", r.URL.RequestURI()).Msg("Write pass-through failed, capturing for replay")
	}

	queued, err := h.queue.Enqueue(r.Context(), r.Method, r.URL.RequestURI(), r.Header.Clone(), body)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to capture offline request")
		http.Error(w, "failed to queue request", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Queued", "true")
	w.WriteHeader(http.StatusAccepted)

	payload := map[string]interface{}{
		"queued":  true,
		"id":      queued.ID,
		"message": "Request saved and will be sent when connection is restored",
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to encode queued response")
	}
}

func writeResponse(w http.ResponseWriter, resp *cache.Response) {
	header := w.Header()
	for name, values := range resp.Header {
		header[name] = values
	}
	if resp.Cached {
		header.Set("X-Served-From", "cache")
	}
	if resp.Stale {
		header.Set("X-Cache-Stale", "true")
	}
	header.Set("Content-Length", strconv.Itoa(len(resp.Body)))

	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
