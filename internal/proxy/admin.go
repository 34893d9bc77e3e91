package proxy

import (
	"context"
	"encoding/json"
	"net/http"

	"relaysync/internal/config"
	"relaysync/internal/models"
	"relaysync/internal/netmon"

	"github.com/rs/zerolog"
)

// SyncController is the slice of the sync engine the admin surface drives.
type SyncController interface {
	SyncAll(ctx context.Context) *models.SyncResult
	GetQueueStatus() models.QueueStatus
	ClearQueue(ctx context.Context, force bool) error
	ResolveConflicts(ctx context.Context, ids []string) *models.SyncResult
}

// Admin exposes operational endpoints guarded by API-key auth and a
// per-client rate limit.
type Admin struct {
	sync    SyncController
	replay  *ReplayQueue
	monitor *netmon.Monitor
	cfg     config.AdminConfig
	keys    map[string]config.APIClientKey
	limiter *rateLimiter
	logger  *zerolog.Logger
}

func NewAdmin(sync SyncController, replay *ReplayQueue, monitor *netmon.Monitor, cfg config.AdminConfig, logger *zerolog.Logger) *Admin {
	keys := make(map[string]config.APIClientKey, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys[k.Key] = k
	}

	return &Admin{
		sync:    sync,
		replay:  replay,
		monitor: monitor,
		cfg:     cfg,
		keys:    keys,
		limiter: newRateLimiter(cfg.RateLimit),
		logger:  logger,
	}
}

// Register mounts the admin routes on mux.
func (a *Admin) Register(mux *http.ServeMux) {
	mux.Handle("/admin/queue", a.guard(http.HandlerFunc(a.handleQueue)))
	mux.Handle("/admin/sync", a.guard(http.HandlerFunc(a.handleSync)))
	mux.Handle("/admin/conflicts/resolve", a.guard(http.HandlerFunc(a.handleResolve)))
	mux.Handle("/admin/network", a.guard(http.HandlerFunc(a.handleNetwork)))
}

func (a *Admin) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled {
			http.NotFound(w, r)
			return
		}

		key := r.Header.Get(a.cfg.HeaderAPIKey)
		client, ok := a.keys[key]
		if key == "" || !ok {
			writeJSONError(w, http.StatusUnauthorized, "invalid api key")
			return
		}

		if !a.limiter.allow(client.Key) {
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		a.logger.Debug().Str("client", client.Name).Str("path", r.URL.Path).Msg("Admin request")
		next.ServeHTTP(w, r)
	})
}

// handleQueue reports queue depths on GET and clears the mutation queue on
// DELETE (?force=true to discard undelivered items).
func (a *Admin) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		depth, err := a.replay.Depth(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sync":            a.sync.GetQueueStatus(),
			"queued_requests": depth,
		})

	case http.MethodDelete:
		force := r.URL.Query().Get("force") == "true"
		if err := a.sync.ClearQueue(r.Context(), force); err != nil {
			writeJSONError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})

	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSync triggers a drain of both queues.
func (a *Admin) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	result := a.sync.SyncAll(r.Context())
	summary, err := a.replay.Flush(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sync":   result,
		"replay": summary,
	})
}

// handleResolve arbitrates conflicted items; an empty body targets all.
func (a *Admin) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		IDs []string `json:"ids"`
	}
	if r.Body != nil {
		// Decoding failures fall back to resolving everything.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	writeJSON(w, http.StatusOK, a.sync.ResolveConflicts(r.Context(), body.IDs))
}

func (a *Admin) handleNetwork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, a.monitor.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
