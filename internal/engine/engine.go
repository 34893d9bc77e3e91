package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"relaysync/internal/api"
	"relaysync/internal/config"
	"relaysync/internal/conflict"
	"relaysync/internal/domain"
	"relaysync/internal/events"
	"relaysync/internal/metrics"
	"relaysync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine owns the mutation queue: it accepts local writes, drains them to the
// upstream batch API in priority order, and routes server conflicts through
// the configured resolver. The in-memory queue is canonical; sqlite mirrors it
// for crash recovery.
type Engine struct {
	store    domain.SyncStore
	client   domain.BatchAPI
	network  domain.ConnectivitySource
	resolver *conflict.Resolver
	bus      *events.Bus
	logger   *zerolog.Logger

	batchSize  int
	maxRetries int
	interval   time.Duration
	slowDelay  time.Duration
	retry      RetryPolicy

	mu    sync.Mutex
	items []*models.SyncItem

	// flight is the single-flight guard shared with the request replay loop:
	// only one drain of either queue runs at a time.
	flight atomic.Bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func NewEngine(
	store domain.SyncStore,
	client domain.BatchAPI,
	network domain.ConnectivitySource,
	resolver *conflict.Resolver,
	bus *events.Bus,
	cfg config.SyncConfig,
	logger *zerolog.Logger,
) *Engine {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = models.DefaultBatchSize
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	interval := cfg.SyncInterval()
	if interval <= 0 {
		interval = models.DefaultSyncInterval
	}

	return &Engine{
		store:      store,
		client:     client,
		network:    network,
		resolver:   resolver,
		bus:        bus,
		logger:     logger,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		interval:   interval,
		slowDelay:  models.SlowBatchDelay,
		retry:      DefaultRetryPolicy(maxRetries),
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// Load restores the persisted queue. Items caught mid-flight by a crash go
// back to pending.
func (e *Engine) Load(ctx context.Context) error {
	stored, err := e.store.GetSyncItems(ctx)
	if err != nil {
		return fmt.Errorf("load sync queue: %w", err)
	}

	e.mu.Lock()
	e.items = e.items[:0]
	for i := range stored {
		item := stored[i]
		if item.Status == models.StatusSyncing {
			item.Status = models.StatusPending
		}
		e.items = append(e.items, &item)
	}
	depth := len(e.items)
	e.mu.Unlock()

	metrics.SetQueueDepth("sync", depth)
	return nil
}

// QueueForSync appends a mutation and returns its id. Enqueueing itself never
// fails; persistence errors are logged and the in-memory copy remains
// authoritative. When online and idle, a background drain starts immediately.
func (e *Engine) QueueForSync(ctx context.Context, resourceType string, payload interface{}, operation string, priority int) string {
	if resourceType == "" || !models.ValidOperation(operation) {
		e.logger.Error().Str("resource_type", resourceType).Str("operation", operation).Msg("Rejected invalid queue request")
		return ""
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error().Err(err).Str("resource_type", resourceType).Msg("Failed to encode queue payload")
		return ""
	}

	item := &models.SyncItem{
		ID:           uuid.NewString(),
		ResourceType: resourceType,
		Operation:    operation,
		Payload:      raw,
		EnqueuedAt:   e.now(),
		Priority:     models.ClampPriority(priority),
		Status:       models.StatusPending,
		Checksum:     models.Checksum(raw),
	}

	// A running drain may claim the item the moment it is appended; persist
	// and publish from a copy taken before that.
	snapshot := *item

	e.mu.Lock()
	e.items = append(e.items, item)
	depth := len(e.items)
	e.mu.Unlock()

	metrics.SetQueueDepth("sync", depth)

	if err := e.store.UpsertSyncItem(ctx, &snapshot); err != nil {
		e.logger.Error().Err(err).Str("item", snapshot.ID).Msg("Failed to persist queued item")
	}
	if err := e.bus.PublishJSON(events.EventItemQueued, snapshot); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to publish item-queued event")
	}

	if e.network.Online() {
		go e.SyncAll(context.Background())
	}

	return item.ID
}

// TryBeginFlight claims the shared drain guard. The request replay loop
// acquires it before flushing so queued requests and sync items never race
// against the same upstream.
func (e *Engine) TryBeginFlight() bool {
	return e.flight.CompareAndSwap(false, true)
}

// EndFlight releases the drain guard.
func (e *Engine) EndFlight() {
	e.flight.Store(false)
}

// SyncAll drains every eligible item in one pass. Offline or already-running
// passes return immediately without touching the network.
func (e *Engine) SyncAll(ctx context.Context) *models.SyncResult {
	if !e.network.Online() {
		return &models.SyncResult{Success: false, Errors: []string{"Offline"}}
	}
	if !e.TryBeginFlight() {
		return &models.SyncResult{Success: false, Errors: []string{"Sync already in progress"}}
	}
	defer e.EndFlight()

	eligible := e.takeEligible()
	if len(eligible) == 0 {
		return &models.SyncResult{Success: true}
	}

	if err := e.bus.PublishJSON(events.EventSyncStart, map[string]int{"total": len(eligible)}); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to publish sync-start event")
	}

	result := &models.SyncResult{Success: true}
	batches := chunkItems(eligible, e.batchSize)
	processed := 0

	for bi, batch := range batches {
		for _, group := range groupItems(batch) {
			e.dispatchGroup(ctx, group, result)
		}
		processed += len(batch)

		progress := events.SyncProgressPayload{Batch: bi + 1, TotalBatches: len(batches), Processed: processed}
		if err := e.bus.PublishJSON(events.EventSyncProgress, progress); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to publish sync-progress event")
		}

		if ctx.Err() != nil {
			result.Errors = append(result.Errors, ctx.Err().Error())
			break
		}
		if bi < len(batches)-1 && e.network.SlowConnection() {
			e.sleep(ctx, e.slowDelay)
		}
	}

	e.purgeSynced(ctx)

	if result.FailedCount > 0 || len(result.Errors) > 0 {
		result.Success = false
	}

	if err := e.bus.PublishJSON(events.EventSyncComplete, result); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to publish sync-complete event")
	}
	if !result.Success {
		if err := e.bus.PublishJSON(events.EventSyncError, result); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to publish sync-error event")
		}
	}

	e.logger.Info().
		Int("synced", result.SyncedCount).
		Int("failed", result.FailedCount).
		Int("conflicts", result.ConflictsCount).
		Msg("Sync pass finished")

	return result
}

// ResolveConflicts arbitrates conflicted items through the configured
// resolver. An empty ids slice targets every conflicted item.
func (e *Engine) ResolveConflicts(ctx context.Context, ids []string) *models.SyncResult {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	e.mu.Lock()
	var targets []*models.SyncItem
	for _, item := range e.items {
		if item.Status != models.StatusConflict {
			continue
		}
		if len(ids) > 0 && !want[item.ID] {
			continue
		}
		targets = append(targets, item)
	}
	e.mu.Unlock()

	result := &models.SyncResult{Success: true}
	for _, item := range targets {
		resolved, err := e.resolver.Resolve(ctx, item)

		e.mu.Lock()
		switch {
		case err != nil:
			msg := err.Error()
			item.Status = models.StatusFailed
			item.LastError = &msg
			result.FailedCount++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.ID, err))
			metrics.IncSyncItem("failed")
		case resolved:
			item.Status = models.StatusSynced
			item.ConflictPayload = nil
			result.SyncedCount++
			metrics.IncSyncItem("synced")
		default:
			// Deferred to manual action; the item stays in conflict.
			result.ConflictsCount++
		}
		e.mu.Unlock()
	}

	e.purgeSynced(ctx)

	if result.FailedCount > 0 {
		result.Success = false
	}
	return result
}

// GetQueueStatus reports counts per status over items not yet purged.
func (e *Engine) GetQueueStatus() models.QueueStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := models.QueueStatus{Total: len(e.items)}
	for _, item := range e.items {
		switch item.Status {
		case models.StatusPending:
			status.Pending++
		case models.StatusSyncing:
			status.Syncing++
		case models.StatusFailed:
			status.Failed++
		case models.StatusConflict:
			status.Conflicts++
		}
		if status.OldestAt == nil || item.EnqueuedAt.Before(*status.OldestAt) {
			at := item.EnqueuedAt
			status.OldestAt = &at
		}
	}
	return status
}

// ClearQueue drops every item. Without force it refuses while undelivered
// work remains.
func (e *Engine) ClearQueue(ctx context.Context, force bool) error {
	e.mu.Lock()
	if !force {
		for _, item := range e.items {
			if item.Status == models.StatusPending || item.Status == models.StatusSyncing {
				e.mu.Unlock()
				return errors.New("queue has pending items; use force to clear")
			}
		}
	}
	e.items = nil
	e.mu.Unlock()

	metrics.SetQueueDepth("sync", 0)

	if err := e.store.ReplaceSyncItems(ctx, nil); err != nil {
		return fmt.Errorf("clear persisted queue: %w", err)
	}
	if err := e.bus.PublishJSON(events.EventQueueCleared, struct{}{}); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to publish queue-cleared event")
	}
	return nil
}

// Start runs the periodic drain until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info().Dur("interval", e.interval).Msg("Sync engine started")
	defer e.logger.Info().Msg("Sync engine stopped")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.network.Online() {
				continue
			}
			if e.GetQueueStatus().Total == 0 {
				continue
			}
			e.SyncAll(ctx)
		}
	}
}

// takeEligible selects pending items plus failed items whose backoff has
// elapsed, ordered by priority descending then enqueue time ascending, and
// marks them syncing.
func (e *Engine) takeEligible() []*models.SyncItem {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*models.SyncItem
	for _, item := range e.items {
		switch item.Status {
		case models.StatusPending:
			out = append(out, item)
		case models.StatusFailed:
			if item.RetryCount < e.maxRetries && e.retryDue(item, now) {
				out = append(out, item)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})

	for _, item := range out {
		item.Status = models.StatusSyncing
	}
	return out
}

func (e *Engine) retryDue(item *models.SyncItem, now time.Time) bool {
	if item.LastRetryAt == nil {
		return true
	}
	return !now.Before(item.LastRetryAt.Add(e.retry.NextDelay(item.RetryCount)))
}

type itemGroup struct {
	resourceType string
	operation    string
	items        []*models.SyncItem
}

// groupItems splits a batch by (collection, operation) preserving order.
func groupItems(batch []*models.SyncItem) []itemGroup {
	var groups []itemGroup
	index := make(map[string]int)
	for _, item := range batch {
		key := item.ResourceType + "/" + item.Operation
		if gi, ok := index[key]; ok {
			groups[gi].items = append(groups[gi].items, item)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, itemGroup{
			resourceType: item.ResourceType,
			operation:    item.Operation,
			items:        []*models.SyncItem{item},
		})
	}
	return groups
}

func chunkItems(items []*models.SyncItem, size int) [][]*models.SyncItem {
	if size <= 0 {
		size = models.DefaultBatchSize
	}
	var chunks [][]*models.SyncItem
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

func (e *Engine) dispatchGroup(ctx context.Context, group itemGroup, result *models.SyncResult) {
	resp, err := e.callBatch(ctx, group)
	if err != nil {
		e.handleGroupError(group, err, result)
		return
	}

	if resp.Success {
		for _, item := range group.items {
			e.markSynced(item, result)
		}
		return
	}

	if len(resp.Conflicts) > 0 {
		for i, item := range group.items {
			if i < len(resp.Conflicts) && resp.Conflicts[i].Conflict {
				e.markConflict(item, resp.Conflicts[i].ServerData, result)
			} else {
				e.markSynced(item, result)
			}
		}
		return
	}

	e.handleGroupError(group, errors.New("batch rejected by server"), result)
}

func (e *Engine) callBatch(ctx context.Context, group itemGroup) (*domain.BatchResponse, error) {
	switch group.operation {
	case models.OpCreate:
		return e.client.BatchCreate(ctx, group.resourceType, taggedPayloads(group.items))
	case models.OpUpdate:
		return e.client.BatchUpdate(ctx, group.resourceType, taggedPayloads(group.items))
	case models.OpDelete:
		return e.client.BatchDelete(ctx, group.resourceType, deleteIDs(group.items))
	default:
		return nil, fmt.Errorf("unknown operation: %s", group.operation)
	}
}

func (e *Engine) handleGroupError(group itemGroup, err error, result *models.SyncResult) {
	msg := err.Error()

	switch {
	case errors.Is(err, api.ErrUnauthorized):
		// Stale credentials are not the item's fault: mark failed without
		// consuming a retry attempt, so a token refresh unblocks the queue.
		e.mu.Lock()
		for _, item := range group.items {
			item.Status = models.StatusFailed
			item.LastError = &msg
			metrics.IncSyncItem("failed")
		}
		e.mu.Unlock()
		result.FailedCount += len(group.items)
		result.Errors = append(result.Errors, msg)

	case errors.Is(err, api.ErrConflict):
		for _, item := range group.items {
			e.markConflict(item, nil, result)
		}

	default:
		now := e.now()
		e.mu.Lock()
		for _, item := range group.items {
			item.Status = models.StatusFailed
			item.RetryCount++
			item.LastRetryAt = &now
			item.LastError = &msg
			metrics.IncSyncItem("failed")
		}
		e.mu.Unlock()
		result.FailedCount += len(group.items)
		result.Errors = append(result.Errors, fmt.Sprintf("%s %s: %v", group.operation, group.resourceType, err))
	}

	e.logger.Error().Err(err).
		Str("resource_type", group.resourceType).
		Str("operation", group.operation).
		Int("items", len(group.items)).
		Msg("Batch dispatch failed")
}

// markSynced and markConflict take e.mu: status reads race with the drain
// otherwise, since admin handlers poll GetQueueStatus from their own
// goroutines.
func (e *Engine) markSynced(item *models.SyncItem, result *models.SyncResult) {
	e.mu.Lock()
	item.Status = models.StatusSynced
	item.LastError = nil
	e.mu.Unlock()

	result.SyncedCount++
	metrics.IncSyncItem("synced")
}

func (e *Engine) markConflict(item *models.SyncItem, serverData json.RawMessage, result *models.SyncResult) {
	e.mu.Lock()
	item.Status = models.StatusConflict
	item.ConflictPayload = serverData
	e.mu.Unlock()

	result.ConflictsCount++
	metrics.IncSyncItem("conflict")
}

// purgeSynced drops synced items and rewrites the durable mirror.
func (e *Engine) purgeSynced(ctx context.Context) {
	e.mu.Lock()
	kept := e.items[:0]
	for _, item := range e.items {
		if item.Status != models.StatusSynced {
			kept = append(kept, item)
		}
	}
	e.items = kept

	snapshot := make([]models.SyncItem, 0, len(e.items))
	for _, item := range e.items {
		snapshot = append(snapshot, *item)
	}
	depth := len(e.items)
	e.mu.Unlock()

	metrics.SetQueueDepth("sync", depth)

	if err := e.store.ReplaceSyncItems(ctx, snapshot); err != nil {
		e.logger.Error().Err(err).Msg("Failed to persist sync queue")
	}
}

// taggedPayloads stamps each entry with its queue item id so the server can
// deduplicate replays of the same batch.
func taggedPayloads(items []*models.SyncItem) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		out = append(out, withSyncID(item.Payload, item.ID))
	}
	return out
}

func withSyncID(payload json.RawMessage, id string) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		// Non-object payloads get wrapped instead of tagged in place.
		tagged, merr := json.Marshal(map[string]json.RawMessage{
			"sync_id": json.RawMessage(strconv.Quote(id)),
			"data":    payload,
		})
		if merr != nil {
			return payload
		}
		return tagged
	}

	obj["sync_id"] = json.RawMessage(strconv.Quote(id))
	out, err := json.Marshal(obj)
	if err != nil {
		return payload
	}
	return out
}

func deleteIDs(items []*models.SyncItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		var body struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(item.Payload, &body); err == nil && body.ID != "" {
			ids = append(ids, body.ID)
			continue
		}
		ids = append(ids, item.ID)
	}
	return ids
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
