package proxy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"relaysync/internal/domain"
	"relaysync/internal/events"
	"relaysync/internal/metrics"
	"relaysync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Replayer reissues a captured request against the origin.
type Replayer interface {
	Replay(ctx context.Context, req *models.QueuedRequest) (int, error)
}

// Flights is the shared drain guard owned by the sync engine; the replay
// loop claims it so both queues never drain concurrently.
type Flights interface {
	TryBeginFlight() bool
	EndFlight()
}

// FlushSummary reports the outcome of one replay pass.
type FlushSummary struct {
	Replayed  int `json:"replayed"`
	Dropped   int `json:"dropped"`
	Remaining int `json:"remaining"`
}

// ReplayQueue captures write requests while offline and replays them in
// enqueue order once connectivity returns.
type ReplayQueue struct {
	store    domain.SyncStore
	upstream Replayer
	network  domain.ConnectivitySource
	flights  Flights
	bus      *events.Bus
	logger   *zerolog.Logger

	maxRetries int
	now        func() time.Time
}

func NewReplayQueue(
	store domain.SyncStore,
	upstream Replayer,
	network domain.ConnectivitySource,
	flights Flights,
	bus *events.Bus,
	logger *zerolog.Logger,
) *ReplayQueue {
	return &ReplayQueue{
		store:      store,
		upstream:   upstream,
		network:    network,
		flights:    flights,
		bus:        bus,
		logger:     logger,
		maxRetries: models.ReplayRetryCeiling,
		now:        time.Now,
	}
}

// Enqueue persists a captured request and returns it with its assigned id.
func (q *ReplayQueue) Enqueue(ctx context.Context, method, url string, header http.Header, body []byte) (*models.QueuedRequest, error) {
	req := &models.QueuedRequest{
		ID:         uuid.NewString(),
		URL:        url,
		Method:     method,
		Header:     header,
		Body:       body,
		EnqueuedAt: q.now(),
	}

	if err := q.store.CreateQueuedRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("persist queued request: %w", err)
	}

	q.logger.Info().Str("request", req.ID).Str("method", method).Str("url", url).Msg("Captured offline request")
	return req, nil
}

// Depth returns the number of requests awaiting replay.
func (q *ReplayQueue) Depth(ctx context.Context) (int, error) {
	reqs, err := q.store.GetQueuedRequests(ctx)
	if err != nil {
		return 0, err
	}
	return len(reqs), nil
}

// Flush replays pending requests oldest-first. Requests exceeding the retry
// ceiling are dropped with a failure broadcast. A no-op when offline or when
// a sync pass already holds the drain guard.
func (q *ReplayQueue) Flush(ctx context.Context) (*FlushSummary, error) {
	if !q.network.Online() {
		return &FlushSummary{}, nil
	}
	if !q.flights.TryBeginFlight() {
		return &FlushSummary{}, nil
	}
	defer q.flights.EndFlight()

	reqs, err := q.store.GetQueuedRequests(ctx)
	if err != nil {
		q.publish(events.MsgSyncError, map[string]string{"error": err.Error()})
		return nil, fmt.Errorf("load queued requests: %w", err)
	}

	summary := &FlushSummary{}
	for i := range reqs {
		req := &reqs[i]

		status, err := q.upstream.Replay(ctx, req)
		if err == nil && status >= 200 && status < 300 {
			q.settle(ctx, req, summary)
			continue
		}

		if err == nil {
			err = fmt.Errorf("origin returned %d", status)
		}
		q.retryOrDrop(ctx, req, err, summary)

		if ctx.Err() != nil {
			break
		}
	}

	remaining, derr := q.Depth(ctx)
	if derr == nil {
		summary.Remaining = remaining
		metrics.SetQueueDepth("replay", remaining)
	}

	q.publish(events.MsgSyncComplete, summary)
	return summary, nil
}

func (q *ReplayQueue) settle(ctx context.Context, req *models.QueuedRequest, summary *FlushSummary) {
	if err := q.store.DeleteQueuedRequest(ctx, req.ID); err != nil {
		q.logger.Error().Err(err).Str("request", req.ID).Msg("Failed to delete replayed request")
	}
	summary.Replayed++
	metrics.IncReplay("synced")
	q.publish(events.MsgRequestSynced, events.RequestOutcomePayload{RequestID: req.ID, Success: true})
}

func (q *ReplayQueue) retryOrDrop(ctx context.Context, req *models.QueuedRequest, cause error, summary *FlushSummary) {
	req.RetryCount++

	if req.RetryCount >= q.maxRetries {
		if err := q.store.DeleteQueuedRequest(ctx, req.ID); err != nil {
			q.logger.Error().Err(err).Str("request", req.ID).Msg("Failed to drop exhausted request")
		}
		summary.Dropped++
		metrics.IncReplay("dropped")
		q.publish(events.MsgRequestFailed, events.RequestOutcomePayload{RequestID: req.ID, Success: false, Error: cause.Error()})
		q.logger.Warn().Err(cause).Str("request", req.ID).Int("retries", req.RetryCount).Msg("Dropped request after retry ceiling")
		return
	}

	if err := q.store.UpdateQueuedRequestRetry(ctx, req.ID, req.RetryCount); err != nil {
		q.logger.Error().Err(err).Str("request", req.ID).Msg("Failed to record replay retry")
	}
	metrics.IncReplay("retry")
	q.logger.Warn().Err(cause).Str("request", req.ID).Int("retries", req.RetryCount).Msg("Replay failed, will retry")
}

func (q *ReplayQueue) publish(msg string, payload interface{}) {
	if err := q.bus.PublishJSON(msg, payload); err != nil {
		q.logger.Warn().Err(err).Str("message", msg).Msg("Failed to publish replay event")
	}
}
