package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"relaysync/internal/domain"
	"relaysync/internal/events"
	"relaysync/internal/models"

	"github.com/rs/zerolog"
)

// Strategy is the closed set of conflict resolution policies, selected
// globally by configuration.
type Strategy int

const (
	ClientWins Strategy = iota
	ServerWins
	Merge
	Manual
)

func (s Strategy) String() string {
	switch s {
	case ClientWins:
		return "client-wins"
	case ServerWins:
		return "server-wins"
	case Merge:
		return "merge"
	case Manual:
		return "manual"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a config string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "client-wins":
		return ClientWins, nil
	case "server-wins":
		return ServerWins, nil
	case "merge":
		return Merge, nil
	case "manual":
		return Manual, nil
	default:
		return Manual, fmt.Errorf("unknown conflict strategy: %s", s)
	}
}

// Resolver applies the configured strategy to items the server reported as
// conflicting.
type Resolver struct {
	strategy Strategy
	client   domain.BatchAPI
	store    domain.SyncStore
	bus      *events.Bus
	logger   *zerolog.Logger
}

func NewResolver(strategy Strategy, client domain.BatchAPI, store domain.SyncStore, bus *events.Bus, logger *zerolog.Logger) *Resolver {
	return &Resolver{
		strategy: strategy,
		client:   client,
		store:    store,
		bus:      bus,
		logger:   logger,
	}
}

// Resolve arbitrates one conflicted item. It returns true when the item is
// settled (the caller marks it synced), false when resolution is deferred to
// manual action. A returned error means the attempt failed and the item goes
// to failed, not back to conflict.
func (r *Resolver) Resolve(ctx context.Context, item *models.SyncItem) (bool, error) {
	switch r.strategy {
	case ClientWins:
		return r.clientWins(ctx, item)
	case ServerWins:
		return r.serverWins(ctx, item)
	case Merge:
		return r.merge(ctx, item)
	case Manual:
		r.deferToManual(item)
		return false, nil
	default:
		r.deferToManual(item)
		return false, nil
	}
}

// clientWins reissues the local mutation with a forced-override header; the
// server overwrites regardless of its current state.
func (r *Resolver) clientWins(ctx context.Context, item *models.SyncItem) (bool, error) {
	if err := r.client.ResolveUpdate(ctx, item.ResourceType, item.Payload, "force-client"); err != nil {
		return false, fmt.Errorf("client-wins resolution: %w", err)
	}
	return true, nil
}

// serverWins discards the local mutation and stages the server's state for
// local consumers. No network call is needed.
func (r *Resolver) serverWins(ctx context.Context, item *models.SyncItem) (bool, error) {
	if len(item.ConflictPayload) > 0 {
		key := fmt.Sprintf("resolved:%s:%s", item.ResourceType, item.ID)
		if err := r.store.SetValue(ctx, key, item.ConflictPayload); err != nil {
			// Persistence failure does not block resolution; the server
			// already holds the winning state.
			r.logger.Warn().Err(err).Str("item", item.ID).Msg("Failed to stage server state locally")
		}
	}
	return true, nil
}

func (r *Resolver) merge(ctx context.Context, item *models.SyncItem) (bool, error) {
	merged := MergePayloads(item.Payload, item.ConflictPayload)
	if err := r.client.ResolveUpdate(ctx, item.ResourceType, merged, "merge"); err != nil {
		return false, fmt.Errorf("merge resolution: %w", err)
	}
	return true, nil
}

func (r *Resolver) deferToManual(item *models.SyncItem) {
	if err := r.bus.PublishJSON(events.EventConflictManual, item); err != nil {
		r.logger.Warn().Err(err).Str("item", item.ID).Msg("Failed to publish manual conflict event")
	}
}

// MergePayloads shallow-merges client fields over server fields, except when
// the server's updated_at is newer than the client's, in which case the
// server payload wins wholesale.
func MergePayloads(client, server json.RawMessage) json.RawMessage {
	var clientObj, serverObj map[string]json.RawMessage
	if err := json.Unmarshal(client, &clientObj); err != nil {
		if len(server) > 0 {
			return server
		}
		return client
	}
	if len(server) == 0 || json.Unmarshal(server, &serverObj) != nil {
		return client
	}

	if serverNewer(clientObj, serverObj) {
		return server
	}

	merged := make(map[string]json.RawMessage, len(serverObj)+len(clientObj))
	for k, v := range serverObj {
		merged[k] = v
	}
	for k, v := range clientObj {
		merged[k] = v
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return client
	}
	return out
}

func serverNewer(clientObj, serverObj map[string]json.RawMessage) bool {
	clientAt, okClient := timestampField(clientObj)
	serverAt, okServer := timestampField(serverObj)
	if !okClient || !okServer {
		return false
	}
	return serverAt.After(clientAt)
}

func timestampField(obj map[string]json.RawMessage) (time.Time, bool) {
	raw, ok := obj["updated_at"]
	if !ok {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
