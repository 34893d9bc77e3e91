package conflict

import (
	"context"
	"encoding/json"
	"testing"

	"relaysync/internal/database"
	"relaysync/internal/domain"
	"relaysync/internal/events"
	"relaysync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBatchAPI records ResolveUpdate calls; the resolver never touches the
// batch endpoints.
type fakeBatchAPI struct {
	resolvedType     string
	resolvedPayload  json.RawMessage
	resolvedStrategy string
	err              error
}

func (f *fakeBatchAPI) BatchCreate(ctx context.Context, collection string, items []json.RawMessage) (*domain.BatchResponse, error) {
	return &domain.BatchResponse{Success: true}, nil
}

func (f *fakeBatchAPI) BatchUpdate(ctx context.Context, collection string, items []json.RawMessage) (*domain.BatchResponse, error) {
	return &domain.BatchResponse{Success: true}, nil
}

func (f *fakeBatchAPI) BatchDelete(ctx context.Context, collection string, ids []string) (*domain.BatchResponse, error) {
	return &domain.BatchResponse{Success: true}, nil
}

func (f *fakeBatchAPI) ResolveUpdate(ctx context.Context, collection string, payload json.RawMessage, resolution string) error {
	f.resolvedType = collection
	f.resolvedPayload = payload
	f.resolvedStrategy = resolution
	return f.err
}

func setupResolver(t *testing.T, strategy Strategy, api *fakeBatchAPI) (*Resolver, *database.DB, *events.Bus) {
	t.Helper()

	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := events.NewBus()
	return NewResolver(strategy, api, db, bus, &logger), db, bus
}

func TestParseStrategy(t *testing.T) {
	for _, name := range []string{"client-wins", "server-wins", "merge", "manual"} {
		s, err := ParseStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, name, s.String())
	}

	_, err := ParseStrategy("coin-flip")
	assert.Error(t, err)
}

func TestResolveClientWins(t *testing.T) {
	api := &fakeBatchAPI{}
	resolver, _, _ := setupResolver(t, ClientWins, api)

	item := &models.SyncItem{
		ID:           "item-1",
		ResourceType: "messages",
		Payload:      json.RawMessage(`{"id":"m1","text":"local"}`),
	}

	resolved, err := resolver.Resolve(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, resolved)
	assert.Equal(t, "force-client", api.resolvedStrategy)
	assert.Equal(t, "messages", api.resolvedType)
	assert.JSONEq(t, `{"id":"m1","text":"local"}`, string(api.resolvedPayload))
}

func TestResolveServerWinsStagesServerState(t *testing.T) {
	api := &fakeBatchAPI{}
	resolver, db, _ := setupResolver(t, ServerWins, api)

	item := &models.SyncItem{
		ID:              "item-2",
		ResourceType:    "messages",
		Payload:         json.RawMessage(`{"id":"m1","text":"local"}`),
		ConflictPayload: json.RawMessage(`{"id":"m1","text":"server"}`),
	}

	resolved, err := resolver.Resolve(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, resolved)

	// No network call is made for server-wins.
	assert.Empty(t, api.resolvedStrategy)

	staged, err := db.GetValue(context.Background(), "resolved:messages:item-2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"m1","text":"server"}`, string(staged))
}

func TestResolveMergeSubmitsMergedPayload(t *testing.T) {
	api := &fakeBatchAPI{}
	resolver, _, _ := setupResolver(t, Merge, api)

	item := &models.SyncItem{
		ID:              "item-3",
		ResourceType:    "conversations",
		Payload:         json.RawMessage(`{"id":"c1","title":"local title"}`),
		ConflictPayload: json.RawMessage(`{"id":"c1","title":"server title","pinned":true}`),
	}

	resolved, err := resolver.Resolve(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, resolved)
	assert.Equal(t, "merge", api.resolvedStrategy)
	assert.JSONEq(t, `{"id":"c1","title":"local title","pinned":true}`, string(api.resolvedPayload))
}

func TestResolveManualEmitsEvent(t *testing.T) {
	api := &fakeBatchAPI{}
	resolver, _, bus := setupResolver(t, Manual, api)

	var published json.RawMessage
	bus.Subscribe(events.EventConflictManual, func(event *events.Event) error {
		published = event.Payload
		return nil
	})

	item := &models.SyncItem{ID: "item-4", ResourceType: "messages", Payload: json.RawMessage(`{}`)}

	resolved, err := resolver.Resolve(context.Background(), item)
	require.NoError(t, err)
	assert.False(t, resolved)
	require.NotEmpty(t, published)

	var got models.SyncItem
	require.NoError(t, json.Unmarshal(published, &got))
	assert.Equal(t, "item-4", got.ID)
}

func TestMergePayloadsServerNewerWinsWholesale(t *testing.T) {
	client := json.RawMessage(`{"id":"c1","title":"local","updated_at":"2026-08-01T10:00:00Z"}`)
	server := json.RawMessage(`{"id":"c1","title":"server","updated_at":"2026-08-02T10:00:00Z"}`)

	merged := MergePayloads(client, server)
	assert.JSONEq(t, string(server), string(merged))
}

func TestMergePayloadsClientFieldsOverServer(t *testing.T) {
	client := json.RawMessage(`{"id":"c1","title":"local","updated_at":"2026-08-03T10:00:00Z"}`)
	server := json.RawMessage(`{"id":"c1","title":"server","archived":true,"updated_at":"2026-08-02T10:00:00Z"}`)

	merged := MergePayloads(client, server)
	assert.JSONEq(t, `{"id":"c1","title":"local","archived":true,"updated_at":"2026-08-03T10:00:00Z"}`, string(merged))
}

func TestMergePayloadsMissingServer(t *testing.T) {
	client := json.RawMessage(`{"id":"c1"}`)
	merged := MergePayloads(client, nil)
	assert.JSONEq(t, string(client), string(merged))
}
