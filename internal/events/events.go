package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Page-side sync engine events.
const (
	EventSyncStart      = "sync-start"
	EventSyncProgress   = "sync-progress"
	EventSyncComplete   = "sync-complete"
	EventSyncError      = "sync-error"
	EventItemQueued     = "item-queued"
	EventConflictManual = "conflict-manual"
	EventQueueCleared   = "queue-cleared"
)

// Worker-side messages surfaced to page clients.
const (
	MsgSyncComplete  = "SYNC_COMPLETE"
	MsgSyncError     = "SYNC_ERROR"
	MsgRequestSynced = "REQUEST_SYNCED"
	MsgRequestFailed = "REQUEST_FAILED"
)

// RequestOutcomePayload accompanies REQUEST_SYNCED and REQUEST_FAILED.
type RequestOutcomePayload struct {
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// SyncProgressPayload accompanies sync-progress.
type SyncProgressPayload struct {
	Batch        int `json:"batch"`
	TotalBatches int `json:"total_batches"`
	Processed    int `json:"processed"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Handler reacts to an event.
type Handler func(event *Event) error

// Bus provides in-process pub/sub between the proxy and engine contexts.
type Bus struct {
	subscribers map[string]map[int]Handler
	nextID      int
	mu          sync.RWMutex
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]map[int]Handler)}
}

// Subscribe registers a handler for an event type and returns a token for Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	if b.subscribers[eventType] == nil {
		b.subscribers[eventType] = make(map[int]Handler)
	}
	b.subscribers[eventType][b.nextID] = handler
	return b.nextID
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(eventType string, token int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers[eventType], token)
}

// Publish notifies subscribers of the event type.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers[event.Type]))
	for _, h := range b.subscribers[event.Type] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *Bus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
