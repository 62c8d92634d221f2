package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event types published by the broadcast scheduler.
const (
	EventReady          = "ready"
	EventBeaconEnabled  = "beaconEnabled"
	EventBeaconDisabled = "beaconDisabled"
	EventModeChanged    = "modeChanged"
	EventFault          = "fault"
	EventHeartbeat      = "heartbeat"
)

// ErrHubStopped is returned by Publish and Subscribe after Stop.
var ErrHubStopped = errors.New("telemetry hub stopped")

// Event represents a telemetry event with SSE formatting.
type Event struct {
	ID   int64                  `json:"id,omitempty"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// SnapshotFunc returns the state sent in the ready event of each new client.
type SnapshotFunc func() map[string]interface{}

// Options configures a Hub.
type Options struct {
	BufferSize        int
	ClientQueue       int
	HeartbeatInterval time.Duration
}

// Client represents an SSE client connection.
type Client struct {
	ID     string
	Writer http.ResponseWriter
	LastID int64
	Events chan Event
	cancel context.CancelFunc
	mu     sync.Mutex // guards Writer
}

// Hub fans events out to SSE clients.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	buffer   *EventBuffer
	snapshot SnapshotFunc

	nextID  int64
	dropped int64

	opts Options
	log  logrus.FieldLogger

	heartbeatStop chan struct{}
	done          chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// EventBuffer keeps the most recent events for replay.
type EventBuffer struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

// NewHub creates a telemetry hub.
func NewHub(opts Options, log logrus.FieldLogger) *Hub {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	if opts.ClientQueue <= 0 {
		opts.ClientQueue = 64
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		clients: make(map[string]*Client),
		buffer:  NewEventBuffer(opts.BufferSize),
		opts:    opts,
		log:     log.WithField("component", "telemetry"),
		done:    make(chan struct{}),
	}
}

// SetSnapshot sets the source of the ready event payload.
func (h *Hub) SetSnapshot(fn SnapshotFunc) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Subscribe serves one SSE client until ctx is done or the hub stops.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	clientCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lastEventID := int64(0)
	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if id, err := strconv.ParseInt(lastIDStr, 10, 64); err == nil {
			lastEventID = id
		}
	}

	client := &Client{
		ID:     uuid.NewString(),
		Writer: w,
		LastID: lastEventID,
		Events: make(chan Event, h.opts.ClientQueue),
		cancel: cancel,
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	if h.heartbeatStop == nil {
		h.startHeartbeat()
	}
	h.mu.Unlock()
	defer h.unregisterClient(client.ID)

	h.log.WithField("client", client.ID).Debug("client subscribed")

	if err := h.sendEventToClient(client, h.readyEvent()); err != nil {
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	if lastEventID > 0 {
		for _, event := range h.buffer.GetEventsAfter(lastEventID) {
			if err := h.sendEventToClient(client, event); err != nil {
				return fmt.Errorf("failed to replay events: %w", err)
			}
		}
	}

	for {
		select {
		case <-clientCtx.Done():
			return nil
		case <-h.done:
			return nil
		case event := <-client.Events:
			if event.ID <= client.LastID {
				continue
			}
			if err := h.sendEventToClient(client, event); err != nil {
				return nil
			}
		}
	}
}

// Publish assigns an ID, buffers the event and queues it for every client.
// Slow clients miss events rather than block the publisher.
func (h *Hub) Publish(event Event) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	if event.ID == 0 {
		event.ID = atomic.AddInt64(&h.nextID, 1)
	}
	if event.Data == nil {
		event.Data = map[string]interface{}{}
	}
	if _, ok := event.Data["ts"]; !ok {
		event.Data["ts"] = time.Now().UTC().Format(time.RFC3339)
	}
	if event.Type != EventHeartbeat {
		h.buffer.AddEvent(event)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.Events <- event:
		default:
			atomic.AddInt64(&h.dropped, 1)
			h.log.WithField("client", client.ID).Debug("dropped event for slow client")
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many client deliveries were dropped.
func (h *Hub) Dropped() int64 {
	return atomic.LoadInt64(&h.dropped)
}

// Buffer exposes the replay buffer.
func (h *Hub) Buffer() *EventBuffer {
	return h.buffer
}

func (h *Hub) readyEvent() Event {
	h.mu.RLock()
	fn := h.snapshot
	h.mu.RUnlock()

	snapshot := map[string]interface{}{}
	if fn != nil {
		snapshot = fn()
	}
	return Event{
		Type: EventReady,
		Data: map[string]interface{}{
			"snapshot": snapshot,
			"ts":       time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// sendEventToClient writes a single event in SSE framing.
func (h *Hub) sendEventToClient(client *Client, event Event) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	if event.ID > 0 {
		if _, err := fmt.Fprintf(client.Writer, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(client.Writer, "event: %s\n", event.Type); err != nil {
		return fmt.Errorf("failed to write event type: %w", err)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(client.Writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}

	if flusher, ok := client.Writer.(http.Flusher); ok {
		flusher.Flush()
	}
	if event.ID > client.LastID {
		client.LastID = event.ID
	}
	return nil
}

func (h *Hub) unregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, exists := h.clients[clientID]
	if !exists {
		return
	}
	client.cancel()
	delete(h.clients, clientID)

	if len(h.clients) == 0 && h.heartbeatStop != nil {
		close(h.heartbeatStop)
		h.heartbeatStop = nil
	}
}

// startHeartbeat runs the heartbeat goroutine. Caller holds h.mu.
func (h *Hub) startHeartbeat() {
	stop := make(chan struct{})
	h.heartbeatStop = stop
	ticker := time.NewTicker(h.opts.HeartbeatInterval)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = h.Publish(Event{Type: EventHeartbeat})
			case <-stop:
				return
			case <-h.done:
				return
			}
		}
	}()
}

// Stop disconnects all clients and waits for the heartbeat to exit.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for _, client := range h.clients {
			client.cancel()
		}
		h.mu.Unlock()

		done := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			h.log.Warn("telemetry hub stop timed out")
		}
	})
}

// NewEventBuffer creates a new event buffer with the specified capacity.
func NewEventBuffer(capacity int) *EventBuffer {
	return &EventBuffer{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
	}
}

// AddEvent appends an event, evicting the oldest past capacity.
func (b *EventBuffer) AddEvent(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)
	if len(b.events) > b.capacity {
		b.events = b.events[len(b.events)-b.capacity:]
	}
}

// GetEventsAfter returns events after the specified ID.
func (b *EventBuffer) GetEventsAfter(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events {
		if event.ID > lastID {
			result = append(result, event)
		}
	}
	return result
}

// GetCapacity returns the buffer capacity.
func (b *EventBuffer) GetCapacity() int {
	return b.capacity
}

// GetSize returns the current buffer size.
func (b *EventBuffer) GetSize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
