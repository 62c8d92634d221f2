package telemetry

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
)

// syncRecorder is an http.ResponseWriter safe for concurrent reads in tests.
type syncRecorder struct {
	mu     sync.Mutex
	header http.Header
	body   strings.Builder
}

func newSyncRecorder() *syncRecorder {
	return &syncRecorder{header: make(http.Header)}
}

func (r *syncRecorder) Header() http.Header { return r.header }
func (r *syncRecorder) WriteHeader(int)     {}
func (r *syncRecorder) Flush()              {}

func (r *syncRecorder) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.Write(b)
}

func (r *syncRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.String()
}

func newTestHub() *Hub {
	log, _ := logtest.NewNullLogger()
	return NewHub(Options{BufferSize: 3, HeartbeatInterval: time.Hour}, log)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func subscribe(t *testing.T, h *Hub, lastID string) (*syncRecorder, context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	w := newSyncRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/telemetry", nil)
	if lastID != "" {
		r.Header.Set("Last-Event-ID", lastID)
	}
	errc := make(chan error, 1)
	go func() { errc <- h.Subscribe(ctx, w, r) }()
	return w, cancel, errc
}

func TestSubscribeSendsReadySnapshot(t *testing.T) {
	h := newTestHub()
	defer h.Stop()
	h.SetSnapshot(func() map[string]interface{} {
		return map[string]interface{}{"mode": "idle"}
	})

	w, cancel, errc := subscribe(t, h, "")
	waitFor(t, func() bool { return strings.Contains(w.String(), "event: ready") })

	if !strings.Contains(w.String(), `"mode":"idle"`) {
		t.Errorf("Expected snapshot in ready event, got %q", w.String())
	}
	if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
		t.Errorf("Expected SSE content type, got %q", got)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Subscribe returned %v", err)
	}
	waitFor(t, func() bool { return h.ClientCount() == 0 })
}

func TestPublishDeliversWithMonotonicIDs(t *testing.T) {
	h := newTestHub()
	defer h.Stop()

	w, cancel, _ := subscribe(t, h, "")
	defer cancel()
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	for i := 0; i < 2; i++ {
		if err := h.Publish(Event{Type: EventBeaconEnabled, Data: map[string]interface{}{"n": i}}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	waitFor(t, func() bool { return strings.Count(w.String(), "event: beaconEnabled") == 2 })

	var ids []string
	sc := bufio.NewScanner(strings.NewReader(w.String()))
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "id: ") {
			ids = append(ids, strings.TrimPrefix(sc.Text(), "id: "))
		}
	}
	if len(ids) != 2 || ids[0] != "1" || ids[1] != "2" {
		t.Errorf("Expected ids [1 2], got %v", ids)
	}
}

func TestReplayAfterLastEventID(t *testing.T) {
	h := newTestHub()
	defer h.Stop()

	for i := 0; i < 5; i++ {
		_ = h.Publish(Event{Type: EventModeChanged})
	}
	if h.Buffer().GetSize() != 3 {
		t.Fatalf("Expected buffer capped at 3, got %d", h.Buffer().GetSize())
	}

	w, cancel, _ := subscribe(t, h, "3")
	defer cancel()
	waitFor(t, func() bool { return strings.Contains(w.String(), "id: 5") })

	out := w.String()
	if strings.Contains(out, "id: 3\n") {
		t.Errorf("Did not expect event 3 to be replayed: %q", out)
	}
	if !strings.Contains(out, "id: 4\n") {
		t.Errorf("Expected event 4 to be replayed: %q", out)
	}
}

func TestHeartbeatsAreNotBuffered(t *testing.T) {
	h := newTestHub()
	defer h.Stop()

	_ = h.Publish(Event{Type: EventHeartbeat})
	if h.Buffer().GetSize() != 0 {
		t.Errorf("Expected heartbeat to skip the buffer, got size %d", h.Buffer().GetSize())
	}
}

func TestStopEndsSubscribersAndRejectsPublish(t *testing.T) {
	h := newTestHub()

	_, cancel, errc := subscribe(t, h, "")
	defer cancel()
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.Stop()
	select {
	case <-errc:
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after Stop")
	}

	if err := h.Publish(Event{Type: EventFault}); err != ErrHubStopped {
		t.Errorf("Expected ErrHubStopped, got %v", err)
	}
	h.Stop()
}

func TestSlowClientDropsInsteadOfBlocking(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	h := NewHub(Options{ClientQueue: 1, HeartbeatInterval: time.Hour}, log)
	defer h.Stop()

	client := &Client{ID: "stuck", Events: make(chan Event, 1), cancel: func() {}}
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	start := time.Now()
	for i := 0; i < 5; i++ {
		_ = h.Publish(Event{Type: EventBeaconDisabled})
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Errorf("Publish blocked on a slow client for %v", time.Since(start))
	}
	if h.Dropped() != 4 {
		t.Errorf("Expected 4 dropped deliveries, got %d", h.Dropped())
	}
}
