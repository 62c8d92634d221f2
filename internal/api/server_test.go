package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/beacon-control/bcc/internal/adapter/fake"
	"github.com/beacon-control/bcc/internal/auth"
	"github.com/beacon-control/bcc/internal/broadcast"
	"github.com/beacon-control/bcc/internal/ibeacon"
	"github.com/beacon-control/bcc/internal/store"
	"github.com/beacon-control/bcc/internal/telemetry"
)

const testUUID = "bbbbbbbb-aaaa-dddd-beef-0000000000fe"

type stubUSB struct {
	mu sync.Mutex
	on bool
}

func (u *stubUSB) PowerOn(ctx context.Context)  { u.mu.Lock(); u.on = true; u.mu.Unlock() }
func (u *stubUSB) PowerOff(ctx context.Context) { u.mu.Lock(); u.on = false; u.mu.Unlock() }
func (u *stubUSB) Status(ctx context.Context) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.on
}

type recordingAudit struct {
	mu       sync.Mutex
	outcomes []string
}

func (a *recordingAudit) LogAction(ctx context.Context, action string, id *ibeacon.Identity, outcome string, err error, latency time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = append(a.outcomes, action+":"+outcome)
}

type harness struct {
	server    *Server
	handler   http.Handler
	sink      *fake.Sink
	scheduler *broadcast.Scheduler
	hub       *telemetry.Hub
	usb       *stubUSB
	store     *store.Store
	audit     *recordingAudit
	webDir    string
}

func newHarness(t *testing.T, mw *auth.Middleware) *harness {
	t.Helper()
	log, _ := logtest.NewNullLogger()

	sink := fake.New("hci0")
	hub := telemetry.NewHub(telemetry.Options{HeartbeatInterval: time.Hour}, log)
	sched := broadcast.NewScheduler(sink, broadcast.Options{
		Dwell:     10 * time.Millisecond,
		StopGrace: time.Second,
		Log:       log,
		Publisher: hub,
	})
	hub.SetSnapshot(sched.Snapshot)

	h := &harness{
		sink:      sink,
		scheduler: sched,
		hub:       hub,
		usb:       &stubUSB{},
		store:     store.New(filepath.Join(t.TempDir(), "beacons_config.json"), log),
		audit:     &recordingAudit{},
		webDir:    t.TempDir(),
	}
	h.server = NewServer(Dependencies{
		Scheduler: sched,
		Telemetry: hub,
		USB:       h.usb,
		Store:     h.store,
		Radio:     sink,
		Audit:     h.audit,
		Auth:      mw,
		Log:       log,
	}, Options{DefaultRSSI: -59, IntervalMs: 100, WebDir: h.webDir, Version: "test"})
	h.handler = h.server.Handler()

	t.Cleanup(func() {
		_ = sched.Close(context.Background())
		hub.Stop()
	})
	return h
}

func (h *harness) do(t *testing.T, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("Invalid JSON body %q: %v", rec.Body.String(), err)
	}
	return m
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) []map[string]interface{} {
	t.Helper()
	var l []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &l); err != nil {
		t.Fatalf("Invalid JSON list %q: %v", rec.Body.String(), err)
	}
	return l
}

func TestEnableBeacon(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/beacon/enable/"+testUUID+"/1/2", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeMap(t, rec)
	if body["status"] != "enabled" || body["uuid"] != testUUID || body["mode"] != "single" {
		t.Errorf("Unexpected body %v", body)
	}
	if body["major"] != float64(1) || body["minor"] != float64(2) || body["rssi"] != float64(-59) {
		t.Errorf("Unexpected identity fields %v", body)
	}
	if active, ok := body["active"].([]interface{}); !ok || len(active) != 1 {
		t.Errorf("Expected one active beacon, got %v", body["active"])
	}
	if n := len(h.sink.Advertised()); n != 1 {
		t.Errorf("Expected one advertised payload, got %d", n)
	}

	rec = h.do(t, http.MethodGet, "/beacon/enable/"+strings.ToUpper(testUUID)+"/1/2?rssi=-70", nil, "")
	body = decodeMap(t, rec)
	if rec.Code != http.StatusOK || body["status"] != "already_active" {
		t.Errorf("Expected already_active, got %d %v", rec.Code, body)
	}
	if body["rssi"] != float64(-59) {
		t.Errorf("Expected the rssi on air, got %v", body["rssi"])
	}
	if n := len(h.sink.Batches()); n != 1 {
		t.Errorf("Expected no second programming batch, got %d", n)
	}
}

func TestEnableRejectsInvalidIdentity(t *testing.T) {
	h := newHarness(t, nil)

	cases := []struct {
		path string
		code string
	}{
		{"/beacon/enable/not-a-uuid/1/2", "INVALID_IDENTITY"},
		{"/beacon/enable/" + testUUID + "/70000/2", "OUT_OF_RANGE"},
		{"/beacon/enable/" + testUUID + "/1/-1", "OUT_OF_RANGE"},
		{"/beacon/enable/" + testUUID + "/abc/2", "OUT_OF_RANGE"},
		{"/beacon/enable/" + testUUID + "/1/2?rssi=-200", "OUT_OF_RANGE"},
		{"/beacon/enable/" + testUUID + "/1/2?rssi=loud", "OUT_OF_RANGE"},
	}
	for _, tc := range cases {
		rec := h.do(t, http.MethodGet, tc.path, nil, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.path, rec.Code)
			continue
		}
		body := decodeMap(t, rec)
		if body["code"] != tc.code || body["error"] == "" {
			t.Errorf("%s: unexpected body %v", tc.path, body)
		}
	}

	if n := h.sink.Count(""); n != 0 {
		t.Errorf("Expected no radio calls, got %d", n)
	}
	h.audit.mu.Lock()
	defer h.audit.mu.Unlock()
	if len(h.audit.outcomes) != len(cases) || h.audit.outcomes[0] != "enable:INVALID" {
		t.Errorf("Expected INVALID audit records, got %v", h.audit.outcomes)
	}
}

func TestEnableRadioFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.sink.FailOn(fake.OpApply, "Invalid argument")

	rec := h.do(t, http.MethodGet, "/beacon/enable/"+testUUID+"/1/2", nil, "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	body := decodeMap(t, rec)
	if body["error"] != "Failed to start beacon broadcasting" || body["code"] != "INVALID_RANGE" {
		t.Errorf("Unexpected error body %v", body)
	}

	rec = h.do(t, http.MethodGet, "/beacon", nil, "")
	if list := decodeList(t, rec); len(list) != 0 {
		t.Errorf("Expected rollback to empty set, got %v", list)
	}
}

func TestDisableRoutes(t *testing.T) {
	h := newHarness(t, nil)
	for _, minor := range []string{"1", "2"} {
		if rec := h.do(t, http.MethodGet, "/beacon/enable/"+testUUID+"/1/"+minor, nil, ""); rec.Code != http.StatusOK {
			t.Fatalf("Enable failed: %d %s", rec.Code, rec.Body.String())
		}
	}

	list := decodeList(t, h.do(t, http.MethodGet, "/beacon", nil, ""))
	if len(list) != 2 {
		t.Fatalf("Expected 2 active beacons, got %v", list)
	}
	if list[0]["uuid"] != testUUID || list[0]["since"] == nil {
		t.Errorf("Unexpected active entry %v", list[0])
	}

	body := decodeMap(t, h.do(t, http.MethodGet, "/beacon/disable/"+testUUID+"/1/2", nil, ""))
	if body["status"] != "disabled" || body["mode"] != "single" {
		t.Errorf("Expected disabled/single, got %v", body)
	}

	body = decodeMap(t, h.do(t, http.MethodGet, "/beacon/disable/"+testUUID+"/1/9", nil, ""))
	if body["status"] != "not_found" || body["mode"] != "single" {
		t.Errorf("Expected not_found/single, got %v", body)
	}

	rec := h.do(t, http.MethodGet, "/beacon/disable", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"status":"disabled","mode":"idle","active":[]}` {
		t.Errorf("Unexpected disable body %s", got)
	}
	if got := strings.TrimSpace(h.do(t, http.MethodGet, "/beacon", nil, "").Body.String()); got != "[]" {
		t.Errorf("Expected empty array, got %s", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodPost, "/beacon/disable", nil, "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestUSBRoutes(t *testing.T) {
	h := newHarness(t, nil)

	body := decodeMap(t, h.do(t, http.MethodGet, "/beacon/usb/enable", nil, ""))
	if body["power"] != true {
		t.Errorf("Expected power on, got %v", body)
	}
	body = decodeMap(t, h.do(t, http.MethodGet, "/beacon/usb", nil, ""))
	if body["power"] != true {
		t.Errorf("Expected power on, got %v", body)
	}
	body = decodeMap(t, h.do(t, http.MethodGet, "/beacon/usb/disable", nil, ""))
	if body["power"] != false {
		t.Errorf("Expected power off, got %v", body)
	}

	h.server.usb = nil
	h.handler = h.server.Handler()
	if rec := h.do(t, http.MethodGet, "/beacon/usb", nil, ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without USB control, got %d", rec.Code)
	}
}

func TestSavedBeaconRoutes(t *testing.T) {
	h := newHarness(t, nil)

	if got := strings.TrimSpace(h.do(t, http.MethodGet, "/beacon/list", nil, "").Body.String()); got != "[]" {
		t.Errorf("Expected empty list, got %s", got)
	}

	rec := h.do(t, http.MethodPost, "/beacon/add", strings.NewReader(`{"name":"lobby","uuid":"`+testUUID+`","major":1,"minor":2,"rssi":-59}`), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if list := decodeList(t, rec); len(list) != 1 || list[0]["name"] != "lobby" {
		t.Errorf("Unexpected list %v", list)
	}

	rec = h.do(t, http.MethodPost, "/beacon/add", strings.NewReader(`{"uuid":"nope","major":1,"minor":2}`), "")
	if rec.Code != http.StatusBadRequest || decodeMap(t, rec)["code"] != "INVALID_BEACON" {
		t.Errorf("Expected 400 INVALID_BEACON, got %d %s", rec.Code, rec.Body.String())
	}
	rec = h.do(t, http.MethodPost, "/beacon/add", strings.NewReader(`{`), "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed JSON, got %d", rec.Code)
	}

	rec = h.do(t, http.MethodDelete, "/beacon/delete/x", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad index, got %d", rec.Code)
	}
	rec = h.do(t, http.MethodDelete, "/beacon/delete/0", nil, "")
	if got := strings.TrimSpace(rec.Body.String()); rec.Code != http.StatusOK || got != "[]" {
		t.Errorf("Expected empty list after delete, got %d %s", rec.Code, got)
	}
}

func TestIndex(t *testing.T) {
	h := newHarness(t, nil)

	body := decodeMap(t, h.do(t, http.MethodGet, "/", nil, ""))
	if body["message"] != "Web UI not installed. API is working." {
		t.Errorf("Unexpected body %v", body)
	}

	if err := os.WriteFile(filepath.Join(h.webDir, "index.html"), []byte("<h1>beacons</h1>"), 0644); err != nil {
		t.Fatal(err)
	}
	rec := h.do(t, http.MethodGet, "/", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<h1>beacons</h1>") {
		t.Errorf("Expected index.html, got %d %s", rec.Code, rec.Body.String())
	}

	if rec := h.do(t, http.MethodGet, "/missing", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown path, got %d", rec.Code)
	}
}
