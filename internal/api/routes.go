package api

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/beacon-control/bcc/internal/adapter"
	"github.com/beacon-control/bcc/internal/auth"
	"github.com/beacon-control/bcc/internal/ibeacon"
)

// RegisterRoutes registers the legacy and v1 routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// Legacy beacon routes
	mux.HandleFunc("GET /beacon/enable/{uuid}/{major}/{minor}", s.protect(auth.ScopeControl, s.handleEnable))
	mux.HandleFunc("GET /beacon/disable", s.protect(auth.ScopeControl, s.handleDisableAll))
	mux.HandleFunc("GET /beacon/disable/{uuid}/{major}/{minor}", s.protect(auth.ScopeControl, s.handleDisableOne))
	mux.HandleFunc("GET /beacon", s.protect(auth.ScopeRead, s.handleCurrent))

	// USB power
	mux.HandleFunc("GET /beacon/usb", s.protect(auth.ScopeRead, s.handleUSBStatus))
	mux.HandleFunc("GET /beacon/usb/enable", s.protect(auth.ScopeControl, s.handleUSBEnable))
	mux.HandleFunc("GET /beacon/usb/disable", s.protect(auth.ScopeControl, s.handleUSBDisable))

	// Saved beacons and web UI
	mux.HandleFunc("GET /beacon/list", s.protect(auth.ScopeRead, s.handleListSaved))
	mux.HandleFunc("POST /beacon/add", s.protect(auth.ScopeControl, s.handleAddSaved))
	mux.HandleFunc("DELETE /beacon/delete/{index}", s.protect(auth.ScopeControl, s.handleDeleteSaved))
	mux.HandleFunc("GET /{$}", s.handleIndex)

	// API v1 (health is always open)
	apiV1 := "/api/v1"
	mux.HandleFunc("GET "+apiV1+"/health", s.handleHealth)
	mux.HandleFunc("GET "+apiV1+"/status", s.protect(auth.ScopeRead, s.handleStatus))
	mux.HandleFunc("GET "+apiV1+"/telemetry", s.protect(auth.ScopeTelemetry, s.handleTelemetry))
	mux.HandleFunc("GET "+apiV1+"/payload/{uuid}/{major}/{minor}", s.protect(auth.ScopeRead, s.handlePayload))
}

// protect wraps next with bearer auth and scope checks when auth is enabled.
func (s *Server) protect(scope string, next http.HandlerFunc) http.HandlerFunc {
	if s.authMiddleware == nil {
		return next
	}
	return s.authMiddleware.Protect(scope, next)
}

// handleHealth handles GET /api/v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime).Seconds()
	subsystems := s.checkSubsystemHealth()

	overallStatus := "ok"
	if !subsystems["scheduler"] || !subsystems["radio"] {
		overallStatus = "degraded"
	}

	health := map[string]interface{}{
		"status":     overallStatus,
		"uptimeSec":  uptime,
		"version":    s.opts.Version,
		"subsystems": subsystems,
	}
	if s.radio != nil {
		health["radio"] = s.radio.SinkStatus()
	}

	if overallStatus == "ok" {
		WriteSuccess(w, health)
		return
	}
	WriteError(w, http.StatusServiceUnavailable, "SERVICE_DEGRADED",
		"One or more subsystems are unavailable", health)
}

// checkSubsystemHealth reports which collaborators are wired and usable.
// A radio whose last command failed is reported unhealthy until a later
// command succeeds.
func (s *Server) checkSubsystemHealth() map[string]bool {
	subsystems := map[string]bool{
		"scheduler": s.scheduler != nil,
		"telemetry": s.telemetryHub != nil,
		"usb":       s.usb != nil,
		"store":     s.store != nil,
		"radio":     true,
	}
	if s.radio != nil {
		subsystems["radio"] = s.radio.SinkStatus().Status != adapter.StatusFault
	}
	return subsystems
}

// handleStatus handles GET /api/v1/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeAPIError(w, fmt.Errorf("%w: scheduler not available", ErrUnavailable))
		return
	}

	stats := s.scheduler.Stats()
	status := map[string]interface{}{
		"mode":   stats.Mode,
		"active": s.scheduler.Current(),
		"stats":  stats,
	}
	if s.radio != nil {
		status["radio"] = s.radio.SinkStatus()
	}
	if s.telemetryHub != nil {
		status["telemetryClients"] = s.telemetryHub.ClientCount()
	}
	WriteSuccess(w, status)
}

// handleTelemetry handles GET /api/v1/telemetry (SSE)
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.telemetryHub == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Telemetry service not available", nil)
		return
	}

	// The stream outlives the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	if err := s.telemetryHub.Subscribe(r.Context(), w, r); err != nil {
		s.log.WithError(err).Warn("Telemetry subscription ended with error")
	}
}

// handlePayload handles GET /api/v1/payload/{uuid}/{major}/{minor}. It
// returns the HCI commands an enable would send, without touching the radio.
func (s *Server) handlePayload(w http.ResponseWriter, r *http.Request) {
	id, err := parseIdentity(r, s.opts.DefaultRSSI)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	params, err := adapter.SetAdvertisingParameters(s.opts.IntervalMs, s.opts.IntervalMs)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	cmds := []adapter.Command{adapter.SetAdvertisingData(id), params, adapter.AdvertiseEnable(true)}
	commands := make([]map[string]interface{}, 0, len(cmds))
	for _, c := range cmds {
		commands = append(commands, map[string]interface{}{
			"name":   c.Name,
			"ogf":    fmt.Sprintf("0x%02x", c.OGF),
			"ocf":    fmt.Sprintf("0x%04x", c.OCF),
			"params": strings.Join(c.HexParams(), " "),
		})
	}

	WriteSuccess(w, map[string]interface{}{
		"beacon":          id,
		"advertisingData": hex.EncodeToString(ibeacon.AdvertisingData(id)),
		"intervalMs":      s.opts.IntervalMs,
		"commands":        commands,
	})
}
