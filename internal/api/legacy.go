package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/beacon-control/bcc/internal/audit"
	"github.com/beacon-control/bcc/internal/ibeacon"
	"github.com/beacon-control/bcc/internal/store"
)

const maxBodyBytes = 64 << 10

// parseIdentity reads {uuid}/{major}/{minor} and the optional rssi query
// parameter.
func parseIdentity(r *http.Request, defaultRSSI int) (ibeacon.Identity, error) {
	major, err := strconv.Atoi(r.PathValue("major"))
	if err != nil {
		return ibeacon.Identity{}, fmt.Errorf("%w: major %q is not an integer", ibeacon.ErrOutOfRange, r.PathValue("major"))
	}
	minor, err := strconv.Atoi(r.PathValue("minor"))
	if err != nil {
		return ibeacon.Identity{}, fmt.Errorf("%w: minor %q is not an integer", ibeacon.ErrOutOfRange, r.PathValue("minor"))
	}
	rssi := defaultRSSI
	if raw := r.URL.Query().Get("rssi"); raw != "" {
		if rssi, err = strconv.Atoi(raw); err != nil {
			return ibeacon.Identity{}, fmt.Errorf("%w: rssi %q is not an integer", ibeacon.ErrOutOfRange, raw)
		}
	}
	return ibeacon.ParseIdentity(r.PathValue("uuid"), major, minor, rssi)
}

// writeLegacyError writes {"error": message, "code": ..., "detail": ...}.
func writeLegacyError(w http.ResponseWriter, err error, message string) {
	writeJSON(w, legacyStatus(err), map[string]interface{}{
		"error":  message,
		"code":   errorCode(err),
		"detail": err.Error(),
	})
}

func (s *Server) auditInvalid(r *http.Request, action string, err error, start time.Time) {
	if s.audit == nil {
		return
	}
	s.audit.LogAction(r.Context(), action, nil, audit.OutcomeInvalid, err, time.Since(start))
}

// radioContext keeps the request values but not its cancellation: a client
// that hangs up must not abort a programming sequence halfway.
func radioContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// handleEnable handles GET /beacon/enable/{uuid}/{major}/{minor}?rssi=
func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := parseIdentity(r, s.opts.DefaultRSSI)
	if err != nil {
		s.auditInvalid(r, "enable", err, start)
		writeLegacyError(w, err, err.Error())
		return
	}

	res, err := s.scheduler.Enable(radioContext(r), id)
	if err != nil {
		s.log.WithError(err).WithField("beacon", id.String()).Error("Failed to enable beacon")
		writeLegacyError(w, err, "Failed to start beacon broadcasting")
		return
	}

	// An already active beacon keeps the RSSI it is advertising with.
	rssi := id.RSSI
	for _, a := range res.Active {
		if a.SameBeacon(id) {
			rssi = a.RSSI
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": res.Status,
		"uuid":   id.UUID.String(),
		"major":  id.Major,
		"minor":  id.Minor,
		"rssi":   rssi,
		"mode":   res.Mode,
		"active": res.Active,
	})
}

// handleDisableAll handles GET /beacon/disable
func (s *Server) handleDisableAll(w http.ResponseWriter, r *http.Request) {
	res := s.scheduler.DisableAll(radioContext(r))
	writeJSON(w, http.StatusOK, res)
}

// handleDisableOne handles GET /beacon/disable/{uuid}/{major}/{minor}
func (s *Server) handleDisableOne(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := parseIdentity(r, s.opts.DefaultRSSI)
	if err != nil {
		s.auditInvalid(r, "disableOne", err, start)
		writeLegacyError(w, err, err.Error())
		return
	}

	res, err := s.scheduler.DisableOne(radioContext(r), id)
	if err != nil {
		s.log.WithError(err).WithField("beacon", id.String()).Error("Failed to reprogram after disable")
		writeLegacyError(w, err, "Failed to update beacon broadcasting")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": res.Status,
		"uuid":   id.UUID.String(),
		"major":  id.Major,
		"minor":  id.Minor,
		"mode":   res.Mode,
		"active": res.Active,
	})
}

// handleCurrent handles GET /beacon
func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Current())
}

func (s *Server) handleUSBStatus(w http.ResponseWriter, r *http.Request) {
	if s.usb == nil {
		writeLegacyError(w, ErrUnavailable, "USB power control not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"power": s.usb.Status(r.Context())})
}

func (s *Server) handleUSBEnable(w http.ResponseWriter, r *http.Request) {
	if s.usb == nil {
		writeLegacyError(w, ErrUnavailable, "USB power control not configured")
		return
	}
	s.usb.PowerOn(radioContext(r))
	s.handleUSBStatus(w, r)
}

func (s *Server) handleUSBDisable(w http.ResponseWriter, r *http.Request) {
	if s.usb == nil {
		writeLegacyError(w, ErrUnavailable, "USB power control not configured")
		return
	}
	s.usb.PowerOff(radioContext(r))
	s.handleUSBStatus(w, r)
}

// handleListSaved handles GET /beacon/list
func (s *Server) handleListSaved(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeLegacyError(w, ErrUnavailable, "Saved beacons not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.store.List())
}

// handleAddSaved handles POST /beacon/add
func (s *Server) handleAddSaved(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeLegacyError(w, ErrUnavailable, "Saved beacons not configured")
		return
	}

	var b store.SavedBeacon
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&b); err != nil {
		err = fmt.Errorf("%w: malformed JSON: %v", ErrBadRequest, err)
		writeLegacyError(w, err, err.Error())
		return
	}

	list, err := s.store.Add(b)
	if err != nil {
		writeLegacyError(w, err, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleDeleteSaved handles DELETE /beacon/delete/{index}
func (s *Server) handleDeleteSaved(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeLegacyError(w, ErrUnavailable, "Saved beacons not configured")
		return
	}

	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		err = fmt.Errorf("%w: index %q is not an integer", ErrBadRequest, r.PathValue("index"))
		writeLegacyError(w, err, err.Error())
		return
	}

	list, err := s.store.Delete(index)
	if err != nil {
		writeLegacyError(w, err, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleIndex serves the web UI, or a notice when it is not installed.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(s.opts.WebDir, "index.html")
	info, err := os.Stat(path)
	if err == nil && !info.IsDir() {
		http.ServeFile(w, r, path)
		return
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.WithError(err).Warn("Failed to stat web UI")
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Web UI not installed. API is working."})
}
