package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/beacon-control/bcc/internal/adapter"
	"github.com/beacon-control/bcc/internal/auth"
)

// Dependencies wires the server to its collaborators. Only Scheduler is
// required; routes backed by a nil dependency answer 503.
type Dependencies struct {
	Scheduler SchedulerPort
	Telemetry TelemetryPort
	USB       USBPowerPort
	Store     StorePort
	Radio     adapter.StatusReporter
	Audit     AuditPort
	Auth      *auth.Middleware
	Log       logrus.FieldLogger
}

// Options tunes request handling.
type Options struct {
	// DefaultRSSI is used when an enable request has no rssi parameter.
	DefaultRSSI int
	// IntervalMs is shown in payload previews.
	IntervalMs int
	// WebDir holds index.html for GET /.
	WebDir string
	Version string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server represents the HTTP API server.
type Server struct {
	httpServer *http.Server

	scheduler      SchedulerPort
	telemetryHub   TelemetryPort
	usb            USBPowerPort
	store          StorePort
	radio          adapter.StatusReporter
	audit          AuditPort
	authMiddleware *auth.Middleware
	log            logrus.FieldLogger

	opts      Options
	startTime time.Time
}

// NewServer creates a new API server.
func NewServer(deps Dependencies, opts Options) *Server {
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if opts.IntervalMs == 0 {
		opts.IntervalMs = 100
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Server{
		scheduler:      deps.Scheduler,
		telemetryHub:   deps.Telemetry,
		usb:            deps.USB,
		store:          deps.Store,
		radio:          deps.Radio,
		audit:          deps.Audit,
		authMiddleware: deps.Auth,
		log:            deps.Log.WithField("component", "api"),
		opts:           opts,
		startTime:      time.Now(),
	}
}

// Handler returns the routed, request-logging handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logRequests(mux)
}

// Start listens on addr and serves until Stop.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	s.log.WithField("addr", ln.Addr().String()).Info("HTTP server listening")
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"status":  rec.status,
			"latency": time.Since(start),
		}).Debug("request")
	})
}
