package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"

	"github.com/beacon-control/bcc/internal/adapter"
	"github.com/beacon-control/bcc/internal/auth"
	"github.com/beacon-control/bcc/internal/ibeacon"
)

// Outcomes recorded in AuditEntry.Outcome.
const (
	OutcomeSuccess       = "SUCCESS"
	OutcomeAlreadyActive = "ALREADY_ACTIVE"
	OutcomeNotFound      = "NOT_FOUND"
	OutcomeInvalid       = "INVALID"
	OutcomeError         = "ERROR"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	Timestamp time.Time `json:"ts"`
	User      string    `json:"user"`
	Action    string    `json:"action"`
	Beacon    string    `json:"beacon,omitempty"`
	Outcome   string    `json:"outcome"`
	Code      string    `json:"code"`
	LatencyMs int64     `json:"latencyMs"`
}

// Options configures log rotation.
type Options struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger appends audit entries to audit.jsonl.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      io.WriteCloser
}

// NewLogger creates the log directory and an audit logger writing into it.
func NewLogger(logDir string, opts Options) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}

	filePath := filepath.Join(logDir, "audit.jsonl")
	return &Logger{
		filePath: filePath,
		out: &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
			LocalTime:  false,
		},
	}, nil
}

// NewWriterLogger writes entries to w. Used where no file is wanted.
func NewWriterLogger(w io.WriteCloser) *Logger {
	return &Logger{out: w}
}

// LogAction records one action against a beacon.
func (l *Logger) LogAction(ctx context.Context, action string, id *ibeacon.Identity, outcome string, err error, latency time.Duration) {
	entry := AuditEntry{
		Timestamp: time.Now().UTC(),
		User:      userFromContext(ctx),
		Action:    action,
		Outcome:   outcome,
		Code:      codeFromError(err),
		LatencyMs: latency.Milliseconds(),
	}
	if id != nil {
		entry.Beacon = id.String()
	}
	l.writeEntry(entry)
}

func (l *Logger) writeEntry(entry AuditEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal audit entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return
	}
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write audit entry: %v\n", err)
	}
}

func userFromContext(ctx context.Context) string {
	if claims := auth.ClaimsFromContext(ctx); claims != nil && claims.Subject != "" {
		return claims.Subject
	}
	return "anonymous"
}

func codeFromError(err error) string {
	if err == nil {
		return "SUCCESS"
	}
	if code := adapter.CodeOf(err); code != nil {
		return code.Error()
	}
	switch {
	case errors.Is(err, ibeacon.ErrInvalidIdentity):
		return ibeacon.ErrInvalidIdentity.Error()
	case errors.Is(err, ibeacon.ErrOutOfRange):
		return ibeacon.ErrOutOfRange.Error()
	}
	return "ERROR"
}

// Rotate starts a new audit file, keeping the old one as a backup.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.out.(interface{ Rotate() error }); ok {
		return r.Rotate()
	}
	return nil
}

// Close closes the underlying writer.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}

// GetFilePath returns the path to the audit log file.
func (l *Logger) GetFilePath() string {
	return l.filePath
}
