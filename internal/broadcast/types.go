package broadcast

import (
	"context"
	"time"

	"github.com/beacon-control/bcc/internal/ibeacon"
	"github.com/beacon-control/bcc/internal/telemetry"
)

// Status is the outcome of a scheduler operation. Statuses are values, not
// errors: an already active or unknown beacon is a normal answer.
type Status string

const (
	StatusEnabled       Status = "enabled"
	StatusAlreadyActive Status = "already_active"
	StatusDisabled      Status = "disabled"
	StatusNotFound      Status = "not_found"
	// StatusFailed accompanies an error; the set was rolled back.
	StatusFailed        Status = "failed"
)

// Mode is derived from the number of active identities.
type Mode string

const (
	ModeIdle      Mode = "idle"
	ModeSingle    Mode = "single"
	ModeMultiplex Mode = "multiplex"
)

// ModeFor returns the broadcast mode for n active identities.
func ModeFor(n int) Mode {
	switch {
	case n <= 0:
		return ModeIdle
	case n == 1:
		return ModeSingle
	default:
		return ModeMultiplex
	}
}

// ActiveBeacon is an identity in the active set.
type ActiveBeacon struct {
	ibeacon.Identity
	Since time.Time `json:"since"`
}

// Result reports the state after an operation.
type Result struct {
	Status Status         `json:"status"`
	Mode   Mode           `json:"mode"`
	Active []ActiveBeacon `json:"active"`
}

// Stats counts multiplex activity.
type Stats struct {
	Mode         Mode   `json:"mode"`
	Active       int    `json:"active"`
	Slots        uint64 `json:"slots"`
	Rotations    uint64 `json:"rotations"`
	SlotFailures uint64 `json:"slotFailures"`
	LastError    string `json:"lastError,omitempty"`
}

// Publisher receives scheduler events.
type Publisher interface {
	Publish(event telemetry.Event) error
}

// AuditLogger records scheduler operations.
type AuditLogger interface {
	LogAction(ctx context.Context, action string, id *ibeacon.Identity, outcome string, err error, latency time.Duration)
}
