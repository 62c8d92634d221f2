package api

import (
	"context"
	"net/http"
	"time"

	"github.com/beacon-control/bcc/internal/audit"
	"github.com/beacon-control/bcc/internal/broadcast"
	"github.com/beacon-control/bcc/internal/ibeacon"
	"github.com/beacon-control/bcc/internal/store"
	"github.com/beacon-control/bcc/internal/telemetry"
	"github.com/beacon-control/bcc/internal/usbpower"
)

// SchedulerPort is what the API needs from the broadcast scheduler.
type SchedulerPort interface {
	Enable(ctx context.Context, id ibeacon.Identity) (broadcast.Result, error)
	DisableAll(ctx context.Context) broadcast.Result
	DisableOne(ctx context.Context, id ibeacon.Identity) (broadcast.Result, error)
	Current() []broadcast.ActiveBeacon
	Stats() broadcast.Stats
}

// TelemetryPort is what the API needs from the telemetry hub.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	ClientCount() int
}

// USBPowerPort switches the dongle's hub port.
type USBPowerPort interface {
	PowerOn(ctx context.Context)
	PowerOff(ctx context.Context)
	Status(ctx context.Context) bool
}

// StorePort holds the saved beacon list.
type StorePort interface {
	List() []store.SavedBeacon
	Add(b store.SavedBeacon) ([]store.SavedBeacon, error)
	Delete(index int) ([]store.SavedBeacon, error)
}

// AuditPort records requests rejected before they reach the scheduler.
type AuditPort interface {
	LogAction(ctx context.Context, action string, id *ibeacon.Identity, outcome string, err error, latency time.Duration)
}

var (
	_ AuditPort     = (*audit.Logger)(nil)
	_ SchedulerPort = (*broadcast.Scheduler)(nil)
	_ TelemetryPort = (*telemetry.Hub)(nil)
	_ USBPowerPort  = (*usbpower.Controller)(nil)
	_ StorePort     = (*store.Store)(nil)
)
