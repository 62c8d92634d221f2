package adapter

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/beacon-control/bcc/internal/ibeacon"
)

// Command is one raw HCI command: opcode group, opcode command and the
// parameter block.
type Command struct {
	Name   string `json:"name"`
	OGF    uint8  `json:"ogf"`
	OCF    uint16 `json:"ocf"`
	Params []byte `json:"params"`
}

// HexParams renders the parameter block the way hcitool takes it:
// one two-digit hex argument per byte.
func (c Command) HexParams() []string {
	out := make([]string, len(c.Params))
	for i, b := range c.Params {
		out[i] = hex.EncodeToString([]byte{b})
	}
	return out
}

func (c Command) String() string {
	return fmt.Sprintf("%s 0x%02x 0x%04x %s", c.Name, c.OGF, c.OCF, strings.Join(c.HexParams(), " "))
}

// SetAdvertisingData builds the LE Set Advertising Data command for id.
func SetAdvertisingData(id ibeacon.Identity) Command {
	return Command{
		Name:   "le_set_advertising_data",
		OGF:    ibeacon.OGFLEController,
		OCF:    ibeacon.OCFSetAdvertisingData,
		Params: ibeacon.SetAdvertisingDataParams(id),
	}
}

// SetAdvertisingParameters builds the LE Set Advertising Parameters command.
func SetAdvertisingParameters(minMs, maxMs int) (Command, error) {
	p, err := ibeacon.SetAdvertisingParametersParams(minMs, maxMs)
	if err != nil {
		return Command{}, err
	}
	return Command{
		Name:   "le_set_advertising_parameters",
		OGF:    ibeacon.OGFLEController,
		OCF:    ibeacon.OCFSetAdvertisingParams,
		Params: p,
	}, nil
}

// AdvertiseEnable builds the LE Set Advertise Enable command.
func AdvertiseEnable(on bool) Command {
	return Command{
		Name:   "le_set_advertise_enable",
		OGF:    ibeacon.OGFLEController,
		OCF:    ibeacon.OCFSetAdvertiseEnable,
		Params: ibeacon.AdvertiseEnableParams(on),
	}
}

// RadioSink is the southbound contract of the broadcast scheduler.
// Commands are applied in submission order. A failed call returns an error
// matching ErrRadio and leaves caller state alone.
type RadioSink interface {
	// InterfaceDown powers the controller interface down. Idempotent.
	InterfaceDown(ctx context.Context) error

	// InterfaceUp powers the controller interface up. Idempotent.
	InterfaceUp(ctx context.Context) error

	// Apply sends one raw command to the controller.
	Apply(ctx context.Context, cmd Command) error

	// SetInterval programs the advertising interval and enables advertising.
	SetInterval(ctx context.Context, minMs, maxMs int) error
}

// Interface status values.
const (
	StatusUnknown = "unknown"
	StatusUp      = "up"
	StatusDown    = "down"
	StatusFault   = "fault"
)

// SinkStatus is a point-in-time view of a sink for health reporting.
type SinkStatus struct {
	Interface string `json:"interface"`
	Model     string `json:"model"`
	Status    string `json:"status"`
	LastError string `json:"lastError,omitempty"`
	Commands  uint64 `json:"commands"`
}

// StatusReporter is implemented by sinks that expose SinkStatus.
type StatusReporter interface {
	SinkStatus() SinkStatus
}

// SinkBase tracks interface status for sink implementations.
type SinkBase struct {
	// Interface is the controller name, e.g. hci0
	Interface string

	// Model identifies the sink implementation
	Model string

	mu        sync.RWMutex
	status    string
	lastError string
	commands  uint64
}

// NewSinkBase returns a base in StatusUnknown.
func NewSinkBase(iface, model string) SinkBase {
	return SinkBase{Interface: iface, Model: model, status: StatusUnknown}
}

// GetInterface returns the controller interface name.
func (b *SinkBase) GetInterface() string {
	return b.Interface
}

// GetStatus returns the interface status.
func (b *SinkBase) GetStatus() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.status == "" {
		return StatusUnknown
	}
	return b.status
}

// SetStatus updates the interface status.
func (b *SinkBase) SetStatus(status string) {
	b.mu.Lock()
	b.status = status
	b.mu.Unlock()
}

// RecordResult counts a command and remembers the last failure.
func (b *SinkBase) RecordResult(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands++
	if err != nil {
		b.lastError = err.Error()
		b.status = StatusFault
	}
}

// SinkStatus implements StatusReporter.
func (b *SinkBase) SinkStatus() SinkStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	status := b.status
	if status == "" {
		status = StatusUnknown
	}
	return SinkStatus{
		Interface: b.Interface,
		Model:     b.Model,
		Status:    status,
		LastError: b.lastError,
		Commands:  b.commands,
	}
}
