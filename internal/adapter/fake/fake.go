// Package fake provides a recording RadioSink for tests.
//
// The sink records every call, can inject failures per operation, can hold
// each call for a fixed delay and counts calls that overlapped in time, which
// is how tests detect two writers interleaving on the radio.
package fake

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beacon-control/bcc/internal/adapter"
	"github.com/beacon-control/bcc/internal/ibeacon"
)

// Operation names recorded in Call.Op.
const (
	OpDown     = "down"
	OpUp       = "up"
	OpApply    = "apply"
	OpInterval = "interval"
)

// Call is one recorded sink invocation.
type Call struct {
	Op      string
	Command adapter.Command
	MinMs   int
	MaxMs   int
	At      time.Time
	Err     error
}

// Sink implements adapter.RadioSink in memory.
type Sink struct {
	adapter.SinkBase

	mu       sync.Mutex
	calls    []Call
	failures map[string]string
	delay    time.Duration
	notify   chan struct{}

	inFlight int32
	overlaps int32
}

// New creates a fake sink for iface.
func New(iface string) *Sink {
	return &Sink{
		SinkBase: adapter.NewSinkBase(iface, "fake"),
		failures: make(map[string]string),
		notify:   make(chan struct{}, 1),
	}
}

// InterfaceDown records a down call.
func (s *Sink) InterfaceDown(ctx context.Context) error {
	err := s.do(ctx, Call{Op: OpDown})
	if err == nil {
		s.SetStatus(adapter.StatusDown)
	}
	return err
}

// InterfaceUp records an up call.
func (s *Sink) InterfaceUp(ctx context.Context) error {
	err := s.do(ctx, Call{Op: OpUp})
	if err == nil {
		s.SetStatus(adapter.StatusUp)
	}
	return err
}

// Apply records a raw command.
func (s *Sink) Apply(ctx context.Context, cmd adapter.Command) error {
	return s.do(ctx, Call{Op: OpApply, Command: cmd})
}

// SetInterval validates and records an interval call.
func (s *Sink) SetInterval(ctx context.Context, minMs, maxMs int) error {
	if _, err := ibeacon.EncodeInterval(minMs, maxMs); err != nil {
		return &adapter.RadioError{Code: adapter.ErrInvalidRange, Op: "set interval", Original: err}
	}
	return s.do(ctx, Call{Op: OpInterval, MinMs: minMs, MaxMs: maxMs})
}

func (s *Sink) do(ctx context.Context, c Call) error {
	if err := ctx.Err(); err != nil {
		return adapter.NormalizeRadioError(c.Op, err, "")
	}

	if atomic.AddInt32(&s.inFlight, 1) > 1 {
		atomic.AddInt32(&s.overlaps, 1)
	}
	defer atomic.AddInt32(&s.inFlight, -1)

	s.mu.Lock()
	delay := s.delay
	output, fail := s.failures[c.Op]
	if !fail {
		output, fail = s.failures[""]
	}
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return adapter.NormalizeRadioError(c.Op, ctx.Err(), "")
		case <-timer.C:
		}
	}

	c.At = time.Now()
	if fail {
		c.Err = adapter.NormalizeToolError(c.Op, errors.New("simulated failure"), output, "hcitool")
	}
	s.RecordResult(c.Err)

	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return c.Err
}

// SetDelay holds every later call for d.
func (s *Sink) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// FailOn makes op fail with the given tool output. An empty op fails all.
func (s *Sink) FailOn(op, output string) {
	s.mu.Lock()
	s.failures[op] = output
	s.mu.Unlock()
}

// ClearFailures removes all injected failures.
func (s *Sink) ClearFailures() {
	s.mu.Lock()
	s.failures = make(map[string]string)
	s.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (s *Sink) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count returns how many calls of op were recorded. An empty op counts all.
func (s *Sink) Count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op == "" {
		return len(s.calls)
	}
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls.
func (s *Sink) Reset() {
	s.mu.Lock()
	s.calls = nil
	s.mu.Unlock()
}

// Overlaps returns how many calls started while another was running.
func (s *Sink) Overlaps() int {
	return int(atomic.LoadInt32(&s.overlaps))
}

// Advertised decodes the identity of every successful advertising data call
// in order.
func (s *Sink) Advertised() []ibeacon.Identity {
	var out []ibeacon.Identity
	for _, c := range s.Calls() {
		if c.Op != OpApply || c.Err != nil || c.Command.OCF != ibeacon.OCFSetAdvertisingData {
			continue
		}
		id, err := ibeacon.ParseAdvertisingData(c.Command.Params)
		if err == nil {
			out = append(out, id)
		}
	}
	return out
}

// Batches splits the call log into programming sequences, each starting at
// an interface down.
func (s *Sink) Batches() [][]Call {
	var out [][]Call
	for _, c := range s.Calls() {
		if c.Op == OpDown || len(out) == 0 {
			out = append(out, nil)
		}
		out[len(out)-1] = append(out[len(out)-1], c)
	}
	return out
}

// WaitForAdvertised blocks until at least n identities were advertised or
// the timeout passes.
func (s *Sink) WaitForAdvertised(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if len(s.Advertised()) >= n {
			return true
		}
		select {
		case <-s.notify:
		case <-deadline.C:
			return len(s.Advertised()) >= n
		}
	}
}

var (
	_ adapter.RadioSink      = (*Sink)(nil)
	_ adapter.StatusReporter = (*Sink)(nil)
)
