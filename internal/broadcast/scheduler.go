package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/beacon-control/bcc/internal/adapter"
	"github.com/beacon-control/bcc/internal/audit"
	"github.com/beacon-control/bcc/internal/ibeacon"
	"github.com/beacon-control/bcc/internal/telemetry"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultDwell      = 400 * time.Millisecond
	DefaultIntervalMs = 100
)

// errStopped is returned by a programming sequence interrupted by the loop's
// stop signal. It never leaves the package.
var errStopped = errors.New("multiplex loop stopped")

// Options configures a Scheduler.
type Options struct {
	// Dwell is how long each identity stays on air in multiplex mode.
	Dwell time.Duration

	// StopGrace bounds the wait for the multiplex loop to exit.
	// Zero means three dwell periods.
	StopGrace time.Duration

	// IntervalMs is the advertising interval programmed with every identity.
	IntervalMs int

	Log       logrus.FieldLogger
	Publisher Publisher
	Audit     AuditLogger
}

// Scheduler owns the radio sink, the active set and the multiplex loop.
type Scheduler struct {
	sink adapter.RadioSink
	opts Options
	log  logrus.FieldLogger

	// mu guards active and loop. Operations hold it for their whole
	// duration, so they reach the radio in the order they acquire it.
	mu     sync.Mutex
	active []ActiveBeacon
	loop   *loop

	// radioMu is held for every programming sequence, by operations and by
	// the multiplex loop alike. Lock order is mu, then radioMu.
	radioMu sync.Mutex

	snapMu sync.RWMutex
	snap   []ActiveBeacon

	slots        atomic.Uint64
	rotations    atomic.Uint64
	slotFailures atomic.Uint64
	lastError    atomic.Value // string
}

type loop struct {
	stop   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
}

// NewScheduler creates an idle scheduler driving sink.
func NewScheduler(sink adapter.RadioSink, opts Options) *Scheduler {
	if opts.Dwell <= 0 {
		opts.Dwell = DefaultDwell
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 3 * opts.Dwell
	}
	if opts.IntervalMs == 0 {
		opts.IntervalMs = DefaultIntervalMs
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	s := &Scheduler{
		sink: sink,
		opts: opts,
		log:  opts.Log.WithField("component", "broadcast"),
	}
	s.lastError.Store("")
	return s
}

// Enable adds id to the active set and reprograms the radio. An identity
// already active under the same uuid, major and minor is left alone, whatever
// its RSSI. A radio failure rolls the set back and is returned.
func (s *Scheduler) Enable(ctx context.Context, id ibeacon.Identity) (Result, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.active {
		if a.SameBeacon(id) {
			s.audit(ctx, "enable", &id, audit.OutcomeAlreadyActive, nil, start)
			return s.resultLocked(StatusAlreadyActive), nil
		}
	}

	prev := append([]ActiveBeacon(nil), s.active...)
	s.active = append(append(make([]ActiveBeacon, 0, len(prev)+1), prev...), ActiveBeacon{Identity: id, Since: time.Now().UTC()})

	if err := s.applyLocked(ctx); err != nil {
		s.log.WithError(err).WithField("beacon", id.String()).Error("Enable failed, rolling back")
		s.active = prev
		if rerr := s.applyLocked(ctx); rerr != nil {
			s.log.WithError(rerr).Warn("Failed to restore previous broadcast state")
		}
		s.publishSnapshotLocked()
		s.recordError(err)
		s.publishFault(id.String(), err, "Failed to enable beacon")
		s.audit(ctx, "enable", &id, audit.OutcomeError, err, start)
		return s.resultLocked(StatusFailed), fmt.Errorf("enable %s: %w", id, err)
	}

	s.publishSnapshotLocked()
	s.publish(telemetry.EventBeaconEnabled, map[string]interface{}{
		"beacon": id,
		"mode":   string(ModeFor(len(s.active))),
	})
	s.publishModeChange(ModeFor(len(prev)), ModeFor(len(s.active)))
	s.audit(ctx, "enable", &id, audit.OutcomeSuccess, nil, start)

	s.log.WithFields(logrus.Fields{
		"beacon": id.String(),
		"mode":   ModeFor(len(s.active)),
	}).Info("Beacon enabled")

	return s.resultLocked(StatusEnabled), nil
}

// DisableAll clears the active set and brings the interface down. A radio
// failure is logged and never reported: the set is empty regardless.
func (s *Scheduler) DisableAll(ctx context.Context) Result {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	prevMode := ModeFor(len(s.active))
	s.active = nil
	if err := s.applyLocked(ctx); err != nil {
		s.log.WithError(err).Warn("Failed to stop advertising")
	}

	s.publishSnapshotLocked()
	s.publish(telemetry.EventBeaconDisabled, map[string]interface{}{"all": true})
	s.publishModeChange(prevMode, ModeIdle)
	s.audit(ctx, "disableAll", nil, audit.OutcomeSuccess, nil, start)
	s.log.Info("All beacons disabled")

	return s.resultLocked(StatusDisabled)
}

// DisableOne removes id from the active set. An unknown identity reports
// StatusNotFound without touching the radio. The removal stands even when
// reprogramming the remaining identities fails.
func (s *Scheduler) DisableOne(ctx context.Context, id ibeacon.Identity) (Result, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, a := range s.active {
		if a.SameBeacon(id) {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.audit(ctx, "disableOne", &id, audit.OutcomeNotFound, nil, start)
		return s.resultLocked(StatusNotFound), nil
	}

	prevMode := ModeFor(len(s.active))
	next := make([]ActiveBeacon, 0, len(s.active)-1)
	next = append(next, s.active[:idx]...)
	next = append(next, s.active[idx+1:]...)
	s.active = next

	err := s.applyLocked(ctx)
	s.publishSnapshotLocked()
	if err != nil {
		s.recordError(err)
		s.publishFault(id.String(), err, "Failed to reprogram remaining beacons")
		s.audit(ctx, "disableOne", &id, audit.OutcomeError, err, start)
		return s.resultLocked(StatusDisabled), fmt.Errorf("disable %s: %w", id, err)
	}

	s.publish(telemetry.EventBeaconDisabled, map[string]interface{}{
		"beacon": id,
		"mode":   string(ModeFor(len(s.active))),
	})
	s.publishModeChange(prevMode, ModeFor(len(s.active)))
	s.audit(ctx, "disableOne", &id, audit.OutcomeSuccess, nil, start)
	s.log.WithFields(logrus.Fields{
		"beacon": id.String(),
		"mode":   ModeFor(len(s.active)),
	}).Info("Beacon disabled")

	return s.resultLocked(StatusDisabled), nil
}

// Current returns a copy of the active set. It never waits on the radio.
func (s *Scheduler) Current() []ActiveBeacon {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return append(make([]ActiveBeacon, 0, len(s.snap)), s.snap...)
}

// Mode returns the current broadcast mode.
func (s *Scheduler) Mode() Mode {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return ModeFor(len(s.snap))
}

// Stats returns multiplex counters.
func (s *Scheduler) Stats() Stats {
	active := s.Current()
	return Stats{
		Mode:         ModeFor(len(active)),
		Active:       len(active),
		Slots:        s.slots.Load(),
		Rotations:    s.rotations.Load(),
		SlotFailures: s.slotFailures.Load(),
		LastError:    s.lastError.Load().(string),
	}
}

// Snapshot is the state sent to new telemetry subscribers.
func (s *Scheduler) Snapshot() map[string]interface{} {
	active := s.Current()
	return map[string]interface{}{
		"mode":   string(ModeFor(len(active))),
		"active": active,
	}
}

// Reset brings the interface down without changing the active set. It is
// used once at startup to clear advertising left over by a previous run.
func (s *Scheduler) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.radioMu.Lock()
	defer s.radioMu.Unlock()
	if err := s.sink.InterfaceDown(ctx); err != nil {
		return fmt.Errorf("reset radio: %w", err)
	}
	return nil
}

// Close stops the multiplex loop, empties the active set and brings the
// interface down.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLoopLocked()
	s.active = nil
	s.publishSnapshotLocked()

	s.radioMu.Lock()
	defer s.radioMu.Unlock()
	if err := s.sink.InterfaceDown(ctx); err != nil {
		return fmt.Errorf("close radio: %w", err)
	}
	return nil
}

// applyLocked stops any running loop and puts the radio in the state the
// active set calls for. Bringing an idle radio down never fails.
func (s *Scheduler) applyLocked(ctx context.Context) error {
	s.stopLoopLocked()

	switch len(s.active) {
	case 0:
		s.radioMu.Lock()
		defer s.radioMu.Unlock()
		if err := s.sink.InterfaceDown(ctx); err != nil {
			s.log.WithError(err).Warn("Interface down failed")
		}
		return nil
	case 1:
		s.radioMu.Lock()
		defer s.radioMu.Unlock()
		return s.program(ctx, s.active[0].Identity, nil)
	default:
		s.startLoopLocked()
		return nil
	}
}

// program runs the full sequence for one identity: interface down and up,
// advertising data, interval and enable. Down and up failures are logged and
// ignored since the interface may already be in the requested state. When
// stop is closed the sequence ends before the next radio call.
func (s *Scheduler) program(ctx context.Context, id ibeacon.Identity, stop <-chan struct{}) error {
	if stopped(stop) {
		return errStopped
	}
	if err := s.sink.InterfaceDown(ctx); err != nil {
		s.log.WithError(err).WithField("op", "down").Debug("Ignoring interface error")
	}
	if stopped(stop) {
		return errStopped
	}
	if err := s.sink.InterfaceUp(ctx); err != nil {
		s.log.WithError(err).WithField("op", "up").Debug("Ignoring interface error")
	}
	if stopped(stop) {
		return errStopped
	}
	if err := s.sink.Apply(ctx, adapter.SetAdvertisingData(id)); err != nil {
		return err
	}
	if stopped(stop) {
		return errStopped
	}
	return s.sink.SetInterval(ctx, s.opts.IntervalMs, s.opts.IntervalMs)
}

func (s *Scheduler) startLoopLocked() {
	ids := make([]ibeacon.Identity, len(s.active))
	for i, a := range s.active {
		ids[i] = a.Identity
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	s.loop = l
	go s.runLoop(ctx, l, ids)
}

// stopLoopLocked signals the loop, cancels its in-flight radio call and
// waits for it to exit, at most StopGrace.
func (s *Scheduler) stopLoopLocked() {
	l := s.loop
	if l == nil {
		return
	}
	s.loop = nil

	close(l.stop)
	l.cancel()

	timer := time.NewTimer(s.opts.StopGrace)
	defer timer.Stop()
	select {
	case <-l.done:
	case <-timer.C:
		s.log.WithField("grace", s.opts.StopGrace).Warn("Multiplex loop did not stop in time")
	}
}

func (s *Scheduler) runLoop(ctx context.Context, l *loop, ids []ibeacon.Identity) {
	defer close(l.done)
	defer l.cancel()

	s.log.WithField("beacons", len(ids)).Info("Multiplex loop started")
	defer s.log.Debug("Multiplex loop stopped")

	for i := 0; ; i++ {
		slot := i % len(ids)
		id := ids[slot]

		s.radioMu.Lock()
		err := s.program(ctx, id, l.stop)
		s.radioMu.Unlock()

		if stopped(l.stop) {
			return
		}

		s.slots.Add(1)
		if slot == len(ids)-1 {
			s.rotations.Add(1)
		}
		if err != nil {
			s.slotFailures.Add(1)
			s.recordError(err)
			s.log.WithError(err).WithFields(logrus.Fields{
				"slot":   slot,
				"beacon": id.String(),
			}).Warn("Multiplex slot failed")
			s.publishFault(id.String(), err, "Multiplex slot failed")
		}

		timer := time.NewTimer(s.opts.Dwell)
		select {
		case <-l.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func (s *Scheduler) resultLocked(status Status) Result {
	active := append(make([]ActiveBeacon, 0, len(s.active)), s.active...)
	return Result{
		Status: status,
		Mode:   ModeFor(len(active)),
		Active: active,
	}
}

func (s *Scheduler) publishSnapshotLocked() {
	snap := append([]ActiveBeacon(nil), s.active...)
	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()
}

func (s *Scheduler) recordError(err error) {
	s.lastError.Store(err.Error())
}

func (s *Scheduler) audit(ctx context.Context, action string, id *ibeacon.Identity, outcome string, err error, start time.Time) {
	if s.opts.Audit == nil {
		return
	}
	s.opts.Audit.LogAction(ctx, action, id, outcome, err, time.Since(start))
}

func (s *Scheduler) publish(eventType string, data map[string]interface{}) {
	if s.opts.Publisher == nil {
		return
	}
	if err := s.opts.Publisher.Publish(telemetry.Event{Type: eventType, Data: data}); err != nil {
		s.log.WithError(err).WithField("event", eventType).Debug("Failed to publish event")
	}
}

func (s *Scheduler) publishModeChange(from, to Mode) {
	if from == to {
		return
	}
	s.publish(telemetry.EventModeChanged, map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	})
}

func (s *Scheduler) publishFault(beacon string, err error, message string) {
	code := "INTERNAL"
	if c := adapter.CodeOf(err); c != nil {
		code = c.Error()
	}
	s.publish(telemetry.EventFault, map[string]interface{}{
		"beacon":  beacon,
		"code":    code,
		"message": message,
		"error":   err.Error(),
	})
}
