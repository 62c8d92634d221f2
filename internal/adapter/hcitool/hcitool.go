// Package hcitool implements adapter.RadioSink on top of the BlueZ host
// tools: hciconfig for interface power and hcitool for raw HCI commands.
package hcitool

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/beacon-control/bcc/internal/adapter"
	"github.com/beacon-control/bcc/internal/privexec"
)

// Options configures a Sink.
type Options struct {
	Interface     string
	HciconfigPath string
	HcitoolPath   string
}

// Sink drives one controller interface through privexec.
type Sink struct {
	adapter.SinkBase

	runner    privexec.Runner
	hciconfig string
	hcitool   string
	log       logrus.FieldLogger
}

// New creates a sink for opts.Interface.
func New(runner privexec.Runner, opts Options, log logrus.FieldLogger) *Sink {
	if opts.Interface == "" {
		opts.Interface = "hci0"
	}
	if opts.HciconfigPath == "" {
		opts.HciconfigPath = "hciconfig"
	}
	if opts.HcitoolPath == "" {
		opts.HcitoolPath = "hcitool"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sink{
		SinkBase:  adapter.NewSinkBase(opts.Interface, "bluez-hcitool"),
		runner:    runner,
		hciconfig: opts.HciconfigPath,
		hcitool:   opts.HcitoolPath,
		log:       log.WithField("iface", opts.Interface),
	}
}

// InterfaceDown runs "hciconfig <iface> down".
func (s *Sink) InterfaceDown(ctx context.Context) error {
	if err := s.setPower(ctx, "down"); err != nil {
		return err
	}
	s.SetStatus(adapter.StatusDown)
	return nil
}

// InterfaceUp runs "hciconfig <iface> up".
func (s *Sink) InterfaceUp(ctx context.Context) error {
	if err := s.setPower(ctx, "up"); err != nil {
		return err
	}
	s.SetStatus(adapter.StatusUp)
	return nil
}

func (s *Sink) setPower(ctx context.Context, state string) error {
	out, err := s.runner.Run(ctx, s.hciconfig, s.Interface, state)
	err = adapter.NormalizeToolError("interface "+state, err, string(out), "hciconfig")
	s.RecordResult(err)
	if err != nil {
		s.log.WithError(err).Warnf("interface %s failed", state)
	}
	return err
}

// Apply runs "hcitool -i <iface> cmd <ogf> <ocf> <params...>".
func (s *Sink) Apply(ctx context.Context, cmd adapter.Command) error {
	args := append([]string{
		"-i", s.Interface,
		"cmd",
		fmt.Sprintf("0x%02x", cmd.OGF),
		fmt.Sprintf("0x%04x", cmd.OCF),
	}, cmd.HexParams()...)

	out, err := s.runner.Run(ctx, s.hcitool, args...)
	err = adapter.NormalizeToolError("apply "+cmd.Name, err, string(out), "hcitool")
	s.RecordResult(err)
	if err != nil {
		s.log.WithError(err).WithField("cmd", cmd.Name).Warn("hci command failed")
		return err
	}
	s.log.WithField("cmd", cmd.Name).Debug("hci command applied")
	return nil
}

// SetInterval sends the advertising parameters and then enables advertising.
func (s *Sink) SetInterval(ctx context.Context, minMs, maxMs int) error {
	params, err := adapter.SetAdvertisingParameters(minMs, maxMs)
	if err != nil {
		return &adapter.RadioError{Code: adapter.ErrInvalidRange, Op: "set interval", Original: err}
	}
	if err := s.Apply(ctx, params); err != nil {
		return err
	}
	return s.Apply(ctx, adapter.AdvertiseEnable(true))
}

var (
	_ adapter.RadioSink      = (*Sink)(nil)
	_ adapter.StatusReporter = (*Sink)(nil)
)
