// Package usbpower switches power to the USB port hosting the Bluetooth
// dongle through uhubctl.
package usbpower

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/beacon-control/bcc/internal/privexec"
)

// Options selects the hub port.
type Options struct {
	Location    string
	Port        int
	UhubctlPath string
}

// Controller drives one hub port.
type Controller struct {
	runner privexec.Runner
	opts   Options
	log    logrus.FieldLogger
}

// New creates a controller.
func New(runner privexec.Runner, opts Options, log logrus.FieldLogger) *Controller {
	if opts.UhubctlPath == "" {
		opts.UhubctlPath = "uhubctl"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		runner: runner,
		opts:   opts,
		log: log.WithFields(logrus.Fields{
			"component": "usbpower",
			"location":  opts.Location,
			"port":      opts.Port,
		}),
	}
}

// PowerOn switches the port on. Failures are logged, not returned: the
// caller reads the outcome back with Status.
func (c *Controller) PowerOn(ctx context.Context) {
	c.set(ctx, "1")
}

// PowerOff switches the port off. Failures are logged, not returned.
func (c *Controller) PowerOff(ctx context.Context) {
	c.set(ctx, "0")
}

// Status reports whether the port is powered. A failure to query reads as
// off.
func (c *Controller) Status(ctx context.Context) bool {
	out, err := c.runner.Run(ctx, c.opts.UhubctlPath, c.args()...)
	if err != nil {
		c.log.WithError(err).Warn("Failed to query USB power")
		return false
	}
	return portPowered(out, c.opts.Port)
}

func (c *Controller) set(ctx context.Context, action string) {
	args := append(c.args(), "-a", action)
	if _, err := c.runner.Run(ctx, c.opts.UhubctlPath, args...); err != nil {
		c.log.WithError(err).WithField("action", action).Warn("Failed to switch USB power")
		return
	}
	c.log.WithField("action", action).Info("USB power switched")
}

func (c *Controller) args() []string {
	return []string{"-l", c.opts.Location, "-p", strconv.Itoa(c.opts.Port)}
}

// portPowered scans uhubctl output for the status line of port, e.g.
// "  Port 2: 0503 power highspeed enable connect".
func portPowered(out []byte, port int) bool {
	prefix := fmt.Sprintf("Port %d:", port)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, prefix) {
			return strings.Contains(line, "power")
		}
	}
	return false
}
