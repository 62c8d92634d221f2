// Package privexec runs the host tools that drive the Bluetooth controller
// and the USB hub, optionally through sudo.
package privexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Runner executes an external program and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExitError is returned when a command ran but did not succeed.
type ExitError struct {
	Command string
	Output  string
	Err     error
}

func (e *ExitError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, out)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// UseSudo prefixes every command with sudo -n.
	UseSudo bool
	// Timeout bounds a single invocation. Zero means no extra bound.
	Timeout time.Duration
	Log     logrus.FieldLogger
}

// NewExecRunner creates a runner.
func NewExecRunner(useSudo bool, timeout time.Duration, log logrus.FieldLogger) *ExecRunner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ExecRunner{UseSudo: useSudo, Timeout: timeout, Log: log}
}

// Run executes name with args.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	argv := append([]string{name}, args...)
	if r.UseSudo {
		argv = append([]string{"sudo", "-n"}, argv...)
	}
	line := strings.Join(argv, " ")

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	r.Log.WithFields(logrus.Fields{
		"cmd":     line,
		"latency": time.Since(start),
	}).Debug("exec")

	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%v: %w", err, ctx.Err())
		}
		return out.Bytes(), &ExitError{Command: line, Output: out.String(), Err: err}
	}
	return out.Bytes(), nil
}

var _ Runner = (*ExecRunner)(nil)
