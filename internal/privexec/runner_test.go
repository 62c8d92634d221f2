package privexec

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func newTestRunner(t *testing.T) *ExecRunner {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	log, _ := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return NewExecRunner(false, 5*time.Second, log)
}

func TestExecRunnerCapturesOutput(t *testing.T) {
	r := newTestRunner(t)

	out, err := r.Run(context.Background(), "sh", "-c", "echo Port 2: 0503 power")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.TrimSpace(string(out)) != "Port 2: 0503 power" {
		t.Errorf("Expected echoed output, got %q", out)
	}
}

func TestExecRunnerReportsFailure(t *testing.T) {
	r := newTestRunner(t)

	_, err := r.Run(context.Background(), "sh", "-c", `echo "Can't init device hci0: No such device" >&2; exit 1`)
	if err == nil {
		t.Fatal("Expected error for non-zero exit")
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Expected *ExitError, got %T", err)
	}
	if !strings.Contains(exitErr.Output, "No such device") {
		t.Errorf("Expected stderr in output, got %q", exitErr.Output)
	}
	if !strings.Contains(err.Error(), "sh -c") {
		t.Errorf("Expected command line in error, got %q", err.Error())
	}
}

func TestExecRunnerHonorsTimeout(t *testing.T) {
	r := newTestRunner(t)
	r.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := r.Run(context.Background(), "sh", "-c", "exec sleep 5")
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("Timeout not honored, took %v", time.Since(start))
	}
}

func TestExecRunnerSudoPrefix(t *testing.T) {
	r := newTestRunner(t)
	r.UseSudo = true

	// sudo may be absent; the command line in the error still shows the prefix.
	_, err := r.Run(context.Background(), "definitely-not-a-real-tool-bcc")
	if err == nil {
		t.Skip("sudo unexpectedly succeeded")
	}
	if !strings.HasPrefix(err.Error(), "sudo -n definitely-not-a-real-tool-bcc") {
		t.Errorf("Expected sudo prefix in %q", err.Error())
	}
}
