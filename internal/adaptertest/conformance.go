// Package adaptertest provides a sink-agnostic conformance suite for
// adapter.RadioSink implementations.
package adaptertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/beacon-control/bcc/internal/adapter"
	"github.com/beacon-control/bcc/internal/ibeacon"
)

// Subject is one fresh sink under test plus hooks into its backend.
type Subject struct {
	Sink adapter.RadioSink

	// Observed returns how many commands reached the backend so far.
	Observed func() int

	// Fail makes every later backend call fail with the given tool output.
	Fail func(output string)
}

// ConformanceResult represents the result of a conformance test.
type ConformanceResult struct {
	TestName string
	Passed   bool
	Error    string
	Duration time.Duration
	Details  map[string]interface{}
}

// ConformanceReport represents the complete conformance test report.
type ConformanceReport struct {
	SinkName      string
	TotalTests    int
	PassedTests   int
	FailedTests   int
	Results       []ConformanceResult
	OverallPassed bool
	Duration      time.Duration
}

var testIdentity = ibeacon.MustParseIdentity("bbbbbbbb-aaaa-dddd-beef-0000000000fe", 1, 2, -59)

// RunConformance runs the complete conformance suite.
func RunConformance(t *testing.T, newSubject func() Subject) {
	startTime := time.Now()

	report := &ConformanceReport{
		SinkName:      fmt.Sprintf("%T", newSubject().Sink),
		Results:       []ConformanceResult{},
		OverallPassed: true,
	}

	runSequenceTests(newSubject, report)
	runIdempotencyTests(newSubject, report)
	runFailureMappingTests(newSubject, report)
	runIntervalRangeTests(newSubject, report)
	runCancellationTests(newSubject, report)

	report.Duration = time.Since(startTime)

	printConformanceReport(t, report)

	if !report.OverallPassed {
		t.Fatalf("Sink conformance test failed: %d/%d tests passed", report.PassedTests, report.TotalTests)
	}
}

// runSequenceTests drives the full single-beacon programming sequence.
func runSequenceTests(newSubject func() Subject, report *ConformanceReport) {
	s := newSubject()
	ctx := context.Background()

	result := ConformanceResult{
		TestName: "Sequence_SingleBeacon",
		Details:  make(map[string]interface{}),
	}
	start := time.Now()

	steps := []struct {
		name string
		fn   func() error
	}{
		{"down", func() error { return s.Sink.InterfaceDown(ctx) }},
		{"up", func() error { return s.Sink.InterfaceUp(ctx) }},
		{"data", func() error { return s.Sink.Apply(ctx, adapter.SetAdvertisingData(testIdentity)) }},
		{"interval", func() error { return s.Sink.SetInterval(ctx, 100, 100) }},
	}

	result.Passed = true
	last := s.Observed()
	for _, step := range steps {
		if err := step.fn(); err != nil {
			result.Passed = false
			result.Error = fmt.Sprintf("%s failed: %v", step.name, err)
			break
		}
		now := s.Observed()
		if now <= last {
			result.Passed = false
			result.Error = fmt.Sprintf("%s reached no backend (observed %d -> %d)", step.name, last, now)
			break
		}
		last = now
	}
	result.Duration = time.Since(start)
	result.Details["commands"] = last

	report.addResult(result)
}

// runIdempotencyTests checks that repeated down/up calls succeed.
func runIdempotencyTests(newSubject func() Subject, report *ConformanceReport) {
	s := newSubject()
	ctx := context.Background()

	for _, tc := range []struct {
		name string
		fn   func(context.Context) error
	}{
		{"Idempotency_DownTwice", s.Sink.InterfaceDown},
		{"Idempotency_UpTwice", s.Sink.InterfaceUp},
	} {
		result := ConformanceResult{TestName: tc.name, Details: make(map[string]interface{})}
		start := time.Now()

		err1 := tc.fn(ctx)
		err2 := tc.fn(ctx)
		result.Duration = time.Since(start)

		switch {
		case err1 != nil:
			result.Error = fmt.Sprintf("first call failed: %v", err1)
		case err2 != nil:
			result.Error = fmt.Sprintf("second call failed: %v", err2)
		default:
			result.Passed = true
		}
		report.addResult(result)
	}
}

// runFailureMappingTests checks that backend failures surface as radio errors.
func runFailureMappingTests(newSubject func() Subject, report *ConformanceReport) {
	cases := []struct {
		output string
		want   error
	}{
		{"No such device", adapter.ErrUnavailable},
		{"Device or resource busy", adapter.ErrBusy},
		{"something unexpected", adapter.ErrInternal},
	}

	for _, tc := range cases {
		s := newSubject()
		s.Fail(tc.output)

		result := ConformanceResult{
			TestName: "FailureMapping_" + strings.ReplaceAll(tc.output, " ", "_"),
			Details:  make(map[string]interface{}),
		}
		start := time.Now()
		err := s.Sink.Apply(context.Background(), adapter.SetAdvertisingData(testIdentity))
		result.Duration = time.Since(start)

		switch {
		case err == nil:
			result.Error = "Apply should have failed"
		case !errors.Is(err, adapter.ErrRadio):
			result.Error = fmt.Sprintf("expected ErrRadio, got %v", err)
		case !errors.Is(err, tc.want):
			result.Error = fmt.Sprintf("expected %v, got %v", tc.want, err)
		default:
			result.Passed = true
			result.Details["error"] = err.Error()
		}
		report.addResult(result)
	}
}

// runIntervalRangeTests checks interval validation.
func runIntervalRangeTests(newSubject func() Subject, report *ConformanceReport) {
	s := newSubject()

	result := ConformanceResult{
		TestName: "SetInterval_OutOfRange",
		Details:  make(map[string]interface{}),
	}
	before := s.Observed()
	start := time.Now()
	err := s.Sink.SetInterval(context.Background(), 1, 1)
	result.Duration = time.Since(start)

	switch {
	case err == nil:
		result.Error = "SetInterval(1, 1) should have failed"
	case !errors.Is(err, adapter.ErrInvalidRange):
		result.Error = fmt.Sprintf("expected INVALID_RANGE, got %v", err)
	case s.Observed() != before:
		result.Error = "invalid interval reached the backend"
	default:
		result.Passed = true
	}
	report.addResult(result)
}

// runCancellationTests checks that a cancelled context fails fast.
func runCancellationTests(newSubject func() Subject, report *ConformanceReport) {
	s := newSubject()

	result := ConformanceResult{
		TestName: "Cancellation_Apply",
		Details:  make(map[string]interface{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := s.Sink.Apply(ctx, adapter.SetAdvertisingData(testIdentity))
	result.Duration = time.Since(start)

	switch {
	case err == nil:
		result.Error = "Apply with cancelled context should have failed"
	case result.Duration > 50*time.Millisecond:
		result.Error = fmt.Sprintf("cancelled Apply took %v", result.Duration)
	default:
		result.Passed = true
		result.Details["error"] = err.Error()
	}
	report.addResult(result)
}

func (r *ConformanceReport) addResult(result ConformanceResult) {
	r.TotalTests++
	if result.Passed {
		r.PassedTests++
	} else {
		r.FailedTests++
		r.OverallPassed = false
	}
	r.Results = append(r.Results, result)
}

func printConformanceReport(t *testing.T, report *ConformanceReport) {
	t.Logf("\n%s", strings.Repeat("=", 80))
	t.Logf("SINK CONFORMANCE REPORT")
	t.Logf("%s", strings.Repeat("=", 80))
	t.Logf("Sink: %s", report.SinkName)
	t.Logf("Passed: %d/%d", report.PassedTests, report.TotalTests)
	t.Logf("Duration: %v", report.Duration)
	t.Logf("%s", strings.Repeat("-", 80))

	for _, result := range report.Results {
		status := "PASS"
		if !result.Passed {
			status = "FAIL"
		}

		details := result.Error
		if details == "" && len(result.Details) > 0 {
			var parts []string
			for k, v := range result.Details {
				parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			}
			details = strings.Join(parts, ", ")
		}

		t.Logf("%-36s %-6s %-12s %s", result.TestName, status, result.Duration.String(), details)
	}

	t.Logf("%s", strings.Repeat("=", 80))
}
