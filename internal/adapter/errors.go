package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrRadio matches every failure reported by a RadioSink.
var ErrRadio = errors.New("RADIO_ERROR")

// Normalized radio error codes.
var (
	ErrInvalidRange = errors.New("INVALID_RANGE")
	ErrBusy         = errors.New("BUSY")
	ErrUnavailable  = errors.New("UNAVAILABLE")
	ErrInternal     = errors.New("INTERNAL")
)

// ToolMap lists the output tokens of one host tool per normalized code.
type ToolMap struct {
	Range       []string // INVALID_RANGE
	Busy        []string // BUSY
	Unavailable []string // UNAVAILABLE
}

// ToolErrorMappings holds the token tables, keyed by tool name.
// Matching is case-insensitive substring. Unknown output maps to INTERNAL,
// unknown tools fall back to "generic".
var ToolErrorMappings = map[string]ToolMap{
	"hciconfig": {
		Range: []string{
			"Invalid argument",
		},
		Busy: []string{
			"Device or resource busy",
			"Connection timed out",
		},
		Unavailable: []string{
			"No such device",
			"Can't get device info",
			"Operation not permitted",
			"Permission denied",
			"Operation not possible due to RF-kill",
			"executable file not found",
		},
	},
	"hcitool": {
		Range: []string{
			"Invalid argument",
			"Invalid HCI Command Parameters",
			"Unknown HCI Command",
		},
		Busy: []string{
			"Device or resource busy",
			"Command Disallowed",
			"timed out",
		},
		Unavailable: []string{
			"Device is not available",
			"No such device",
			"Network is down",
			"Operation not permitted",
			"Permission denied",
			"executable file not found",
		},
	},
	"generic": {
		Range: []string{
			"OUT_OF_RANGE",
			"INVALID_RANGE",
			"INVALID_ARGUMENT",
		},
		Busy: []string{
			"BUSY",
			"TIMED OUT",
		},
		Unavailable: []string{
			"UNAVAILABLE",
			"NO SUCH DEVICE",
			"NOT FOUND",
		},
	},
}

// RadioError wraps a sink failure with its normalized code.
type RadioError struct {
	Code     error  // Normalized code
	Op       string // Sink operation, e.g. "apply le_set_advertising_data"
	Original error  // Underlying failure
	Details  string // Tool output, may be empty
}

func (e *RadioError) Error() string {
	return fmt.Sprintf("%v (%s: %v)", e.Code, e.Op, e.Original)
}

// Unwrap lets errors.Is match ErrRadio, the code and the original error.
func (e *RadioError) Unwrap() []error {
	errs := []error{ErrRadio, e.Code}
	if e.Original != nil {
		errs = append(errs, e.Original)
	}
	return errs
}

// NormalizeRadioError maps a failure using the generic table.
func NormalizeRadioError(op string, err error, output string) error {
	return NormalizeToolError(op, err, output, "generic")
}

// NormalizeToolError maps a failure of tool to a *RadioError.
func NormalizeToolError(op string, err error, output string, tool string) error {
	if err == nil {
		return nil
	}
	var re *RadioError
	if errors.As(err, &re) {
		return err
	}

	code := ErrInternal
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrBusy
	case errors.Is(err, context.Canceled):
		code = ErrUnavailable
	default:
		code = mapToolErrorToCode(err.Error()+"\n"+output, tool)
	}

	return &RadioError{
		Code:     code,
		Op:       op,
		Original: err,
		Details:  strings.TrimSpace(output),
	}
}

// CodeOf returns the normalized code of err, or nil if err is not a radio error.
func CodeOf(err error) error {
	var re *RadioError
	if errors.As(err, &re) {
		return re.Code
	}
	return nil
}

func mapToolErrorToCode(msg string, tool string) error {
	toolMap, exists := ToolErrorMappings[tool]
	if !exists {
		toolMap = ToolErrorMappings["generic"]
	}

	upperMsg := strings.ToUpper(msg)

	for _, token := range toolMap.Range {
		if strings.Contains(upperMsg, strings.ToUpper(token)) {
			return ErrInvalidRange
		}
	}

	for _, token := range toolMap.Busy {
		if strings.Contains(upperMsg, strings.ToUpper(token)) {
			return ErrBusy
		}
	}

	for _, token := range toolMap.Unavailable {
		if strings.Contains(upperMsg, strings.ToUpper(token)) {
			return ErrUnavailable
		}
	}

	return ErrInternal
}
