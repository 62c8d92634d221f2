package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/beacon-control/bcc/internal/adapter"
	"github.com/beacon-control/bcc/internal/ibeacon"
	"github.com/beacon-control/bcc/internal/store"
)

// APIError represents an API-layer error with HTTP status code.
type APIError struct {
	Code       string
	Message    string
	Details    interface{}
	StatusCode int
}

// API error codes for transport and lookup conditions.
var (
	ErrBadRequest  = errors.New("BAD_REQUEST")
	ErrUnavailable = errors.New("UNAVAILABLE")
)

// NewAPIError creates a new API error.
func NewAPIError(code string, message string, statusCode int, details interface{}) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: statusCode,
	}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ToAPIError converts an error to an HTTP status code and envelope body.
// Identity errors are 400 and are reported before the radio is touched.
// Radio failures keep their normalized code.
func ToAPIError(err error) (int, []byte) {
	if err == nil {
		return http.StatusOK, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, marshalErrorResponse(apiErr.Code, apiErr.Message, apiErr.Details)
	}

	var radioErr *adapter.RadioError
	if errors.As(err, &radioErr) {
		code, statusCode := mapRadioError(radioErr.Code)
		var details interface{}
		if radioErr.Details != "" {
			details = map[string]interface{}{"op": radioErr.Op, "output": radioErr.Details}
		}
		return statusCode, marshalErrorResponse(code, getErrorMessage(radioErr.Code, radioErr.Original), details)
	}

	switch {
	case errors.Is(err, ibeacon.ErrInvalidIdentity):
		return http.StatusBadRequest, marshalErrorResponse("INVALID_IDENTITY", err.Error(), nil)
	case errors.Is(err, ibeacon.ErrOutOfRange):
		return http.StatusBadRequest, marshalErrorResponse("OUT_OF_RANGE", err.Error(), nil)
	case errors.Is(err, store.ErrInvalidBeacon):
		return http.StatusBadRequest, marshalErrorResponse("INVALID_BEACON", err.Error(), nil)
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, marshalErrorResponse("BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable, marshalErrorResponse("UNAVAILABLE", err.Error(), nil)
	}

	return http.StatusInternalServerError, marshalErrorResponse("INTERNAL", "Internal server error", map[string]interface{}{
		"original": err.Error(),
	})
}

// legacyStatus maps err to the status code of the /beacon routes: request
// errors are 400, everything else is 500.
func legacyStatus(err error) int {
	switch {
	case errors.Is(err, adapter.ErrRadio):
		return http.StatusInternalServerError
	case errors.Is(err, ibeacon.ErrInvalidIdentity),
		errors.Is(err, ibeacon.ErrOutOfRange),
		errors.Is(err, store.ErrInvalidBeacon),
		errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorCode returns the normalized code carried by err.
func errorCode(err error) string {
	if code := adapter.CodeOf(err); code != nil {
		return code.Error()
	}
	for _, sentinel := range []error{ibeacon.ErrInvalidIdentity, ibeacon.ErrOutOfRange, store.ErrInvalidBeacon, ErrBadRequest, ErrUnavailable} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "INTERNAL"
}

func mapRadioError(code error) (string, int) {
	switch {
	case errors.Is(code, adapter.ErrInvalidRange):
		return "INVALID_RANGE", http.StatusBadRequest
	case errors.Is(code, adapter.ErrBusy):
		return "BUSY", http.StatusServiceUnavailable
	case errors.Is(code, adapter.ErrUnavailable):
		return "UNAVAILABLE", http.StatusServiceUnavailable
	default:
		return "INTERNAL", http.StatusInternalServerError
	}
}

func getErrorMessage(code error, original error) string {
	switch {
	case errors.Is(code, adapter.ErrInvalidRange):
		return "Radio rejected a parameter"
	case errors.Is(code, adapter.ErrBusy):
		return "Radio is busy, please retry"
	case errors.Is(code, adapter.ErrUnavailable):
		return "Radio is unavailable"
	case errors.Is(code, adapter.ErrInternal):
		return "Radio command failed"
	default:
		if original != nil {
			return original.Error()
		}
		return "Unknown error"
	}
}

func marshalErrorResponse(code, message string, details interface{}) []byte {
	body, err := json.Marshal(ErrorResponse(code, message, details))
	if err != nil {
		body, _ = json.Marshal(ErrorResponse("INTERNAL", "Failed to marshal error response", nil))
	}
	return body
}
