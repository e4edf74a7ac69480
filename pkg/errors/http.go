package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

var errorStatusCodes = map[error]int{
	ErrNotFound:           http.StatusNotFound,
	ErrInvalidInput:       http.StatusBadRequest,
	ErrInternalError:      http.StatusInternalServerError,
	ErrTimeout:            http.StatusGatewayTimeout,
	ErrUnavailable:        http.StatusServiceUnavailable,
	ErrPermissionDenied:   http.StatusForbidden,
	ErrUnauthenticated:    http.StatusUnauthorized,
	ErrResourceExhausted:  http.StatusTooManyRequests,
	ErrFailedPrecondition: http.StatusPreconditionFailed,
	ErrPayloadTooLarge:    http.StatusRequestEntityTooLarge,

	ErrSessionNotFound:      http.StatusNotFound,
	ErrGoalNotFound:         http.StatusNotFound,
	ErrMilestoneNotFound:    http.StatusNotFound,
	ErrTranscriptionFailed:  http.StatusBadGateway,
	ErrPlanGenerationFailed: http.StatusBadGateway,
	ErrRolesNotConfirmed:    http.StatusConflict,
	ErrStorageFailure:       http.StatusBadGateway,
}

// HTTPStatusFromError walks the wrap chain and returns the status of the
// first mapped sentinel, or 500.
func HTTPStatusFromError(err error) int {
	for err != nil {
		if code, ok := errorStatusCodes[err]; ok {
			return code
		}
		err = errors.Unwrap(err)
	}
	return http.StatusInternalServerError
}

// WriteError writes err as a JSON error body with the mapped status code.
// Internal errors never leak their message to the client.
func WriteError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	response := map[string]interface{}{"error": "internal server error"}

	var serr *Error
	switch {
	case err == nil:
	case errors.As(err, &serr):
		statusCode = HTTPStatusFromError(serr)
		if statusCode != http.StatusInternalServerError {
			response = serr.AsJSON()
		} else if serr.Code != "" {
			response["code"] = serr.Code
		}
	default:
		statusCode = HTTPStatusFromError(err)
		if statusCode != http.StatusInternalServerError {
			response["error"] = err.Error()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}
