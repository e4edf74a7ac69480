package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Sentinel errors shared across the service
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternalError      = errors.New("internal error")
	ErrTimeout            = errors.New("operation timed out")
	ErrUnavailable        = errors.New("service unavailable")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrResourceExhausted  = errors.New("resource exhausted")
	ErrFailedPrecondition = errors.New("failed precondition")
	ErrPayloadTooLarge    = errors.New("payload too large")

	// Domain errors
	ErrSessionNotFound      = errors.New("peer session not found")
	ErrGoalNotFound         = errors.New("recovery goal not found")
	ErrMilestoneNotFound    = errors.New("milestone not found")
	ErrTranscriptionFailed  = errors.New("transcription failed")
	ErrPlanGenerationFailed = errors.New("plan generation failed")
	ErrRolesNotConfirmed    = errors.New("speaker roles have not been confirmed")
	ErrStorageFailure       = errors.New("object storage failure")
)

// Error is a structured error carrying a code, context fields and the
// location it was created at.
type Error struct {
	original error
	message  string
	fields   map[string]interface{}
	file     string
	line     int

	// Code is a machine readable category, e.g. "GOAL_NOT_FOUND"
	Code string
}

func newAt(skip int, original error, message string, fields []map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(skip + 1)

	fieldMap := make(map[string]interface{})
	if len(fields) > 0 {
		for k, v := range fields[0] {
			fieldMap[k] = v
		}
	}

	return &Error{
		original: original,
		message:  message,
		fields:   fieldMap,
		file:     file,
		line:     line,
	}
}

// New creates a structured error with the given message
func New(message string, fields ...map[string]interface{}) *Error {
	return newAt(1, errors.New(message), message, fields)
}

// Wrap wraps err with a message. Returns nil when err is nil.
func Wrap(err error, message string, fields ...map[string]interface{}) *Error {
	if err == nil {
		return nil
	}
	return newAt(1, err, message, fields)
}

func (e *Error) clone(extra int) *Error {
	result := *e
	result.fields = make(map[string]interface{}, len(e.fields)+extra)
	for k, v := range e.fields {
		result.fields[k] = v
	}
	return &result
}

// WithField returns a copy of the error with key set in its context
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}
	result := e.clone(1)
	result.fields[key] = value
	return result
}

// WithFields returns a copy of the error with all fields merged into its context
func (e *Error) WithFields(fields map[string]interface{}) *Error {
	if e == nil {
		return nil
	}
	result := e.clone(len(fields))
	for k, v := range fields {
		result.fields[k] = v
	}
	return result
}

// WithCode returns a copy of the error with the given code
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}
	result := e.clone(0)
	result.Code = code
	return result
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil || e.original == nil {
		return ""
	}
	if e.message == "" || e.message == e.original.Error() {
		return e.original.Error()
	}
	return fmt.Sprintf("%s: %v", e.message, e.original)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.original
}

// Location returns file:line where the error was created
func (e *Error) Location() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d", e.file[strings.LastIndex(e.file, "/")+1:], e.line)
}

// GetFields returns the error's context fields
func (e *Error) GetFields() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.fields
}

// GetCode returns the error's code
func (e *Error) GetCode() string {
	if e == nil {
		return ""
	}
	return e.Code
}

// AsJSON returns the error as a JSON friendly map
func (e *Error) AsJSON() map[string]interface{} {
	if e == nil {
		return nil
	}

	result := map[string]interface{}{
		"error": e.Error(),
	}
	if e.Code != "" {
		result["code"] = e.Code
	}
	if len(e.fields) > 0 {
		result["context"] = e.fields
	}
	return result
}

func coded(original error, code, message string, fields []map[string]interface{}) *Error {
	err := newAt(2, original, message, fields)
	err.Code = code
	return err
}

// NewNotFound creates an ErrNotFound error
func NewNotFound(message string, fields ...map[string]interface{}) *Error {
	return coded(ErrNotFound, "NOT_FOUND", message, fields)
}

// NewInvalidInput creates an ErrInvalidInput error
func NewInvalidInput(message string, fields ...map[string]interface{}) *Error {
	return coded(ErrInvalidInput, "INVALID_INPUT", message, fields)
}

// NewInternalError creates an ErrInternalError error
func NewInternalError(message string, fields ...map[string]interface{}) *Error {
	return coded(ErrInternalError, "INTERNAL_ERROR", message, fields)
}

// NewUnauthenticated creates an ErrUnauthenticated error
func NewUnauthenticated(message string) *Error {
	return coded(ErrUnauthenticated, "UNAUTHENTICATED", message, nil)
}

// NewPermissionDenied creates an ErrPermissionDenied error
func NewPermissionDenied(message string) *Error {
	return coded(ErrPermissionDenied, "PERMISSION_DENIED", message, nil)
}

// NewSessionNotFound creates an ErrSessionNotFound error for the given session
func NewSessionNotFound(sessionID string) *Error {
	return coded(ErrSessionNotFound, "SESSION_NOT_FOUND", "peer session not found",
		[]map[string]interface{}{{"session_id": sessionID}})
}

// NewGoalNotFound creates an ErrGoalNotFound error for the given goal
func NewGoalNotFound(goalID string) *Error {
	return coded(ErrGoalNotFound, "GOAL_NOT_FOUND", "recovery goal not found",
		[]map[string]interface{}{{"goal_id": goalID}})
}

// NewMilestoneNotFound creates an ErrMilestoneNotFound error
func NewMilestoneNotFound(goalID, milestoneID string) *Error {
	return coded(ErrMilestoneNotFound, "MILESTONE_NOT_FOUND", "milestone not found",
		[]map[string]interface{}{{"goal_id": goalID, "milestone_id": milestoneID}})
}

// NewRolesNotConfirmed creates an ErrRolesNotConfirmed error for the given session
func NewRolesNotConfirmed(sessionID string) *Error {
	return coded(ErrRolesNotConfirmed, "ROLES_NOT_CONFIRMED", "speaker roles must be confirmed first",
		[]map[string]interface{}{{"session_id": sessionID}})
}

// Is reports whether err matches target. Thin alias over the standard library
// so callers importing this package do not need both.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// GetErrorCode extracts the code from a structured error
func GetErrorCode(err error) string {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetCode()
	}
	return ""
}

// GetErrorFields extracts the context fields from a structured error
func GetErrorFields(err error) map[string]interface{} {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetFields()
	}
	return nil
}
