package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for structured error reporting.
const (
	ErrCodeEmptyProgram  = "EMPTY_PROGRAM"
	ErrCodeDuplicateID   = "DUPLICATE_IDENTIFIER"
	ErrCodeInvalidTarget = "INVALID_TARGET_REFERENCE"
	ErrCodeUnreachable   = "UNREACHABLE_IDENTIFIER"
	ErrCodeConstruction  = "CONSTRUCTION_ERROR"
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeStore         = "STORE_ERROR"
)

// FlowError is the structured error type for all stepflow operations.
// Validation failures carry every offending identifier in IDs.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	IDs     []string       `json:"ids,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewIDsError creates a FlowError whose message lists ids after prefix,
// e.g. "duplicate ids: a, b".
func NewIDsError(code, prefix string, ids []string) *FlowError {
	return &FlowError{
		Code:    code,
		Message: prefix + ": " + strings.Join(ids, ", "),
		IDs:     ids,
	}
}

// WithStep attaches a step ID to the error.
func (e *FlowError) WithStep(stepID string) *FlowError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// HasCode reports whether err is, or wraps, a FlowError with the given code.
func HasCode(err error, code string) bool {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}
