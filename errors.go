package evset

import (
	"errors"
	"fmt"
)

// Code categorizes event set errors.
type Code string

const (
	// CodeInvalidHandle indicates an id or set that is closed or was
	// never issued.
	CodeInvalidHandle Code = "INVALID_HANDLE"

	// CodeInvalidArgument indicates a caller-supplied argument that the
	// operation cannot accept.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// CodeCreationFailed indicates a set or its supporting resources
	// could not be brought up.
	CodeCreationFailed Code = "CREATION_FAILED"

	// CodeStillActive indicates a close was attempted while operations
	// are still in progress.
	CodeStillActive Code = "OPERATIONS_STILL_ACTIVE"

	// CodeWaitFailed indicates the wait machinery itself broke down,
	// as opposed to a tracked operation failing.
	CodeWaitFailed Code = "WAIT_FAILED"
)

// Error is the structured error returned by event set operations.
//
// Code identifies the failure category for programmatic handling; the
// Is* helpers match codes through wrapped chains. Err carries the
// underlying cause when one exists, reachable via errors.Unwrap.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func hasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsInvalidHandle returns true if the error reports a closed or unknown
// handle. Uses errors.As to handle wrapped errors.
func IsInvalidHandle(err error) bool {
	return hasCode(err, CodeInvalidHandle)
}

// IsInvalidArgument returns true if the error reports a rejected
// argument. Uses errors.As to handle wrapped errors.
func IsInvalidArgument(err error) bool {
	return hasCode(err, CodeInvalidArgument)
}

// IsCreationFailed returns true if the error reports a failed set or
// resource creation. Uses errors.As to handle wrapped errors.
func IsCreationFailed(err error) bool {
	return hasCode(err, CodeCreationFailed)
}

// IsStillActive returns true if the error reports a close attempted with
// operations still in progress. Uses errors.As to handle wrapped errors.
func IsStillActive(err error) bool {
	return hasCode(err, CodeStillActive)
}

// IsWaitFailed returns true if the error reports a breakdown of the wait
// machinery. Uses errors.As to handle wrapped errors.
func IsWaitFailed(err error) bool {
	return hasCode(err, CodeWaitFailed)
}
