package rpc

import "fmt"

// Error is the typed error surfaced to callers awaiting a command result. It carries exactly one
// failure classification; callers never observe transport details beyond it.
type Error struct {
	// Type classifies the failure.
	Type FailureType

	// Message is a human-readable description of the failure.
	Message string
}

// NewError creates a new Error with the provided failure type and message.
func NewError(failureType FailureType, message string) *Error {
	return &Error{Type: failureType, Message: message}
}

// Error returns the error message string, implementing the `error` interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc failure (%s): %s", e.Type, e.Message)
}

// FailureTypeOf extracts the failure classification from an error. Errors which are not *Error
// values classify as FailureOther.
func FailureTypeOf(err error) FailureType {
	if rpcErr, ok := err.(*Error); ok {
		return rpcErr.Type
	}
	return FailureOther
}
