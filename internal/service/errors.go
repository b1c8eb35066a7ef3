package service

import "errors"

// The verification endpoint surfaces "Pass ID {id} not found", so the
// error must carry the offending id rather than collapse into a
// generic sentinel.
type NotFoundError struct {
	PassID string
}

func (e *NotFoundError) Error() string {
	return "pass " + e.PassID + " not found"
}

// TerminalError means the pass is in a state that permits no further
// entry/exit mutation: expired, pending, cancelled or deleted.
type TerminalError struct {
	Lifecycle string
	Message   string
}

func (e *TerminalError) Error() string {
	return "pass is " + e.Lifecycle + ": " + e.Message
}

// ValidationError carries a snake_case code the HTTP layer writes
// verbatim as the error payload.
type ValidationError struct {
	Code string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Code
}

var (
	ErrAlreadyCompleted    = errors.New("entry and exit already recorded")
	ErrExitAlreadyRecorded = errors.New("exit already recorded")
	ErrForbidden           = errors.New("forbidden")
)
