package engine

import (
	"errors"
	"fmt"
)

// RunError represents a usage or runtime error surfaced by the scheduler.
//
// Only ALREADY_RUNNING and NO_ACTIVE_RUN propagate to callers; they are
// programming errors. Action failures and missing results are caught
// inside dispatch and converted into a target abandon (see dispatch.go).
type RunError struct {
	// Code identifies the error category.
	Code RunErrorCode

	// Message is a human-readable description.
	Message string

	// RunToken identifies the affected run, if one exists.
	RunToken string

	// Target identifies the affected target, if any.
	Target string
}

// RunErrorCode categorizes scheduler errors.
type RunErrorCode string

const (
	// ErrCodeAlreadyRunning indicates Start was called mid-run.
	ErrCodeAlreadyRunning RunErrorCode = "ALREADY_RUNNING"

	// ErrCodeNoActiveRun indicates an operation that needs a live run
	// (e.g. InsertAhead) was called without one.
	ErrCodeNoActiveRun RunErrorCode = "NO_ACTIVE_RUN"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.RunToken != "" {
		return fmt.Sprintf("%s: %s (run=%s)", e.Code, e.Message, e.RunToken)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsAlreadyRunning returns true if the error reports a Start during an
// active run. Uses errors.As to handle wrapped errors.
func IsAlreadyRunning(err error) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == ErrCodeAlreadyRunning
	}
	return false
}

// IsNoActiveRun returns true if the error reports an operation without a
// live run.
func IsNoActiveRun(err error) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == ErrCodeNoActiveRun
	}
	return false
}

// NewAlreadyRunningError creates a RunError for a Start during a live run.
func NewAlreadyRunningError(runToken string) *RunError {
	return &RunError{
		Code:     ErrCodeAlreadyRunning,
		Message:  "a run is already active; stop it before starting another",
		RunToken: runToken,
	}
}

// NewNoActiveRunError creates a RunError for an operation without a run.
func NewNoActiveRunError(op string) *RunError {
	return &RunError{
		Code:    ErrCodeNoActiveRun,
		Message: fmt.Sprintf("%s requires an active run", op),
	}
}

// ActionError wraps a failure raised by a Call instruction's collaborator
// function. It never leaves the dispatch loop: the failing target is
// logged and abandoned, and the run moves on.
type ActionError struct {
	Description string // the failing instruction's description
	Target      string // the target that was abandoned
	Err         error  // the collaborator's error
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("action %q failed on target %q: %v", e.Description, e.Target, e.Err)
	}
	return fmt.Sprintf("action %q failed: %v", e.Description, e.Err)
}

// Unwrap returns the collaborator's error.
func (e *ActionError) Unwrap() error {
	return e.Err
}
