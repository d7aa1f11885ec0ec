package engine

import (
	"errors"
	"fmt"
)

// stepQuota counts dispatched instructions for the current target and
// enforces a maximum.
//
// A Restart instruction with no Wait between it and the top of the stack
// would otherwise spin the dispatch loop forever; the quota converts that
// into an abandoned target instead of a wedged scheduler. The counter
// resets whenever the run moves to a new target.
type stepQuota struct {
	maxSteps int
	current  int
}

func newStepQuota(maxSteps int) *stepQuota {
	return &stepQuota{maxSteps: maxSteps}
}

// check increments the step counter and validates against the limit.
// Returns StepsExceededError once the quota is exceeded.
func (q *stepQuota) check(target string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{
			Target: target,
			Steps:  q.current,
			Limit:  q.maxSteps,
		}
	}
	return nil
}

// reset resets the step counter to 0. Called on every target advance.
func (q *stepQuota) reset() {
	q.current = 0
}

// StepsExceededError is reported when a single target's stack dispatches
// more steps than the configured limit. The target is abandoned; the run
// continues with the next target.
type StepsExceededError struct {
	Target string // the target that exceeded the quota
	Steps  int    // number of steps taken
	Limit  int    // maximum allowed steps
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("untargeted run exceeded max steps quota: %d steps > %d limit", e.Steps, e.Limit)
	}
	return fmt.Sprintf("target %q exceeded max steps quota: %d steps > %d limit", e.Target, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
