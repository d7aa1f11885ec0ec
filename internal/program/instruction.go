package program

import (
	"fmt"
	"time"
)

// Op discriminates the instruction variants.
//
// The set is closed: the engine dispatches with an exhaustive switch, so a
// new Op requires a matching dispatch arm. This replaces the duck-typed
// tuples and magic strings ('wait', 'skip', 'start again') the scheduler
// grew up with, where a missed string comparison silently stalled a run.
type Op int

const (
	// OpCall invokes an external collaborator function, then auto-advances.
	OpCall Op = iota + 1
	// OpLog records a line to the run log, then auto-advances.
	OpLog
	// OpWait suspends the run until a matching event is reported.
	OpWait
	// OpStartTimer asks the timer collaborator to fire "timer" after a
	// duration, then auto-advances. Pair it with WaitFor("timer").
	OpStartTimer
	// OpRestart resets the cursor to the start of the stack for the
	// current target.
	OpRestart
	// OpNextTarget abandons the rest of the stack for the current target
	// and moves on to the next one.
	OpNextTarget
)

// String returns the op name used in logs and traces.
func (op Op) String() string {
	switch op {
	case OpCall:
		return "call"
	case OpLog:
		return "log"
	case OpWait:
		return "wait"
	case OpStartTimer:
		return "start_timer"
	case OpRestart:
		return "restart"
	case OpNextTarget:
		return "next_target"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// CallFunc is the shape of an external collaborator call. Long-running
// hardware operations are expected to return immediately and report
// completion later via the scheduler's Notify.
type CallFunc func(args []string) error

// TargetPlaceholder in Call args and Log messages is substituted with the
// current target name at dispatch time. Untargeted runs substitute the
// empty string.
const TargetPlaceholder = "_X_"

// EventAny is the zero event name: a wait on EventAny is released by any
// notification.
const EventAny = ""

// Instruction is one step of a Program. Only the fields relevant to its Op
// are populated; use the constructors rather than building literals.
type Instruction struct {
	Op          Op
	Description string        // Call: short label for logs and traces
	Func        CallFunc      // Call: the collaborator function
	Args        []string      // Call: arguments, may contain TargetPlaceholder
	Message     string        // Log: line for the run log
	Event       string        // Wait: event name, EventAny for any
	Duration    time.Duration // StartTimer: single-shot delay
}

// Call builds an instruction that invokes fn with args.
func Call(description string, fn CallFunc, args ...string) Instruction {
	return Instruction{
		Op:          OpCall,
		Description: description,
		Func:        fn,
		Args:        args,
	}
}

// LogMsg builds an instruction that records msg to the run log.
func LogMsg(msg string) Instruction {
	return Instruction{Op: OpLog, Message: msg}
}

// Wait builds an instruction that suspends until any event arrives.
func Wait() Instruction {
	return Instruction{Op: OpWait, Event: EventAny}
}

// WaitFor builds an instruction that suspends until the named event arrives.
func WaitFor(event string) Instruction {
	return Instruction{Op: OpWait, Event: event}
}

// StartTimer builds an instruction that starts the single-shot timer
// collaborator. The timer fires the "timer" event; the instruction itself
// auto-advances, so follow it with WaitFor("timer").
func StartTimer(d time.Duration) Instruction {
	return Instruction{Op: OpStartTimer, Duration: d}
}

// Restart builds an instruction that resets the cursor to the start of the
// stack for the current target.
func Restart() Instruction {
	return Instruction{Op: OpRestart}
}

// NextTarget builds an instruction that abandons the remainder of the stack
// for the current target.
func NextTarget() Instruction {
	return Instruction{Op: OpNextTarget}
}

// Label returns a short human-readable form for logs.
func (in Instruction) Label() string {
	switch in.Op {
	case OpCall:
		if in.Description != "" {
			return in.Description
		}
		return "call"
	case OpLog:
		return in.Message
	case OpWait:
		if in.Event == EventAny {
			return "wait"
		}
		return "wait " + in.Event
	case OpStartTimer:
		return fmt.Sprintf("timer %s", in.Duration)
	default:
		return in.Op.String()
	}
}
