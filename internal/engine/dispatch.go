package engine

import (
	"fmt"
	"strings"

	"github.com/warwickepr/workstack/internal/program"
)

// dispatch is the cooperative engine loop. The caller must have set
// s.dispatching under the lock and pass the run generation captured
// there; exactly one dispatch drives the live run at a time.
//
// The loop holds the lock for state transitions and releases it around
// collaborator calls, so an action is free to call Store, Fetch,
// InsertAhead or Notify on its own goroutine without deadlocking. Restart
// is handled inside the loop rather than by recursion so back-to-back
// restarts cannot grow the stack.
//
// A loop can outlive its run: Stop then Start while one of its calls is
// in flight hands the scheduler to a new generation. Every lock
// re-acquisition checks the stamp, and a stale loop returns without
// touching the live run's state, stack or trace.
func (s *Scheduler) dispatch(gen uint64) {
	for {
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}

		switch s.state {
		case StateWaiting:
			// Apply notifications queued while this cycle was running.
			event, ok := s.popPendingLocked()
			if !ok {
				s.dispatching = false
				s.mu.Unlock()
				return
			}
			s.matchWaitLocked(event)
			s.mu.Unlock()
			continue

		case StateRunning:
			// Fall through to instruction dispatch below.

		default:
			// Finished or Stopped: discard leftovers, fire the finish
			// hook once, outside the lock.
			s.pending = nil
			s.dispatching = false
			hook, token := s.finishHookLocked()
			s.mu.Unlock()
			if hook != nil {
				hook(token)
			}
			return
		}

		if s.stack.Exhausted() {
			s.advanceTargetLocked()
			s.mu.Unlock()
			continue
		}

		in, _ := s.stack.Current()
		target, _ := s.currentTargetLocked()

		if err := s.quota.check(target); err != nil {
			s.recordStepLocked(Step{
				Seq:     s.clock.Next(),
				Op:      in.Op.String(),
				Label:   in.Label(),
				Target:  target,
				Outcome: OutcomeAbandoned,
				Detail:  err.Error(),
			})
			s.log.Error("step quota exceeded, abandoning target",
				"run", s.runToken,
				"target", target,
				"error", err,
			)
			s.advanceTargetLocked()
			s.mu.Unlock()
			continue
		}

		seq := s.clock.Next()

		switch in.Op {
		case program.OpLog:
			msg := substituteTarget(in.Message, target)
			s.recordStepLocked(Step{Seq: seq, Op: "log", Label: msg, Target: target, Outcome: OutcomeOK})
			s.log.Info(msg, "run", s.runToken, "seq", seq, "target", target)
			s.stack.Advance()
			s.mu.Unlock()

		case program.OpStartTimer:
			d := in.Duration
			s.recordStepLocked(Step{Seq: seq, Op: "start_timer", Label: in.Label(), Target: target, Outcome: OutcomeOK})
			s.log.Info("timer started", "run", s.runToken, "seq", seq, "duration", d)
			s.stack.Advance()
			timer := s.timer
			s.mu.Unlock()
			if timer == nil {
				s.log.Warn("no timer collaborator wired, timer event will not fire", "duration", d)
			} else {
				timer.StartTimer(d, func() { s.Notify(EventTimer) })
			}

		case program.OpWait:
			s.waitingOn = in.Event
			s.state = StateWaiting
			s.recordStepLocked(Step{Seq: seq, Op: "wait", Label: in.Label(), Target: target, Outcome: OutcomeWaiting})
			s.log.Debug("suspended", "run", s.runToken, "seq", seq, "event", in.Label())
			s.mu.Unlock()
			// Loop: the Waiting arm drains queued notifies or returns.

		case program.OpRestart:
			s.recordStepLocked(Step{Seq: seq, Op: "restart", Label: in.Label(), Target: target, Outcome: OutcomeOK})
			s.log.Debug("restarting stack", "run", s.runToken, "seq", seq, "target", target)
			s.stack.Reset()
			s.mu.Unlock()

		case program.OpNextTarget:
			s.recordStepLocked(Step{Seq: seq, Op: "next_target", Label: in.Label(), Target: target, Outcome: OutcomeOK})
			s.advanceTargetLocked()
			s.mu.Unlock()

		case program.OpCall:
			fn := in.Func
			args := substituteArgs(in.Args, target)
			desc := substituteTarget(in.Description, target)
			s.log.Info("doing", "action", desc, "run", s.runToken, "seq", seq, "target", target)
			s.mu.Unlock()

			err := runCall(fn, args)

			s.mu.Lock()
			if gen != s.gen {
				// A newer Start owns the scheduler; the outcome belongs
				// to no live run.
				s.mu.Unlock()
				return
			}
			if s.state != StateRunning {
				// Stop landed while the call was in flight; record the
				// outcome but let the terminal arm clean up.
				s.recordStepLocked(callStep(seq, desc, target, err))
				s.mu.Unlock()
				continue
			}
			s.recordStepLocked(callStep(seq, desc, target, err))
			if err != nil {
				aerr := &ActionError{Description: desc, Target: target, Err: err}
				s.log.Error("action failed, abandoning target",
					"run", s.runToken,
					"seq", seq,
					"action", desc,
					"target", target,
					"error", aerr,
				)
				s.advanceTargetLocked()
			} else {
				s.stack.Advance()
			}
			s.mu.Unlock()

		default:
			// A corrupt instruction is treated like a failing call:
			// abandon the target rather than wedge the run.
			s.recordStepLocked(Step{Seq: seq, Op: in.Op.String(), Label: in.Label(), Target: target, Outcome: OutcomeFailed, Detail: "unknown op"})
			s.log.Error("unknown instruction op, abandoning target",
				"run", s.runToken,
				"op", int(in.Op),
				"target", target,
			)
			s.advanceTargetLocked()
			s.mu.Unlock()
		}
	}
}

// advanceTargetLocked moves the run to the next target with a fresh stack
// and quota, wrapping to the first target if LoopTargets armed it, or
// finishing the run when the list is exhausted.
func (s *Scheduler) advanceTargetLocked() {
	s.quota.reset()

	if s.wrapNext {
		s.wrapNext = false
		s.targetIndex = 0
		s.stack = program.NewStack(s.prog)
		if t, ok := s.currentTargetLocked(); ok {
			s.log.Info("looping back to first target", "run", s.runToken, "target", t)
		}
		return
	}

	s.targetIndex++
	if s.targetIndex >= s.targetCountLocked() {
		s.state = StateFinished
		s.log.Info("run finished", "run", s.runToken, "steps", s.clock.Current())
		return
	}

	s.stack = program.NewStack(s.prog)
	t, _ := s.currentTargetLocked()
	s.log.Info("moving on to next target", "run", s.runToken, "target", t)
}

// targetCountLocked returns the number of passes the run makes: one per
// target, or a single synthetic untargeted pass for an empty list.
func (s *Scheduler) targetCountLocked() int {
	if len(s.targets) == 0 {
		return 1
	}
	return len(s.targets)
}

func (s *Scheduler) popPendingLocked() (string, bool) {
	if len(s.pending) == 0 {
		return "", false
	}
	event := s.pending[0]
	s.pending = s.pending[1:]
	return event, true
}

func (s *Scheduler) finishHookLocked() (func(string), string) {
	if s.state == StateFinished && !s.notifiedFinish && s.onFinish != nil {
		s.notifiedFinish = true
		return s.onFinish, s.runToken
	}
	return nil, ""
}

func callStep(seq int64, desc, target string, err error) Step {
	st := Step{Seq: seq, Op: "call", Label: desc, Target: target, Outcome: OutcomeOK}
	if err != nil {
		st.Outcome = OutcomeFailed
		st.Detail = err.Error()
	}
	return st
}

// runCall invokes a collaborator function, converting a panic into an
// error so a broken action abandons its target like any other failure.
func runCall(fn program.CallFunc, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	if fn == nil {
		return fmt.Errorf("call instruction has no function")
	}
	return fn(args)
}

func substituteTarget(in, target string) string {
	if !strings.Contains(in, program.TargetPlaceholder) {
		return in
	}
	return strings.ReplaceAll(in, program.TargetPlaceholder, target)
}

func substituteArgs(args []string, target string) []string {
	if len(args) == 0 {
		return nil
	}
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = substituteTarget(a, target)
	}
	return out
}
