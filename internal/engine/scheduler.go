// Package engine implements the workstack scheduler: a cooperative engine
// that walks an instruction stack for each target in a list, dispatching
// calls into instrument collaborators and suspending on named completion
// events (refocus finished, image saved, timer fired) until a collaborator
// reports them back via Notify.
//
// Thread-safety model:
//   - Notify(), Enqueue(), Stop(): safe from any goroutine
//   - At most one dispatch cycle is active at a time; notifications that
//     arrive while a dispatch is running are queued, never re-entered
//   - Run(): the host event loop, call from exactly one goroutine
//
// Failure policy: a Call instruction's error is caught, logged, and
// converted into "abandon this target, move to the next". One dead point
// of interest out of dozens must not wedge or crash the whole run.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warwickepr/workstack/internal/program"
	"github.com/warwickepr/workstack/internal/results"
)

// State is the scheduler lifecycle state.
type State int

const (
	// StateIdle is the state before the first Start.
	StateIdle State = iota
	// StateRunning means a dispatch cycle is progressing through the stack.
	StateRunning
	// StateWaiting means the run is suspended on a named event.
	StateWaiting
	// StateFinished means the target list (or the single untargeted pass)
	// is exhausted.
	StateFinished
	// StateStopped means Stop() ended the run early.
	StateStopped
)

// String returns the state name used in logs.
func (st State) String() string {
	switch st {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateFinished:
		return "finished"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(st))
	}
}

// Timer is the single-shot timer collaborator. StartTimer schedules a
// single firing after d. An implementation either calls fire, which
// reports EventTimer via Notify, or reports EventTimer itself through
// Enqueue when a Run loop is driving the scheduler.
type Timer interface {
	StartTimer(d time.Duration, fire func())
}

// EventTimer is the event name the timer collaborator fires.
const EventTimer = "timer"

// DefaultMaxSteps is the default per-target step quota.
const DefaultMaxSteps = 1000

// Scheduler runs one program over one target list at a time. Collaborators
// are injected at construction; the scheduler never reaches into ambient
// globals.
type Scheduler struct {
	log      *slog.Logger
	timer    Timer
	results  *results.Store
	tokenGen RunTokenGenerator
	onFinish func(runToken string)
	maxSteps int
	queue    *eventQueue

	mu             sync.Mutex
	gen            uint64
	state          State
	prog           program.Program
	targets        []string
	stack          *program.Stack
	targetIndex    int
	waitingOn      string
	runToken       string
	clock          *Clock
	quota          *stepQuota
	trace          []Step
	pending        []string
	dispatching    bool
	wrapNext       bool
	notifiedFinish bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxSteps sets the per-target step quota. Use a small value to test
// quota enforcement; raise it for programs with long Restart loops.
func WithMaxSteps(n int) Option {
	return func(s *Scheduler) {
		s.maxSteps = n
	}
}

// WithResults injects a shared result store. By default the scheduler owns
// a fresh one.
func WithResults(store *results.Store) Option {
	return func(s *Scheduler) {
		s.results = store
	}
}

// WithRunTokens overrides the run token generator (for testing).
func WithRunTokens(gen RunTokenGenerator) Option {
	return func(s *Scheduler) {
		s.tokenGen = gen
	}
}

// WithOnFinished registers a hook called once when a run reaches Finished.
// The hook runs outside the scheduler lock; it may call Export or Start.
func WithOnFinished(fn func(runToken string)) Option {
	return func(s *Scheduler) {
		s.onFinish = fn
	}
}

// New creates a Scheduler with the given logger and timer collaborator.
// A nil timer is tolerated: StartTimer instructions then log a warning and
// the paired wait must be released by some other collaborator.
func New(logger *slog.Logger, timer Timer, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		log:      logger,
		timer:    timer,
		results:  results.NewStore(),
		tokenGen: UUIDv7Generator{},
		maxSteps: DefaultMaxSteps,
		queue:    newEventQueue(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds a fresh run from the program and target templates and
// dispatches synchronously: the caller's goroutine executes instructions
// until the run finishes or suspends on a Wait.
//
// Returns an ALREADY_RUNNING error if a run is active. The templates are
// copied; a finished or stopped run's state is discarded, so Start may be
// called again with the same or different templates.
func (s *Scheduler) Start(prog program.Program, targets []string) error {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateWaiting {
		token := s.runToken
		s.mu.Unlock()
		return NewAlreadyRunningError(token)
	}

	s.prog = prog
	s.targets = append([]string(nil), targets...)
	s.stack = program.NewStack(prog)
	s.targetIndex = 0
	s.waitingOn = ""
	s.runToken = s.tokenGen.Generate()
	s.clock = NewClock()
	s.quota = newStepQuota(s.maxSteps)
	s.trace = nil
	s.pending = nil
	s.wrapNext = false
	s.notifiedFinish = false
	s.state = StateRunning
	s.dispatching = true
	s.gen++
	gen := s.gen
	s.log.Info("run started",
		"run", s.runToken,
		"steps", prog.Len(),
		"targets", len(s.targets),
	)
	s.mu.Unlock()

	s.dispatch(gen)
	return nil
}

// Stop ends the run early. It takes effect before the next dispatch
// iteration: an in-flight Call is not interrupted, only the scheduler's
// own progression halts. Subsequent notifies are no-ops until the next
// Start. Stopping an idle or finished scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateWaiting {
		s.state = StateStopped
		s.waitingOn = ""
		s.log.Info("run stopped", "run", s.runToken)
	}
	s.mu.Unlock()
}

// Notify reports an external completion event. Safe from any goroutine.
//
// If the run is Waiting on this event (or on any event), it resumes and
// dispatches on the caller's goroutine. Otherwise the notification is
// dropped. If a dispatch cycle is already active, the event is queued and
// applied by that cycle instead, preserving the one-dispatch-at-a-time
// invariant.
func (s *Scheduler) Notify(event string) {
	s.mu.Lock()
	if s.dispatching {
		s.pending = append(s.pending, event)
		s.mu.Unlock()
		return
	}
	if !s.matchWaitLocked(event) {
		s.mu.Unlock()
		return
	}
	s.dispatching = true
	gen := s.gen
	s.mu.Unlock()

	s.dispatch(gen)
}

// matchWaitLocked applies wait/notify semantics. Returns true if the event
// released the wait; the cursor is advanced past the Wait instruction and
// the state set back to Running.
func (s *Scheduler) matchWaitLocked(event string) bool {
	if s.state != StateWaiting {
		s.log.Debug("notify dropped: not waiting", "event", event, "state", s.state.String())
		return false
	}
	if s.waitingOn != program.EventAny && s.waitingOn != event {
		s.log.Debug("notify dropped: waiting on different event",
			"event", event,
			"waiting_on", s.waitingOn,
		)
		return false
	}
	s.log.Debug("resumed", "run", s.runToken, "event", event)
	s.waitingOn = ""
	s.state = StateRunning
	s.stack.Advance()
	return true
}

// Enqueue pushes an event name onto the host-loop queue. Safe from any
// goroutine; this is how hardware completion callbacks and timers should
// report events when a Run loop is driving the scheduler.
// Returns false if the queue has been closed.
func (s *Scheduler) Enqueue(event string) bool {
	return s.queue.Enqueue(event)
}

// TryDequeue pops the next host-loop event without blocking. Hosts that
// drive the scheduler with their own loop use this instead of Run.
func (s *Scheduler) TryDequeue() (string, bool) {
	return s.queue.TryDequeue()
}

// Run drains the event queue, applying each event via Notify in FIFO
// order. It returns nil once the run reaches Finished or Stopped, or the
// context error on cancellation. Call from exactly one goroutine.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		event, ok := s.queue.TryDequeue()
		if ok {
			s.Notify(event)
			continue
		}

		if st := s.State(); st == StateFinished || st == StateStopped {
			s.log.Debug("host loop done", "state", st.String())
			return nil
		}

		select {
		case <-ctx.Done():
			s.log.Info("host loop stopping: context cancelled")
			s.queue.Close()
			return ctx.Err()

		case <-s.queue.Wait():
			// Signal received; loop back to TryDequeue. The channel
			// closes when the queue closes, so this also fires on Close.
			if s.queue.Len() == 0 && s.queue.Closed() {
				return nil
			}
		}
	}
}

// CurrentTarget returns the target the run is on, or ok=false for an
// untargeted run or when no run is active.
func (s *Scheduler) CurrentTarget() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTargetLocked()
}

func (s *Scheduler) currentTargetLocked() (string, bool) {
	if len(s.targets) == 0 || s.targetIndex >= len(s.targets) {
		return "", false
	}
	return s.targets[s.targetIndex], true
}

// Store records a named result under the current target (or the
// untargeted key). Collaborator actions use this to accumulate fitted
// quantities for the final export.
func (s *Scheduler) Store(name string, value any) {
	s.mu.Lock()
	key, _ := s.currentTargetLocked()
	s.mu.Unlock()
	s.results.Store(key, name, value)
}

// Fetch returns a result previously stored under the current target.
// A MissingResultError returned from inside a Call propagates as that
// call's failure, abandoning the target like any other action failure.
func (s *Scheduler) Fetch(name string) (any, error) {
	s.mu.Lock()
	key, _ := s.currentTargetLocked()
	s.mu.Unlock()
	return s.results.Fetch(key, name)
}

// Results exposes the underlying result store.
func (s *Scheduler) Results() *results.Store {
	return s.results
}

// Export builds the run's result table over the run's targets in order,
// with one column per name. Missing values become the export sentinel.
func (s *Scheduler) Export(names []string) results.Table {
	s.mu.Lock()
	targets := append([]string(nil), s.targets...)
	s.mu.Unlock()
	return s.results.Export(targets, names)
}

// InsertAhead splices instructions immediately after the cursor so they
// execute next. Used by recovery actions ("upload failed, wait and retry")
// from inside a Call. Errors with NO_ACTIVE_RUN outside a run.
func (s *Scheduler) InsertAhead(instrs ...program.Instruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stack == nil || (s.state != StateRunning && s.state != StateWaiting) {
		return NewNoActiveRunError("InsertAhead")
	}
	s.stack.InsertAhead(instrs...)
	return nil
}

// ReplaceTail drops everything after the cursor and splices instrs in its
// place. Recovery actions use it when the rest of the stack is not worth
// running for this target (count rate collapsed, skip straight to saving).
// Errors with NO_ACTIVE_RUN outside a run.
func (s *Scheduler) ReplaceTail(instrs ...program.Instruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stack == nil || (s.state != StateRunning && s.state != StateWaiting) {
		return NewNoActiveRunError("ReplaceTail")
	}
	s.stack.ReplaceTail(instrs...)
	return nil
}

// LoopTargets, called from a Call action while the run is on its last
// target, makes the next target advance wrap back to the first target
// instead of finishing. Calling it on any other target is a no-op, so a
// program ending in Call("loop", ...) revisits the whole list until
// Stop(). Looping is never automatic.
func (s *Scheduler) LoopTargets() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.targets) > 0 && s.targetIndex == len(s.targets)-1 {
		s.wrapNext = true
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WaitingOn returns the event the run is suspended on and true when
// Waiting. An EventAny event means any notification releases it.
func (s *Scheduler) WaitingOn() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateWaiting {
		return "", false
	}
	return s.waitingOn, true
}

// RunToken returns the current (or most recent) run's token.
func (s *Scheduler) RunToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runToken
}

// Targets returns a copy of the current run's target list.
func (s *Scheduler) Targets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.targets...)
}

// QueueLen returns the number of host-loop events not yet applied.
func (s *Scheduler) QueueLen() int {
	return s.queue.Len()
}
