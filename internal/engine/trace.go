package engine

// StepOutcome records how a dispatched step concluded.
type StepOutcome string

const (
	// OutcomeOK marks a step that completed and auto-advanced.
	OutcomeOK StepOutcome = "ok"
	// OutcomeWaiting marks a Wait step that suspended the run.
	OutcomeWaiting StepOutcome = "waiting"
	// OutcomeFailed marks a Call whose collaborator returned an error;
	// the target was abandoned.
	OutcomeFailed StepOutcome = "failed"
	// OutcomeAbandoned marks a step skipped because the target's step
	// quota ran out.
	OutcomeAbandoned StepOutcome = "abandoned"
)

// Step is one entry in a run's trace: the dispatched instruction plus its
// seq stamp, target, and outcome. The trace is what the harness compares
// against golden files and what the archive persists alongside results.
type Step struct {
	Seq     int64       `json:"seq"`
	Op      string      `json:"op"`
	Label   string      `json:"label"`
	Target  string      `json:"target,omitempty"`
	Outcome StepOutcome `json:"outcome"`
	Detail  string      `json:"detail,omitempty"`
}

// Trace returns a copy of the current run's step trace in dispatch order.
func (s *Scheduler) Trace() []Step {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]Step, len(s.trace))
	copy(cp, s.trace)
	return cp
}

func (s *Scheduler) recordStepLocked(step Step) {
	s.trace = append(s.trace, step)
}
