// Package harness executes scheduler scenarios defined in YAML: a program,
// stubbed instrument actions, a script of external events, and expectations
// over the final state, results, and step trace. Scenarios double as
// executable documentation of the wait/notify and failure semantics.
package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one harness test case.
type Scenario struct {
	// Name uniquely identifies this scenario; golden files use it.
	Name string `yaml:"name"`

	// Description explains what this scenario demonstrates.
	Description string `yaml:"description"`

	// RunToken is the fixed token for the run. Defaults to "test-run" so
	// golden traces stay deterministic.
	RunToken string `yaml:"run_token,omitempty"`

	// MaxSteps overrides the per-target step quota. 0 keeps the default.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// Targets is the run's target list; empty means one untargeted pass.
	Targets []string `yaml:"targets,omitempty"`

	// Save lists the export column names.
	Save []string `yaml:"save,omitempty"`

	// Program is the ordered step list, same shape as CUE program steps.
	Program []Step `yaml:"program"`

	// Actions stubs the instrument collaborators call steps dispatch to.
	Actions map[string]ActionStub `yaml:"actions,omitempty"`

	// Events is a script of external completion events pushed onto the
	// host-loop queue after the run starts.
	Events []string `yaml:"events,omitempty"`

	// Expect holds the scenario's expectations.
	Expect *Expectation `yaml:"expect"`
}

// Step mirrors a compiled program step.
type Step struct {
	Do          string   `yaml:"do"`
	Action      string   `yaml:"action,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Args        []string `yaml:"args,omitempty"`
	Message     string   `yaml:"message,omitempty"`
	Event       string   `yaml:"event,omitempty"`
	Seconds     float64  `yaml:"seconds,omitempty"`
}

// ActionStub describes how a stubbed action behaves when dispatched.
type ActionStub struct {
	// Store is written to the result store under the current target.
	Store map[string]float64 `yaml:"store,omitempty"`

	// Notify is an event name enqueued after the action completes,
	// simulating an instrument acknowledging its own completion.
	Notify string `yaml:"notify,omitempty"`

	// FailOn lists targets where the action returns an error.
	FailOn []string `yaml:"fail_on,omitempty"`

	// Error is the message for FailOn failures.
	Error string `yaml:"error,omitempty"`

	// LoopTargets arms a wrap back to the first target. Pair the program
	// with a wait so the event script bounds the number of laps.
	LoopTargets bool `yaml:"loop_targets,omitempty"`
}

// Expectation validates the run after the event script drains.
type Expectation struct {
	// State is the expected final scheduler state.
	State string `yaml:"state"`

	// WaitingOn is the expected suspended event (only with state waiting).
	WaitingOn string `yaml:"waiting_on,omitempty"`

	// Results is a subset match on the exported table: target -> name ->
	// formatted value. Use "-" as the target of an untargeted run.
	Results map[string]map[string]string `yaml:"results,omitempty"`

	// TraceContains lists step labels that must appear in the trace.
	TraceContains []string `yaml:"trace_contains,omitempty"`

	// TraceOrder lists step labels that must appear in this relative
	// order (other steps may interleave).
	TraceOrder []string `yaml:"trace_order,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly instead of silently weakening a test.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Program) == 0 {
		return fmt.Errorf("program list is required and must be non-empty")
	}
	if s.Expect == nil {
		return fmt.Errorf("expect is required")
	}
	if s.Expect.State == "" {
		return fmt.Errorf("expect.state is required")
	}

	for i, step := range s.Program {
		switch step.Do {
		case "call":
			if step.Action == "" {
				return fmt.Errorf("program[%d]: call steps require an action", i)
			}
			if _, ok := s.Actions[step.Action]; !ok {
				return fmt.Errorf("program[%d]: action %q has no stub", i, step.Action)
			}
		case "log":
			if step.Message == "" {
				return fmt.Errorf("program[%d]: log steps require a message", i)
			}
		case "start_timer":
			if step.Seconds <= 0 {
				return fmt.Errorf("program[%d]: start_timer requires positive seconds", i)
			}
		case "wait", "restart", "next_target":
		default:
			return fmt.Errorf("program[%d]: unknown step kind %q", i, step.Do)
		}
	}

	return nil
}
