package harness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/warwickepr/workstack/internal/engine"
	"github.com/warwickepr/workstack/internal/program"
	"github.com/warwickepr/workstack/internal/results"
)

// DefaultRunToken keeps golden traces stable across runs.
const DefaultRunToken = "test-run"

// Result captures the state of the scheduler after the scenario's event
// script has drained.
type Result struct {
	State     string
	WaitingOn string
	Trace     []engine.Step
	Table     results.Table
	Store     *results.Store
}

// scriptTimer makes timers synchronous and deterministic: a timer event
// lands on the host queue immediately, regardless of the duration. The
// fire callback is unused for the same reason as in the CLI's wall-clock
// timer: completions go through the queue the drain loop reads.
type scriptTimer struct {
	scheduler *engine.Scheduler
}

func (t *scriptTimer) StartTimer(_ time.Duration, _ func()) {
	t.scheduler.Enqueue(engine.EventTimer)
}

// Run executes a scenario: builds the program from the step list and the
// action stubs, starts the run, pushes the scripted events, and drains the
// queue. It never blocks waiting for events the script does not provide,
// so scenarios may end suspended and assert on that.
func Run(scenario *Scenario) (*Result, error) {
	token := scenario.RunToken
	if token == "" {
		token = DefaultRunToken
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	timer := &scriptTimer{}

	opts := []engine.Option{
		engine.WithRunTokens(engine.NewFixedGenerator(token)),
	}
	if scenario.MaxSteps > 0 {
		opts = append(opts, engine.WithMaxSteps(scenario.MaxSteps))
	}

	scheduler := engine.New(logger, timer, opts...)
	timer.scheduler = scheduler

	prog, err := buildProgram(scenario, scheduler)
	if err != nil {
		return nil, err
	}

	if err := scheduler.Start(prog, scenario.Targets); err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}

	for _, event := range scenario.Events {
		scheduler.Enqueue(event)
	}

	// Drain without blocking: stubs may enqueue their own completions
	// while we apply the scripted ones.
	for {
		event, ok := scheduler.TryDequeue()
		if !ok {
			break
		}
		scheduler.Notify(event)
	}

	result := &Result{
		State: scheduler.State().String(),
		Trace: scheduler.Trace(),
		Table: scheduler.Export(scenario.Save),
		Store: scheduler.Results(),
	}
	if event, waiting := scheduler.WaitingOn(); waiting {
		result.WaitingOn = event
		if result.WaitingOn == program.EventAny {
			result.WaitingOn = "any"
		}
	}
	return result, nil
}

// buildProgram turns the scenario's step list into an instruction sequence
// with the stubbed actions bound in.
func buildProgram(scenario *Scenario, scheduler *engine.Scheduler) (program.Program, error) {
	instrs := make([]program.Instruction, 0, len(scenario.Program))

	for i, step := range scenario.Program {
		switch step.Do {
		case "call":
			stub := scenario.Actions[step.Action]
			desc := step.Description
			if desc == "" {
				desc = step.Action
			}
			fn := stubFunc(step.Action, stub, scheduler)
			instrs = append(instrs, program.Call(desc, fn, step.Args...))

		case "log":
			instrs = append(instrs, program.LogMsg(step.Message))

		case "wait":
			if step.Event == "" {
				instrs = append(instrs, program.Wait())
			} else {
				instrs = append(instrs, program.WaitFor(step.Event))
			}

		case "start_timer":
			d := time.Duration(step.Seconds * float64(time.Second))
			instrs = append(instrs, program.StartTimer(d))

		case "restart":
			instrs = append(instrs, program.Restart())

		case "next_target":
			instrs = append(instrs, program.NextTarget())

		default:
			return program.Program{}, fmt.Errorf("program[%d]: unknown step kind %q", i, step.Do)
		}
	}

	return program.Load(instrs...), nil
}

// stubFunc builds the collaborator function for an action stub.
func stubFunc(name string, stub ActionStub, scheduler *engine.Scheduler) program.CallFunc {
	return func(args []string) error {
		target, _ := scheduler.CurrentTarget()
		for _, failTarget := range stub.FailOn {
			if failTarget == target {
				msg := stub.Error
				if msg == "" {
					msg = fmt.Sprintf("stub %s configured to fail", name)
				}
				return errors.New(msg)
			}
		}

		for resultName, value := range stub.Store {
			scheduler.Store(resultName, value)
		}
		if stub.LoopTargets {
			scheduler.LoopTargets()
		}
		if stub.Notify != "" {
			scheduler.Enqueue(stub.Notify)
		}
		return nil
	}
}
