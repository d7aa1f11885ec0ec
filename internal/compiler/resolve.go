package compiler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/warwickepr/workstack/internal/program"
)

// ActionRegistry maps action names from program definitions to the
// collaborator functions that implement them.
type ActionRegistry map[string]program.CallFunc

// UnknownActionError is returned when a call step names an action the
// registry does not provide.
type UnknownActionError struct {
	Action string
	Known  []string
}

func (e *UnknownActionError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown action %q (registry is empty)", e.Action)
	}
	return fmt.Sprintf("unknown action %q (known: %s)", e.Action, strings.Join(e.Known, ", "))
}

// Resolve binds a compiled spec's call steps to registry functions and
// produces the runnable instruction sequence.
func Resolve(spec *ProgramSpec, registry ActionRegistry) (program.Program, error) {
	instrs := make([]program.Instruction, 0, len(spec.Steps))

	for i, step := range spec.Steps {
		switch step.Do {
		case "call":
			fn, ok := registry[step.Action]
			if !ok {
				return program.Program{}, fmt.Errorf("steps[%d]: %w", i, &UnknownActionError{
					Action: step.Action,
					Known:  registryNames(registry),
				})
			}
			instrs = append(instrs, program.Call(step.Description, fn, step.Args...))

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
			// CompileProgram rejects unknown kinds; this guards specs
			// built by hand.
			return program.Program{}, fmt.Errorf("steps[%d]: unknown step kind %q", i, step.Do)
		}
	}

	return program.Load(instrs...), nil
}

func registryNames(registry ActionRegistry) []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
