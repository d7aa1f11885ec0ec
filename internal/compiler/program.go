// Package compiler turns CUE program definitions into runnable sequencer
// programs. CUE gives the measurement scripts types, defaults, and
// positions for error reporting; the compiler only walks the evaluated
// value, it never shells out to the cue CLI.
package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// StepSpec is one step of a program definition, before action names are
// resolved against a registry.
type StepSpec struct {
	Do          string   // call, log, wait, start_timer, restart, next_target
	Action      string   // call: registry name
	Description string   // call: display label, defaults to the action name
	Args        []string // call: arguments, may contain the target placeholder
	Message     string   // log
	Event       string   // wait: event name, empty means any event
	Seconds     float64  // start_timer
	Pos         token.Pos
}

// ProgramSpec is a compiled program definition: the step list plus the
// run's target list and export column names.
type ProgramSpec struct {
	Label   string
	Targets []string
	Save    []string
	Steps   []StepSpec
}

// stepOps is the set of recognized step kinds.
var stepOps = map[string]bool{
	"call":        true,
	"log":         true,
	"wait":        true,
	"start_timer": true,
	"restart":     true,
	"next_target": true,
}

// CompileProgram parses a CUE value into a ProgramSpec.
//
// The CUE value should be the program struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`program: { label: "sweep", steps: [...] }`)
//	spec, err := CompileProgram(v.LookupPath(cue.ParsePath("program")))
func CompileProgram(v cue.Value) (*ProgramSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ProgramSpec{}

	labelVal := v.LookupPath(cue.ParsePath("label"))
	if !labelVal.Exists() {
		return nil, &CompileError{
			Field:   "label",
			Message: "label is required",
			Pos:     v.Pos(),
		}
	}
	label, err := labelVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	spec.Label = label

	spec.Targets, err = parseStringList(v, "targets")
	if err != nil {
		return nil, err
	}

	spec.Save, err = parseStringList(v, "save")
	if err != nil {
		return nil, err
	}

	spec.Steps, err = parseSteps(v)
	if err != nil {
		return nil, err
	}
	if len(spec.Steps) == 0 {
		return nil, &CompileError{
			Field:   "steps",
			Message: "at least one step is required",
			Pos:     v.Pos(),
		}
	}

	return spec, nil
}

// parseStringList reads an optional list-of-strings field.
func parseStringList(v cue.Value, field string) ([]string, error) {
	listVal := v.LookupPath(cue.ParsePath(field))
	if !listVal.Exists() {
		return nil, nil
	}

	iter, err := listVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// parseSteps extracts the ordered step list.
func parseSteps(v cue.Value) ([]StepSpec, error) {
	stepsVal := v.LookupPath(cue.ParsePath("steps"))
	if !stepsVal.Exists() {
		return nil, &CompileError{
			Field:   "steps",
			Message: "steps are required",
			Pos:     v.Pos(),
		}
	}

	iter, err := stepsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var steps []StepSpec
	idx := 0
	for iter.Next() {
		step, err := parseStep(iter.Value(), idx)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
		idx++
	}
	return steps, nil
}

// parseStep parses a single step struct and validates the fields its
// kind requires.
func parseStep(v cue.Value, idx int) (StepSpec, error) {
	step := StepSpec{Pos: v.Pos()}
	field := func(name string) string {
		return fmt.Sprintf("steps[%d].%s", idx, name)
	}

	doVal := v.LookupPath(cue.ParsePath("do"))
	if !doVal.Exists() {
		return step, &CompileError{
			Field:   field("do"),
			Message: "step kind is required",
			Pos:     v.Pos(),
		}
	}
	do, err := doVal.String()
	if err != nil {
		return step, formatCUEError(err)
	}
	if !stepOps[do] {
		return step, &CompileError{
			Field:   field("do"),
			Message: fmt.Sprintf("unknown step kind %q", do),
			Pos:     doVal.Pos(),
		}
	}
	step.Do = do

	switch do {
	case "call":
		actionVal := v.LookupPath(cue.ParsePath("action"))
		if !actionVal.Exists() {
			return step, &CompileError{
				Field:   field("action"),
				Message: "call steps require an action name",
				Pos:     v.Pos(),
			}
		}
		step.Action, err = actionVal.String()
		if err != nil {
			return step, formatCUEError(err)
		}

		step.Args, err = parseStringList(v, "args")
		if err != nil {
			return step, err
		}

		descVal := v.LookupPath(cue.ParsePath("description"))
		if descVal.Exists() {
			step.Description, err = descVal.String()
			if err != nil {
				return step, formatCUEError(err)
			}
		} else {
			step.Description = step.Action
		}

	case "log":
		msgVal := v.LookupPath(cue.ParsePath("message"))
		if !msgVal.Exists() {
			return step, &CompileError{
				Field:   field("message"),
				Message: "log steps require a message",
				Pos:     v.Pos(),
			}
		}
		step.Message, err = msgVal.String()
		if err != nil {
			return step, formatCUEError(err)
		}

	case "wait":
		// Event is optional; a bare wait resumes on any notification.
		eventVal := v.LookupPath(cue.ParsePath("event"))
		if eventVal.Exists() {
			step.Event, err = eventVal.String()
			if err != nil {
				return step, formatCUEError(err)
			}
		}

	case "start_timer":
		secVal := v.LookupPath(cue.ParsePath("seconds"))
		if !secVal.Exists() {
			return step, &CompileError{
				Field:   field("seconds"),
				Message: "start_timer steps require a duration in seconds",
				Pos:     v.Pos(),
			}
		}
		step.Seconds, err = secVal.Float64()
		if err != nil {
			return step, formatCUEError(err)
		}
		if step.Seconds <= 0 {
			return step, &CompileError{
				Field:   field("seconds"),
				Message: "timer duration must be positive",
				Pos:     secVal.Pos(),
			}
		}
	}

	return step, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
