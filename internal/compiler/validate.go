package compiler

import (
	"fmt"
	"strings"

	"github.com/warwickepr/workstack/internal/program"
)

// Validation error codes (E100-E199)
const (
	ErrLabelEmpty          = "E101" // label is required
	ErrNoSteps             = "E102" // at least one step required
	ErrDuplicateTarget     = "E103" // duplicate target name
	ErrDuplicateSaveName   = "E104" // duplicate export column
	ErrActionNameEmpty     = "E105" // call step with empty action
	ErrPlaceholderNoTarget = "E106" // placeholder used in an untargeted program
	ErrTimerNotPositive    = "E107" // non-positive timer duration
	ErrUnknownStepKind     = "E108" // unrecognized step kind
)

// ValidationError represents a program definition validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled spec against semantic rules CompileProgram
// cannot see. Returns all errors found (does not fail-fast).
func Validate(spec *ProgramSpec) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(spec.Label) == "" {
		errs = append(errs, ValidationError{
			Field:   "label",
			Message: "label is required and must be non-empty",
			Code:    ErrLabelEmpty,
		})
	}

	if len(spec.Steps) == 0 {
		errs = append(errs, ValidationError{
			Field:   "steps",
			Message: "at least one step is required",
			Code:    ErrNoSteps,
		})
	}

	errs = append(errs, checkDuplicates(spec.Targets, "targets", ErrDuplicateTarget)...)
	errs = append(errs, checkDuplicates(spec.Save, "save", ErrDuplicateSaveName)...)

	for i, step := range spec.Steps {
		field := fmt.Sprintf("steps[%d]", i)

		if !stepOps[step.Do] {
			errs = append(errs, ValidationError{
				Field:   field + ".do",
				Message: fmt.Sprintf("unknown step kind %q", step.Do),
				Code:    ErrUnknownStepKind,
			})
			continue
		}

		switch step.Do {
		case "call":
			if strings.TrimSpace(step.Action) == "" {
				errs = append(errs, ValidationError{
					Field:   field + ".action",
					Message: "call steps require a non-empty action name",
					Code:    ErrActionNameEmpty,
				})
			}
			if len(spec.Targets) == 0 && usesPlaceholder(step) {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("%s used but the program has no targets", program.TargetPlaceholder),
					Code:    ErrPlaceholderNoTarget,
				})
			}

		case "log":
			if len(spec.Targets) == 0 && strings.Contains(step.Message, program.TargetPlaceholder) {
				errs = append(errs, ValidationError{
					Field:   field + ".message",
					Message: fmt.Sprintf("%s used but the program has no targets", program.TargetPlaceholder),
					Code:    ErrPlaceholderNoTarget,
				})
			}

		case "start_timer":
			if step.Seconds <= 0 {
				errs = append(errs, ValidationError{
					Field:   field + ".seconds",
					Message: "timer duration must be positive",
					Code:    ErrTimerNotPositive,
				})
			}
		}
	}

	return errs
}

func checkDuplicates(names []string, field, code string) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("duplicate entry %q", name),
				Code:    code,
			})
		}
		seen[name] = true
	}
	return errs
}

func usesPlaceholder(step StepSpec) bool {
	if strings.Contains(step.Description, program.TargetPlaceholder) {
		return true
	}
	for _, arg := range step.Args {
		if strings.Contains(arg, program.TargetPlaceholder) {
			return true
		}
	}
	return false
}
