package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warwickepr/workstack/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Label  string                     `json:"label,omitempty"`
	Steps  int                        `json:"steps,omitempty"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <program.cue>",
		Short: "Validate a program definition without running it",
		Long: `Compile a CUE program definition and check its semantic rules
without running anything. Faster feedback than run for editing programs.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, programPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	loaded, err := LoadProgram(programPath)
	if err != nil {
		_ = formatter.ErrorOut(loadErrorCode(err), err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}
	formatter.VerboseLog("Loaded %d CUE file(s) from %s", loaded.FileCount, programPath)

	spec := loaded.Spec
	if verrs := compiler.Validate(spec); len(verrs) > 0 {
		return outputValidationErrors(formatter, verrs)
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{
			Valid: true,
			Label: spec.Label,
			Steps: len(spec.Steps),
		})
	}
	fmt.Fprintf(formatter.Writer, "program %q valid: %d step(s), %d target(s)\n",
		spec.Label, len(spec.Steps), len(spec.Targets))
	return nil
}

// outputValidationErrors reports the errors and maps them to exit code 1.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		response := Response{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &Error{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "validation failed")
	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s\n", err.Error())
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
