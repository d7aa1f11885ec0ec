package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/warwickepr/workstack/internal/archive"
	"github.com/warwickepr/workstack/internal/compiler"
	"github.com/warwickepr/workstack/internal/engine"
	"github.com/warwickepr/workstack/internal/results"
)

// RunResult is the JSON payload of a completed run.
type RunResult struct {
	Token   string        `json:"token"`
	Label   string        `json:"label"`
	State   string        `json:"state"`
	Targets []string      `json:"targets"`
	Steps   []engine.Step `json:"steps,omitempty"`
	Results results.Table `json:"results"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run <program.cue>",
		Short: "Run a program definition",
		Long: `Compile a CUE program definition and run it to completion.

Call steps execute against the built-in simulation actions: "store" records
a named value for the current target, "loop_targets" arms a wrap back to
the first target, and any other action acknowledges its own completion
event, so a program that waits on the action's name resumes immediately.
Timer events fire on real wall-clock timers.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(rootOpts, args[0], dbPath, timeout, cmd)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "archive the finished run to this SQLite database")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the run after this duration (0 = no limit)")

	return cmd
}

func runRun(opts *RootOptions, programPath, dbPath string, timeout time.Duration, cmd *cobra.Command) error {
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
	spec := loaded.Spec
	formatter.VerboseLog("Loaded %q: %d step(s), %d target(s)", spec.Label, len(spec.Steps), len(spec.Targets))

	if verrs := compiler.Validate(spec); len(verrs) > 0 {
		for _, verr := range verrs {
			_ = formatter.ErrorOut(verr.Code, verr.Error(), nil)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("program invalid: %d error(s)", len(verrs)))
	}

	logger := newRunLogger(cmd, opts.Verbose)
	timer := &wallClockTimer{}
	scheduler := engine.New(logger, timer)
	timer.scheduler = scheduler

	registry := simulationRegistry(spec, scheduler, formatter)
	prog, err := compiler.Resolve(spec, registry)
	if err != nil {
		_ = formatter.ErrorOut(ErrCodeGeneric, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := scheduler.Start(prog, spec.Targets); err != nil {
		_ = formatter.ErrorOut(ErrCodeGeneric, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	if err := scheduler.Run(ctx); err != nil {
		scheduler.Stop()
		_ = formatter.ErrorOut(ErrCodeGeneric, fmt.Sprintf("run aborted: %v", err), nil)
		return NewExitError(ExitFailure, "run aborted")
	}

	table := scheduler.Export(spec.Save)
	result := RunResult{
		Token:   scheduler.RunToken(),
		Label:   spec.Label,
		State:   scheduler.State().String(),
		Targets: spec.Targets,
		Steps:   scheduler.Trace(),
		Results: table,
	}

	if dbPath != "" {
		if err := archiveRun(ctx, dbPath, spec, result); err != nil {
			_ = formatter.ErrorOut(ErrCodeGeneric, err.Error(), nil)
			return NewExitError(ExitCommandError, err.Error())
		}
		formatter.VerboseLog("Archived run %s to %s", result.Token, dbPath)
	}

	return outputRunResult(formatter, spec, result)
}

func archiveRun(ctx context.Context, dbPath string, spec *compiler.ProgramSpec, result RunResult) error {
	db, err := archive.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer db.Close()

	return db.SaveRun(ctx, archive.Run{
		Token:   result.Token,
		Label:   spec.Label,
		State:   result.State,
		Targets: spec.Targets,
		Save:    spec.Save,
		Steps:   result.Steps,
		Results: result.Results,
	})
}

func outputRunResult(formatter *OutputFormatter, spec *compiler.ProgramSpec, result RunResult) error {
	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(formatter.Writer, "run %s %s\n", result.Token, result.State)
		if len(spec.Save) > 0 {
			if err := result.Results.WriteColumns(formatter.Writer); err != nil {
				return err
			}
		}
	}

	if result.State != engine.StateFinished.String() {
		return NewExitError(ExitFailure, fmt.Sprintf("run ended %s", result.State))
	}
	return nil
}

func newRunLogger(cmd *cobra.Command, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// wallClockTimer schedules timer events on real timers. It does not use
// the fire callback: completions go through the host-loop queue so Run
// applies them in FIFO order with every other event, and a direct Notify
// would leave Run parked on an empty queue after the run finished.
type wallClockTimer struct {
	scheduler *engine.Scheduler
}

func (t *wallClockTimer) StartTimer(d time.Duration, _ func()) {
	time.AfterFunc(d, func() {
		t.scheduler.Enqueue(engine.EventTimer)
	})
}

// simulationRegistry builds the action set for a CLI run.
//
// Real deployments register instrument collaborators here; the CLI ships
// a simulation. "store" and "loop_targets" are built in; every other
// action named by the program succeeds and acknowledges a completion
// event named after itself via the host-loop queue, so a program that
// waits on the action's name resumes.
func simulationRegistry(spec *compiler.ProgramSpec, s *engine.Scheduler, formatter *OutputFormatter) compiler.ActionRegistry {
	registry := compiler.ActionRegistry{
		"store": func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("store expects 2 args (name, value), got %d", len(args))
			}
			if f, err := strconv.ParseFloat(args[1], 64); err == nil {
				s.Store(args[0], f)
			} else {
				s.Store(args[0], args[1])
			}
			return nil
		},
		"loop_targets": func(args []string) error {
			s.LoopTargets()
			return nil
		},
	}

	for _, step := range spec.Steps {
		if step.Do != "call" {
			continue
		}
		if _, ok := registry[step.Action]; ok {
			continue
		}
		registry[step.Action] = simulatedAction(step.Action, s, formatter)
	}

	return registry
}

// simulatedAction acknowledges its own completion event.
func simulatedAction(name string, s *engine.Scheduler, formatter *OutputFormatter) func(args []string) error {
	return func(args []string) error {
		formatter.VerboseLog("simulated action %q %v", name, args)
		s.Enqueue(name)
		return nil
	}
}
