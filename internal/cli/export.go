package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warwickepr/workstack/internal/archive"
)

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath string
	var asCSV bool

	cmd := &cobra.Command{
		Use:   "export [run-token]",
		Short: "List or export archived runs",
		Long: `Read the run archive. Without a token, lists archived runs.
With a token, prints that run's result table.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			token := ""
			if len(args) == 1 {
				token = args[0]
			}
			return runExport(rootOpts, dbPath, token, asCSV, cmd)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "workstack.db", "archive database path")
	cmd.Flags().BoolVar(&asCSV, "csv", false, "write the result table as CSV instead of columns")

	return cmd
}

func runExport(opts *RootOptions, dbPath, token string, asCSV bool, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	db, err := archive.Open(dbPath)
	if err != nil {
		_ = formatter.ErrorOut(ErrCodeNotFound, fmt.Sprintf("opening archive: %v", err), nil)
		return NewExitError(ExitCommandError, err.Error())
	}
	defer db.Close()

	ctx := cmd.Context()
	if token == "" {
		return listRuns(ctx, formatter, db)
	}
	return exportRun(ctx, formatter, db, token, asCSV)
}

func listRuns(ctx context.Context, formatter *OutputFormatter, db *archive.Archive) error {
	runs, err := db.ListRuns(ctx)
	if err != nil {
		_ = formatter.ErrorOut(ErrCodeGeneric, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	if formatter.Format == "json" {
		return formatter.Success(runs)
	}

	if len(runs) == 0 {
		fmt.Fprintln(formatter.Writer, "no archived runs")
		return nil
	}
	for _, run := range runs {
		fmt.Fprintf(formatter.Writer, "%s  %-9s %s  %s\n", run.Token, run.State, run.CreatedAt, run.Label)
	}
	return nil
}

func exportRun(ctx context.Context, formatter *OutputFormatter, db *archive.Archive, token string, asCSV bool) error {
	run, err := db.ReadRun(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			msg := fmt.Sprintf("no archived run with token %s", token)
			_ = formatter.ErrorOut(ErrCodeNotFound, msg, nil)
			return NewExitError(ExitCommandError, msg)
		}
		_ = formatter.ErrorOut(ErrCodeGeneric, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	if formatter.Format == "json" {
		return formatter.Success(run)
	}

	if asCSV {
		return run.Results.WriteCSV(formatter.Writer)
	}
	return run.Results.WriteColumns(formatter.Writer)
}
