package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/warwickepr/workstack/internal/engine"
	"github.com/warwickepr/workstack/internal/results"
)

// Run is one archived run: metadata, step trace, and the exported result
// table as it was at the end of the run.
type Run struct {
	Token   string
	Label   string
	State   string
	Targets []string
	Save    []string
	Steps   []engine.Step
	Results results.Table
}

// SaveRun writes a finished run and all its rows in one transaction.
// Uses ON CONFLICT(token) DO NOTHING for idempotency - saving the same
// run token twice leaves the first record untouched.
func (a *Archive) SaveRun(ctx context.Context, run Run) error {
	targetsJSON, err := json.Marshal(run.Targets)
	if err != nil {
		return fmt.Errorf("save run: marshal targets: %w", err)
	}
	saveJSON, err := json.Marshal(run.Save)
	if err != nil {
		return fmt.Errorf("save run: marshal save names: %w", err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (token, label, state, targets, save_names)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(token) DO NOTHING
	`, run.Token, run.Label, run.State, string(targetsJSON), string(saveJSON))
	if err != nil {
		return fmt.Errorf("save run: insert run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save run: rows affected: %w", err)
	}
	if affected == 0 {
		// Token already archived; keep the original rows.
		return tx.Commit()
	}

	for _, step := range run.Steps {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO steps (run_token, seq, op, label, target, outcome, detail)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, run.Token, step.Seq, step.Op, step.Label, step.Target, string(step.Outcome), step.Detail)
		if err != nil {
			return fmt.Errorf("save run: insert step %d: %w", step.Seq, err)
		}
	}

	// The table's first column is the target label; the remaining columns
	// follow run.Save order.
	for _, row := range run.Results.Rows {
		if len(row) != len(run.Save)+1 {
			return fmt.Errorf("save run: result row has %d columns, expected %d", len(row), len(run.Save)+1)
		}
		for i, name := range run.Save {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO results (run_token, target, name, value)
				VALUES (?, ?, ?, ?)
			`, run.Token, row[0], name, row[i+1])
			if err != nil {
				return fmt.Errorf("save run: insert result %s/%s: %w", row[0], name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save run: commit: %w", err)
	}

	return nil
}
