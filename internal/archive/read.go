package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/warwickepr/workstack/internal/engine"
	"github.com/warwickepr/workstack/internal/results"
)

// RunSummary is the listing view of an archived run.
type RunSummary struct {
	Token     string
	Label     string
	State     string
	CreatedAt string
}

// ReadRun reconstructs an archived run by token.
// Returns sql.ErrNoRows if the token is unknown.
func (a *Archive) ReadRun(ctx context.Context, token string) (Run, error) {
	var run Run
	var targetsJSON, saveJSON string

	err := a.db.QueryRowContext(ctx, `
		SELECT token, label, state, targets, save_names
		FROM runs
		WHERE token = ?
	`, token).Scan(&run.Token, &run.Label, &run.State, &targetsJSON, &saveJSON)
	if err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", token, err)
	}

	if err := json.Unmarshal([]byte(targetsJSON), &run.Targets); err != nil {
		return Run{}, fmt.Errorf("read run %s: targets: %w", token, err)
	}
	if err := json.Unmarshal([]byte(saveJSON), &run.Save); err != nil {
		return Run{}, fmt.Errorf("read run %s: save names: %w", token, err)
	}

	run.Steps, err = a.readSteps(ctx, token)
	if err != nil {
		return Run{}, err
	}

	run.Results, err = a.readTable(ctx, token, run.Targets, run.Save)
	if err != nil {
		return Run{}, err
	}

	return run, nil
}

// readSteps returns the run's trace ordered by seq, the dispatch order.
func (a *Archive) readSteps(ctx context.Context, token string) ([]engine.Step, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT seq, op, label, target, outcome, detail
		FROM steps
		WHERE run_token = ?
		ORDER BY seq ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []engine.Step
	for rows.Next() {
		var step engine.Step
		var outcome string
		if err := rows.Scan(&step.Seq, &step.Op, &step.Label, &step.Target, &outcome, &step.Detail); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.Outcome = engine.StepOutcome(outcome)
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}

	if steps == nil {
		steps = []engine.Step{}
	}
	return steps, nil
}

// readTable rebuilds the exported result table. Row order follows the
// run's stored target order, not the database's.
func (a *Archive) readTable(ctx context.Context, token string, targets, save []string) (results.Table, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT target, name, value
		FROM results
		WHERE run_token = ?
	`, token)
	if err != nil {
		return results.Table{}, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	values := make(map[string]map[string]string)
	for rows.Next() {
		var target, name, value string
		if err := rows.Scan(&target, &name, &value); err != nil {
			return results.Table{}, fmt.Errorf("scan result: %w", err)
		}
		if values[target] == nil {
			values[target] = make(map[string]string)
		}
		values[target][name] = value
	}
	if err := rows.Err(); err != nil {
		return results.Table{}, fmt.Errorf("iterate results: %w", err)
	}

	rowTargets := targets
	if len(rowTargets) == 0 {
		rowTargets = []string{results.UntargetedLabel}
	}

	table := results.Table{Header: append([]string{"target"}, save...)}
	for _, target := range rowTargets {
		row := make([]string, 0, len(save)+1)
		row = append(row, target)
		for _, name := range save {
			value, ok := values[target][name]
			if !ok {
				value = results.MissingSentinel
			}
			row = append(row, value)
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

// ListRuns returns summaries of all archived runs. UUIDv7 tokens sort by
// creation time, so ordering by token is chronological.
func (a *Archive) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT token, label, state, created_at
		FROM runs
		ORDER BY token ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var s RunSummary
		if err := rows.Scan(&s.Token, &s.Label, &s.State, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	if summaries == nil {
		summaries = []RunSummary{}
	}
	return summaries, nil
}

// HasRun reports whether a run token is already archived.
func (a *Archive) HasRun(ctx context.Context, token string) (bool, error) {
	var count int
	err := a.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM runs WHERE token = ?
	`, token).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check run: %w", err)
	}
	return count > 0, nil
}
