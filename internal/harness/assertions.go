package harness

import (
	"fmt"

	"github.com/warwickepr/workstack/internal/results"
)

// Check validates a result against the scenario's expectations. All
// failures are collected, not just the first.
func Check(scenario *Scenario, result *Result) []error {
	expect := scenario.Expect
	var errs []error

	if result.State != expect.State {
		errs = append(errs, fmt.Errorf("state: got %q, want %q", result.State, expect.State))
	}

	if expect.WaitingOn != "" && result.WaitingOn != expect.WaitingOn {
		errs = append(errs, fmt.Errorf("waiting_on: got %q, want %q", result.WaitingOn, expect.WaitingOn))
	}

	errs = append(errs, checkResults(expect.Results, result.Table)...)
	errs = append(errs, checkTraceContains(expect.TraceContains, result)...)
	errs = append(errs, checkTraceOrder(expect.TraceOrder, result)...)

	return errs
}

// checkResults does a subset match on the exported table.
func checkResults(want map[string]map[string]string, table results.Table) []error {
	var errs []error

	cols := make(map[string]int, len(table.Header))
	for i, name := range table.Header {
		cols[name] = i
	}
	rows := make(map[string][]string, len(table.Rows))
	for _, row := range table.Rows {
		rows[row[0]] = row
	}

	for target, values := range want {
		row, ok := rows[target]
		if !ok {
			errs = append(errs, fmt.Errorf("results: no row for target %q", target))
			continue
		}
		for name, wantValue := range values {
			col, ok := cols[name]
			if !ok {
				errs = append(errs, fmt.Errorf("results: no column %q (check save list)", name))
				continue
			}
			if row[col] != wantValue {
				errs = append(errs, fmt.Errorf("results[%s][%s]: got %q, want %q",
					target, name, row[col], wantValue))
			}
		}
	}

	return errs
}

func checkTraceContains(labels []string, result *Result) []error {
	var errs []error
	for _, label := range labels {
		if !traceHasLabel(result, label) {
			errs = append(errs, fmt.Errorf("trace_contains: no step with label %q", label))
		}
	}
	return errs
}

// checkTraceOrder verifies the labels appear in the given relative order.
func checkTraceOrder(labels []string, result *Result) []error {
	if len(labels) == 0 {
		return nil
	}

	next := 0
	for _, step := range result.Trace {
		if next < len(labels) && step.Label == labels[next] {
			next++
		}
	}
	if next < len(labels) {
		return []error{fmt.Errorf("trace_order: label %q missing or out of order (matched %d of %d)",
			labels[next], next, len(labels))}
	}
	return nil
}

func traceHasLabel(result *Result, label string) bool {
	for _, step := range result.Trace {
		if step.Label == label {
			return true
		}
	}
	return false
}
