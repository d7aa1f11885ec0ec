package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/warwickepr/workstack/internal/engine"
)

// TraceSnapshot is the serialized form compared against golden files.
type TraceSnapshot struct {
	ScenarioName string        `json:"scenario_name"`
	RunToken     string        `json:"run_token"`
	State        string        `json:"state"`
	Trace        []engine.Step `json:"trace"`
}

// RunWithGolden executes a scenario, checks its expectations, and compares
// the trace against testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}

	for _, checkErr := range Check(scenario, result) {
		t.Error(checkErr)
	}

	token := scenario.RunToken
	if token == "" {
		token = DefaultRunToken
	}
	snapshot := TraceSnapshot{
		ScenarioName: scenario.Name,
		RunToken:     token,
		State:        result.State,
		Trace:        result.Trace,
	}

	traceJSON, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)

	return nil
}
