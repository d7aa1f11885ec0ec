package archive

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/warwickepr/workstack/internal/engine"
	"github.com/warwickepr/workstack/internal/results"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.db")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func sampleRun() Run {
	return Run{
		Token:   "0190a0a0-0000-7000-8000-000000000001",
		Label:   "saturation sweep",
		State:   "finished",
		Targets: []string{"A", "B"},
		Save:    []string{"Psat", "Isat"},
		Steps: []engine.Step{
			{Seq: 1, Op: "call", Label: "measure A", Target: "A", Outcome: engine.OutcomeOK},
			{Seq: 2, Op: "call", Label: "measure B", Target: "B", Outcome: engine.OutcomeFailed, Detail: "laser interlock open"},
		},
		Results: results.Table{
			Header: []string{"target", "Psat", "Isat"},
			Rows: [][]string{
				{"A", "0.002", "1350"},
				{"B", "0.0", "0.0"},
			},
		},
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	for i := 0; i < 3; i++ {
		a, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		a.Close()
	}

	a, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer a.Close()

	for _, table := range []string{"runs", "steps", "results"} {
		var name string
		err := a.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_Pragmas(t *testing.T) {
	a := openTestArchive(t)

	for pragma, want := range map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
	} {
		var got string
		if err := a.db.QueryRow("PRAGMA " + pragma).Scan(&got); err != nil {
			t.Fatalf("querying %s: %v", pragma, err)
		}
		if got != want {
			t.Errorf("%s = %q, want %q", pragma, got, want)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	if _, err := Open("/nonexistent/dir/runs.db"); err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestSaveRun_RoundTrip(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	want := sampleRun()

	if err := a.SaveRun(ctx, want); err != nil {
		t.Fatalf("SaveRun() failed: %v", err)
	}

	got, err := a.ReadRun(ctx, want.Token)
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\ngot:  %+v\nwant: %+v", got, want)
	}
}

func TestSaveRun_Idempotent(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	run := sampleRun()

	if err := a.SaveRun(ctx, run); err != nil {
		t.Fatalf("first SaveRun() failed: %v", err)
	}

	// A second save with the same token must not duplicate or clobber.
	altered := run
	altered.Label = "something else"
	if err := a.SaveRun(ctx, altered); err != nil {
		t.Fatalf("second SaveRun() failed: %v", err)
	}

	got, err := a.ReadRun(ctx, run.Token)
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if got.Label != run.Label {
		t.Errorf("duplicate save overwrote run: label = %q, want %q", got.Label, run.Label)
	}

	var count int
	if err := a.db.QueryRow("SELECT COUNT(*) FROM steps WHERE run_token = ?", run.Token).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != len(run.Steps) {
		t.Errorf("step count = %d, want %d", count, len(run.Steps))
	}
}

func TestSaveRun_UntargetedRun(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	run := Run{
		Token:   "0190a0a0-0000-7000-8000-000000000002",
		Label:   "single pass",
		State:   "finished",
		Targets: []string{},
		Save:    []string{"v"},
		Steps:   []engine.Step{{Seq: 1, Op: "call", Label: "store v", Outcome: engine.OutcomeOK}},
		Results: results.Table{
			Header: []string{"target", "v"},
			Rows:   [][]string{{results.UntargetedLabel, "42"}},
		},
	}

	if err := a.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun() failed: %v", err)
	}

	got, err := a.ReadRun(ctx, run.Token)
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if !reflect.DeepEqual(got.Results, run.Results) {
		t.Errorf("untargeted table mismatch:\ngot:  %+v\nwant: %+v", got.Results, run.Results)
	}
}

func TestReadRun_UnknownToken(t *testing.T) {
	a := openTestArchive(t)

	_, err := a.ReadRun(context.Background(), "no-such-token")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestListRuns_ChronologicalByToken(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	second := sampleRun()
	second.Token = "0190a0a0-0000-7000-8000-000000000009"
	first := sampleRun()

	// Insert out of order; listing sorts by token.
	if err := a.SaveRun(ctx, second); err != nil {
		t.Fatal(err)
	}
	if err := a.SaveRun(ctx, first); err != nil {
		t.Fatal(err)
	}

	runs, err := a.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].Token != first.Token || runs[1].Token != second.Token {
		t.Errorf("runs out of order: %q, %q", runs[0].Token, runs[1].Token)
	}
	if runs[0].CreatedAt == "" {
		t.Error("created_at not populated")
	}
}

func TestHasRun(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	run := sampleRun()

	ok, err := a.HasRun(ctx, run.Token)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("HasRun true before save")
	}

	if err := a.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	ok, err = a.HasRun(ctx, run.Token)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("HasRun false after save")
	}
}
