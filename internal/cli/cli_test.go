package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validProgram = `
program: {
	label: "saturation sweep"
	targets: ["NV1", "NV2"]
	save: ["Psat"]
	steps: [
		{do: "log", message: "starting on _X_"},
		{do: "call", action: "refocus", args: ["_X_"]},
		{do: "wait", event: "refocus"},
		{do: "call", action: "store", args: ["Psat", "0.002"]},
		{do: "next_target"},
	]
}
`

func writeProgram(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "program.cue")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func execute(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--format", format}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidate_ValidProgram(t *testing.T) {
	path := writeProgram(t, validProgram)

	out, err := execute(t, "text", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, `program "saturation sweep" valid`)
}

func TestValidate_ValidProgramJSON(t *testing.T) {
	path := writeProgram(t, validProgram)

	out, err := execute(t, "json", "validate", path)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidate_NonExistentPath(t *testing.T) {
	out, err := execute(t, "text", "validate", "/nonexistent/program.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "E005")
	assert.Contains(t, out, "not found")
}

func TestValidate_EmptyDirectory(t *testing.T) {
	out, err := execute(t, "text", "validate", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E003")
	assert.Contains(t, out, "no CUE files found")
}

func TestValidate_SemanticErrors(t *testing.T) {
	path := writeProgram(t, `
program: {
	label: "p"
	targets: ["A", "A"]
	steps: [{do: "call", action: "refocus"}]
}
`)

	out, err := execute(t, "text", "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "E103")
}

func TestValidate_CompileErrorHasPosition(t *testing.T) {
	path := writeProgram(t, `
program: {
	label: "p"
	steps: [{do: "teleport"}]
}
`)

	out, err := execute(t, "text", "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "program.cue:")
}

func TestRun_CompletesAndPrintsTable(t *testing.T) {
	path := writeProgram(t, validProgram)

	out, err := execute(t, "text", "run", path)
	require.NoError(t, err)
	assert.Contains(t, out, "finished")
	assert.Contains(t, out, "target Psat")
	assert.Contains(t, out, "NV1 0.002")
	assert.Contains(t, out, "NV2 0.002")
}

func TestRun_JSONResult(t *testing.T) {
	path := writeProgram(t, validProgram)

	out, err := execute(t, "json", "run", path)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "finished", data["state"])
	assert.NotEmpty(t, data["token"])
}

func TestRun_ArchivesToDatabase(t *testing.T) {
	path := writeProgram(t, validProgram)
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	_, err := execute(t, "text", "run", path, "--db", dbPath)
	require.NoError(t, err)

	out, err := execute(t, "text", "export", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "saturation sweep")
}

func TestRun_ExportRoundTrip(t *testing.T) {
	path := writeProgram(t, validProgram)
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	out, err := execute(t, "json", "run", path, "--db", dbPath)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	token := resp.Data.(map[string]any)["token"].(string)

	out, err = execute(t, "text", "export", "--db", dbPath, "--csv", token)
	require.NoError(t, err)
	assert.Contains(t, out, "target,Psat")
	assert.Contains(t, out, "NV1,0.002")
}

func TestExport_UnknownToken(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	out, err := execute(t, "text", "export", "--db", dbPath, "no-such-token")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "no archived run")
}

func TestRoot_RejectsInvalidFormat(t *testing.T) {
	_, err := execute(t, "yaml", "validate", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
