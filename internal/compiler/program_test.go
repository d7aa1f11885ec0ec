package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileCUE(t *testing.T, src string) cue.Value {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename("program.cue"))
	require.NoError(t, v.Err())
	return v.LookupPath(cue.ParsePath("program"))
}

const fullProgram = `
program: {
	label: "saturation sweep"
	targets: ["NV1", "NV2"]
	save: ["Psat", "Isat"]
	steps: [
		{do: "log", message: "starting on _X_"},
		{do: "call", action: "refocus", args: ["_X_"]},
		{do: "wait", event: "refocus"},
		{do: "call", action: "measure_saturation", description: "saturate _X_"},
		{do: "start_timer", seconds: 2.5},
		{do: "wait", event: "timer"},
		{do: "next_target"},
	]
}
`

func TestCompileProgram_Full(t *testing.T) {
	spec, err := CompileProgram(compileCUE(t, fullProgram))
	require.NoError(t, err)

	assert.Equal(t, "saturation sweep", spec.Label)
	assert.Equal(t, []string{"NV1", "NV2"}, spec.Targets)
	assert.Equal(t, []string{"Psat", "Isat"}, spec.Save)
	require.Len(t, spec.Steps, 7)

	assert.Equal(t, "log", spec.Steps[0].Do)
	assert.Equal(t, "starting on _X_", spec.Steps[0].Message)

	assert.Equal(t, "call", spec.Steps[1].Do)
	assert.Equal(t, "refocus", spec.Steps[1].Action)
	assert.Equal(t, []string{"_X_"}, spec.Steps[1].Args)
	assert.Equal(t, "refocus", spec.Steps[1].Description, "description defaults to the action name")

	assert.Equal(t, "wait", spec.Steps[2].Do)
	assert.Equal(t, "refocus", spec.Steps[2].Event)

	assert.Equal(t, "saturate _X_", spec.Steps[3].Description)

	assert.Equal(t, "start_timer", spec.Steps[4].Do)
	assert.Equal(t, 2.5, spec.Steps[4].Seconds)

	assert.Equal(t, "next_target", spec.Steps[6].Do)
}

func TestCompileProgram_OptionalListsAbsent(t *testing.T) {
	spec, err := CompileProgram(compileCUE(t, `
program: {
	label: "minimal"
	steps: [{do: "restart"}]
}
`))
	require.NoError(t, err)
	assert.Nil(t, spec.Targets)
	assert.Nil(t, spec.Save)
}

func TestCompileProgram_BareWaitMeansAnyEvent(t *testing.T) {
	spec, err := CompileProgram(compileCUE(t, `
program: {
	label: "p"
	steps: [{do: "wait"}]
}
`))
	require.NoError(t, err)
	assert.Equal(t, "", spec.Steps[0].Event)
}

func TestCompileProgram_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		field   string
		message string
	}{
		{
			name:  "missing label",
			src:   `program: {steps: [{do: "restart"}]}`,
			field: "label",
		},
		{
			name:  "missing steps",
			src:   `program: {label: "p"}`,
			field: "steps",
		},
		{
			name:  "empty steps",
			src:   `program: {label: "p", steps: []}`,
			field: "steps",
		},
		{
			name:    "unknown step kind",
			src:     `program: {label: "p", steps: [{do: "teleport"}]}`,
			field:   "steps[0].do",
			message: `unknown step kind "teleport"`,
		},
		{
			name:  "call without action",
			src:   `program: {label: "p", steps: [{do: "call"}]}`,
			field: "steps[0].action",
		},
		{
			name:  "log without message",
			src:   `program: {label: "p", steps: [{do: "log"}]}`,
			field: "steps[0].message",
		},
		{
			name:  "timer without seconds",
			src:   `program: {label: "p", steps: [{do: "start_timer"}]}`,
			field: "steps[0].seconds",
		},
		{
			name:  "timer with zero seconds",
			src:   `program: {label: "p", steps: [{do: "start_timer", seconds: 0}]}`,
			field: "steps[0].seconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileProgram(compileCUE(t, tt.src))
			require.Error(t, err)

			var cerr *CompileError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
			if tt.message != "" {
				assert.Contains(t, cerr.Message, tt.message)
			}
		})
	}
}

func TestCompileError_IncludesPosition(t *testing.T) {
	_, err := CompileProgram(compileCUE(t, `
program: {
	label: "p"
	steps: [{do: "teleport"}]
}
`))
	require.Error(t, err)

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.True(t, cerr.Pos.IsValid(), "error should carry a source position")
	assert.Contains(t, cerr.Error(), "program.cue:")
}
