package compiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warwickepr/workstack/internal/program"
)

func TestResolve_BuildsProgram(t *testing.T) {
	spec := &ProgramSpec{
		Label: "p",
		Steps: []StepSpec{
			{Do: "log", Message: "hello"},
			{Do: "call", Action: "refocus", Description: "refocus _X_", Args: []string{"_X_"}},
			{Do: "wait", Event: "refocus"},
			{Do: "start_timer", Seconds: 1.5},
			{Do: "wait"},
			{Do: "restart"},
			{Do: "next_target"},
		},
	}

	called := false
	registry := ActionRegistry{
		"refocus": func(args []string) error {
			called = true
			return nil
		},
	}

	prog, err := Resolve(spec, registry)
	require.NoError(t, err)

	instrs := prog.Instructions()
	require.Len(t, instrs, 7)

	assert.Equal(t, program.OpLog, instrs[0].Op)
	assert.Equal(t, "hello", instrs[0].Message)

	assert.Equal(t, program.OpCall, instrs[1].Op)
	assert.Equal(t, "refocus _X_", instrs[1].Description)
	require.NoError(t, instrs[1].Func(nil))
	assert.True(t, called)

	assert.Equal(t, program.OpWait, instrs[2].Op)
	assert.Equal(t, "refocus", instrs[2].Event)

	assert.Equal(t, program.OpStartTimer, instrs[3].Op)
	assert.Equal(t, 1500*time.Millisecond, instrs[3].Duration)

	assert.Equal(t, program.OpWait, instrs[4].Op)
	assert.Equal(t, program.EventAny, instrs[4].Event)

	assert.Equal(t, program.OpRestart, instrs[5].Op)
	assert.Equal(t, program.OpNextTarget, instrs[6].Op)
}

func TestResolve_UnknownAction(t *testing.T) {
	spec := &ProgramSpec{
		Label: "p",
		Steps: []StepSpec{{Do: "call", Action: "rabi"}},
	}
	registry := ActionRegistry{
		"refocus": func(args []string) error { return nil },
		"odmr":    func(args []string) error { return nil },
	}

	_, err := Resolve(spec, registry)
	require.Error(t, err)

	var uerr *UnknownActionError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "rabi", uerr.Action)
	assert.Equal(t, []string{"odmr", "refocus"}, uerr.Known, "known actions listed sorted")
	assert.Contains(t, err.Error(), "steps[0]")
}

func TestResolve_EmptyRegistryMessage(t *testing.T) {
	spec := &ProgramSpec{
		Label: "p",
		Steps: []StepSpec{{Do: "call", Action: "rabi"}},
	}

	_, err := Resolve(spec, ActionRegistry{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry is empty")
}
