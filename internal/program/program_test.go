package program

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_CopiesTemplate(t *testing.T) {
	instrs := []Instruction{LogMsg("a"), LogMsg("b")}
	p := Load(instrs...)

	// Mutating the caller's slice must not reach the template
	instrs[0] = LogMsg("mutated")

	got := p.Instructions()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Message)
}

func TestLoad_EmptyIsValid(t *testing.T) {
	p := Load()
	assert.True(t, p.Empty())
	assert.Equal(t, 0, p.Len())

	s := NewStack(p)
	assert.True(t, s.Exhausted())
}

func TestStack_CurrentAndAdvance(t *testing.T) {
	p := Load(LogMsg("one"), LogMsg("two"))
	s := NewStack(p)

	in, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "one", in.Message)

	s.Advance()
	in, ok = s.Current()
	require.True(t, ok)
	assert.Equal(t, "two", in.Message)

	s.Advance()
	_, ok = s.Current()
	assert.False(t, ok, "cursor past end should report exhausted")
	assert.True(t, s.Exhausted())
}

func TestStack_Reset(t *testing.T) {
	s := NewStack(Load(LogMsg("one"), LogMsg("two")))
	s.Advance()
	s.Advance()
	require.True(t, s.Exhausted())

	s.Reset()
	in, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "one", in.Message)
}

func TestStack_InsertAhead_SplicesAfterCursor(t *testing.T) {
	s := NewStack(Load(LogMsg("current"), LogMsg("next")))

	s.InsertAhead(LogMsg("X"), LogMsg("Y"))

	// Current instruction untouched
	in, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "current", in.Message)

	// X then Y execute strictly before the instruction that was next
	var order []string
	for !s.Exhausted() {
		in, _ := s.Current()
		order = append(order, in.Message)
		s.Advance()
	}
	assert.Equal(t, []string{"current", "X", "Y", "next"}, order)
}

func TestStack_InsertAhead_AtEnd(t *testing.T) {
	s := NewStack(Load(LogMsg("only")))
	s.Advance()
	require.True(t, s.Exhausted())

	s.InsertAhead(LogMsg("appended"))
	in, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "appended", in.Message)
}

func TestStack_InsertAhead_Nothing(t *testing.T) {
	s := NewStack(Load(LogMsg("a")))
	s.InsertAhead()
	assert.Equal(t, 1, s.Len())
}

func TestStack_ReplaceTail(t *testing.T) {
	s := NewStack(Load(LogMsg("keep"), LogMsg("drop1"), LogMsg("drop2")))

	s.ReplaceTail(LogMsg("recovery"))

	var order []string
	for !s.Exhausted() {
		in, _ := s.Current()
		order = append(order, in.Message)
		s.Advance()
	}
	assert.Equal(t, []string{"keep", "recovery"}, order)
}

func TestStack_NewStackIsolatedFromTemplate(t *testing.T) {
	p := Load(LogMsg("a"), LogMsg("b"))
	s1 := NewStack(p)
	s1.InsertAhead(LogMsg("spliced"))

	// A second stack from the same template must not see the splice
	s2 := NewStack(p)
	assert.Equal(t, 2, s2.Len())
	assert.Equal(t, 3, s1.Len())
}

func TestConstructors(t *testing.T) {
	called := false
	fn := func(args []string) error { called = true; return nil }

	c := Call("do thing", fn, "arg1", TargetPlaceholder)
	assert.Equal(t, OpCall, c.Op)
	assert.Equal(t, "do thing", c.Description)
	assert.Equal(t, []string{"arg1", "_X_"}, c.Args)
	require.NoError(t, c.Func(nil))
	assert.True(t, called)

	assert.Equal(t, OpLog, LogMsg("hi").Op)

	w := Wait()
	assert.Equal(t, OpWait, w.Op)
	assert.Equal(t, EventAny, w.Event)

	wf := WaitFor("refocus")
	assert.Equal(t, "refocus", wf.Event)

	st := StartTimer(5 * time.Second)
	assert.Equal(t, OpStartTimer, st.Op)
	assert.Equal(t, 5*time.Second, st.Duration)

	assert.Equal(t, OpRestart, Restart().Op)
	assert.Equal(t, OpNextTarget, NextTarget().Op)
}

func TestInstructionLabel(t *testing.T) {
	tests := []struct {
		name  string
		instr Instruction
		want  string
	}{
		{"call with description", Call("refocus poi", nil), "refocus poi"},
		{"call without description", Instruction{Op: OpCall}, "call"},
		{"log", LogMsg("hello"), "hello"},
		{"wait any", Wait(), "wait"},
		{"wait named", WaitFor("timer"), "wait timer"},
		{"restart", Restart(), "restart"},
		{"next target", NextTarget(), "next_target"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.instr.Label())
		})
	}
}
