// Package program holds the instruction model for the workstack scheduler:
// a small closed instruction set, an immutable Program template, and the
// mutable Stack the engine walks while a run is live.
//
// The split matters for multi-target runs: the Program is loaded once, and
// a fresh Stack is cut from it for every target, so recovery steps spliced
// in for one point of interest never leak into the next.
package program

// Program is an ordered instruction template. Insertion order is execution
// order. Programs are copied on Load and never mutated afterwards.
type Program struct {
	instrs []Instruction
}

// Load copies instrs into a Program. An empty program is valid: a run over
// it finishes immediately rather than erroring, matching how the scheduler
// has always treated a bare stack.
func Load(instrs ...Instruction) Program {
	cp := make([]Instruction, len(instrs))
	copy(cp, instrs)
	return Program{instrs: cp}
}

// Len returns the number of instructions in the template.
func (p Program) Len() int {
	return len(p.instrs)
}

// Empty reports whether the template has no instructions.
func (p Program) Empty() bool {
	return len(p.instrs) == 0
}

// Instructions returns a copy of the template's instructions.
func (p Program) Instructions() []Instruction {
	cp := make([]Instruction, len(p.instrs))
	copy(cp, p.instrs)
	return cp
}

// Stack is the live, mutable copy of a Program for one target: the
// instruction list plus an integer cursor. The next instruction to run is
// the one at the cursor.
//
// Stack is not safe for concurrent use; the engine serializes access.
type Stack struct {
	instrs []Instruction
	sp     int
}

// NewStack cuts a fresh Stack from a Program template with the cursor at 0.
func NewStack(p Program) *Stack {
	return &Stack{instrs: p.Instructions()}
}

// Current returns the instruction at the cursor, or ok=false when the
// cursor has run past the end of the stack.
func (s *Stack) Current() (Instruction, bool) {
	if s.sp >= len(s.instrs) {
		return Instruction{}, false
	}
	return s.instrs[s.sp], true
}

// Advance moves the cursor forward one instruction.
func (s *Stack) Advance() {
	s.sp++
}

// Reset moves the cursor back to the start of the stack.
func (s *Stack) Reset() {
	s.sp = 0
}

// InsertAhead splices instrs immediately after the cursor, so they execute
// next, strictly before whatever was previously next. The instruction at
// the cursor itself is unaffected, which keeps a splice performed from
// inside a Call from touching the step that is mid-dispatch.
func (s *Stack) InsertAhead(instrs ...Instruction) {
	if len(instrs) == 0 {
		return
	}
	at := s.sp + 1
	if at > len(s.instrs) {
		at = len(s.instrs)
	}
	tail := make([]Instruction, len(s.instrs[at:]))
	copy(tail, s.instrs[at:])
	s.instrs = append(s.instrs[:at], instrs...)
	s.instrs = append(s.instrs, tail...)
}

// ReplaceTail drops every instruction after the cursor and splices instrs
// in their place. Used by recovery steps that decide the rest of the stack
// is not worth running (e.g. count rate too low, skip to saving).
func (s *Stack) ReplaceTail(instrs ...Instruction) {
	at := s.sp + 1
	if at > len(s.instrs) {
		at = len(s.instrs)
	}
	s.instrs = append(s.instrs[:at], instrs...)
}

// Cursor returns the current cursor position.
func (s *Stack) Cursor() int {
	return s.sp
}

// Len returns the current stack length, including any spliced instructions.
func (s *Stack) Len() int {
	return len(s.instrs)
}

// Exhausted reports whether the cursor has run past the end of the stack.
func (s *Stack) Exhausted() bool {
	return s.sp >= len(s.instrs)
}
