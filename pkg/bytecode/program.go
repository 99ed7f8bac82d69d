package bytecode

import (
	"errors"
	"fmt"
)

// Instruction is a single compiled operator. Only the bracket opcodes carry a
// jump target; use Simple and Jump to construct instructions.
type Instruction struct {
	op     Opcode
	target int
}

// Simple returns an instruction for a non-jump opcode.
// It panics if op is a jump or is not a defined opcode.
func Simple(op Opcode) Instruction {
	if !op.Valid() || op.IsJump() {
		panic(fmt.Sprintf("bytecode: %s is not a simple opcode", op))
	}
	return Instruction{op: op}
}

// Jump returns a bracket instruction targeting the matching bracket at index
// target. It panics if op is not a jump or target is negative.
func Jump(op Opcode, target int) Instruction {
	if !op.IsJump() {
		panic(fmt.Sprintf("bytecode: %s is not a jump opcode", op))
	}
	if target < 0 {
		panic(fmt.Sprintf("bytecode: negative jump target %d", target))
	}
	return Instruction{op: op, target: target}
}

// Op returns the instruction's opcode.
func (in Instruction) Op() Opcode {
	return in.op
}

// Target returns the index of the matching bracket. The second result is
// false for non-jump instructions.
func (in Instruction) Target() (int, bool) {
	if !in.op.IsJump() {
		return 0, false
	}
	return in.target, true
}

// String formats the instruction as its glyph, with the target for brackets.
func (in Instruction) String() string {
	if t, ok := in.Target(); ok {
		return fmt.Sprintf("%s -> %d", in.op.Glyph(), t+1)
	}
	return in.op.Glyph()
}

// Position is a 1-based source location. Columns count characters, not
// bytes.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Program is a compiled brainfuck program: a fixed-capacity instruction
// sequence terminated by exactly one End instruction.
type Program struct {
	code      []Instruction
	positions []Position
	capacity  int
}

// ErrInvalidProgram is returned by Validate for programs that break the
// terminator or bracket pairing invariants.
var ErrInvalidProgram = errors.New("invalid program")

// initialProgramSlots is how many slots newProgram allocates up front;
// the sequence grows on demand up to its capacity.
const initialProgramSlots = 256

func newProgram(capacity int) *Program {
	n := min(capacity, initialProgramSlots)
	return &Program{
		code:      make([]Instruction, 0, n),
		positions: make([]Position, 0, n),
		capacity:  capacity,
	}
}

// emit appends an instruction and returns its index.
func (p *Program) emit(in Instruction, pos Position) int {
	idx := len(p.code)
	p.code = append(p.code, in)
	p.positions = append(p.positions, pos)
	return idx
}

// link pairs the '[' at open with the ']' at close.
func (p *Program) link(open, close int) {
	p.code[open] = Jump(OpJumpIfZero, close)
	p.code[close] = Jump(OpJumpIfNonZero, open)
}

// Len returns the instruction count, including the End terminator.
func (p *Program) Len() int {
	return len(p.code)
}

// Capacity returns the maximum number of instruction slots.
func (p *Program) Capacity() int {
	return p.capacity
}

// At returns the instruction at index i. Panics if i is out of range.
func (p *Program) At(i int) Instruction {
	return p.code[i]
}

// Position returns the source position of the instruction at index i.
// The End terminator reports the position just past the last character.
func (p *Program) Position(i int) Position {
	if i < 0 || i >= len(p.positions) {
		return Position{}
	}
	return p.positions[i]
}

// IndexAt returns the index of the instruction compiled from the given
// source position, or -1 if no instruction starts there.
func (p *Program) IndexAt(pos Position) int {
	for i, ip := range p.positions {
		if ip == pos && p.code[i].op != OpEnd {
			return i
		}
	}
	return -1
}

// Validate checks the program invariants: a single End as the last
// instruction, and every bracket paired with a bracket of the other kind
// that points back to it.
func (p *Program) Validate() error {
	n := len(p.code)
	if n == 0 {
		return fmt.Errorf("%w: empty program", ErrInvalidProgram)
	}
	if n > p.capacity {
		return fmt.Errorf("%w: %d instructions exceed capacity %d", ErrInvalidProgram, n, p.capacity)
	}
	if len(p.positions) != n {
		return fmt.Errorf("%w: source map has %d entries for %d instructions", ErrInvalidProgram, len(p.positions), n)
	}
	for i, in := range p.code {
		if !in.op.Valid() {
			return fmt.Errorf("%w: unknown opcode at %d", ErrInvalidProgram, i+1)
		}
		if in.op == OpEnd && i != n-1 {
			return fmt.Errorf("%w: End at %d is not the last instruction", ErrInvalidProgram, i+1)
		}
		t, ok := in.Target()
		if !ok {
			continue
		}
		if t < 0 || t >= n-1 {
			return fmt.Errorf("%w: jump at %d targets %d", ErrInvalidProgram, i+1, t+1)
		}
		want := OpJumpIfNonZero
		if in.op == OpJumpIfNonZero {
			want = OpJumpIfZero
		}
		if (in.op == OpJumpIfZero) != (t > i) {
			return fmt.Errorf("%w: jump at %d points the wrong way", ErrInvalidProgram, i+1)
		}
		back, _ := p.code[t].Target()
		if p.code[t].op != want || back != i {
			return fmt.Errorf("%w: bracket at %d is not paired with %d", ErrInvalidProgram, i+1, t+1)
		}
	}
	if p.code[n-1].op != OpEnd {
		return fmt.Errorf("%w: missing End terminator", ErrInvalidProgram)
	}
	return nil
}
