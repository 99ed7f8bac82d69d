package bytecode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultProgramCapacity is the number of instruction slots, End included.
	DefaultProgramCapacity = 4096

	// DefaultNestingDepth is the number of '[' that may be open at once.
	DefaultNestingDepth = 512
)

// Compile error kinds. A *CompileError unwraps to one of these.
var (
	ErrUnmatchedOpenBracket  = errors.New("unmatched '['")
	ErrUnmatchedCloseBracket = errors.New("unmatched ']'")
	ErrLoopNestingOverflow   = errors.New("loops nested too deeply")
	ErrProgramTooLarge       = errors.New("program too large")
)

// Limits bounds the size of a compiled program.
type Limits struct {
	ProgramCapacity int // instruction slots, End included
	NestingDepth    int // pending '[' stack depth
}

// DefaultLimits returns the default program capacity and nesting depth.
func DefaultLimits() Limits {
	return Limits{
		ProgramCapacity: DefaultProgramCapacity,
		NestingDepth:    DefaultNestingDepth,
	}
}

// CompileError reports a failed compilation at a source position.
type CompileError struct {
	Kind  error    // one of the Err* kinds above
	Pos   Position // offending character
	Limit int      // capacity that was exceeded, for the overflow kinds
}

func (e *CompileError) Error() string {
	switch e.Kind {
	case ErrLoopNestingOverflow:
		return fmt.Sprintf("%s: %s (max depth %d)", e.Pos, e.Kind, e.Limit)
	case ErrProgramTooLarge:
		return fmt.Sprintf("%s: %s (max %d instructions)", e.Pos, e.Kind, e.Limit)
	default:
		return fmt.Sprintf("%s: %s", e.Pos, e.Kind)
	}
}

func (e *CompileError) Unwrap() error {
	return e.Kind
}

// compiler holds the state of a single compilation pass.
type compiler struct {
	limits  Limits
	program *Program

	// pending '[' instruction indices and their source positions
	stack    []int
	stackPos []Position

	line, column int
}

// CompileString compiles source held in a string.
func CompileString(src string, limits Limits) (*Program, error) {
	return Compile(strings.NewReader(src), limits)
}

// Compile reads brainfuck source from r and compiles it. Zero fields in
// limits fall back to the defaults.
func Compile(r io.Reader, limits Limits) (*Program, error) {
	if limits.ProgramCapacity <= 0 {
		limits.ProgramCapacity = DefaultProgramCapacity
	}
	if limits.NestingDepth <= 0 {
		limits.NestingDepth = DefaultNestingDepth
	}

	c := &compiler{
		limits:   limits,
		program:  newProgram(limits.ProgramCapacity),
		stack:    make([]int, 0, limits.NestingDepth),
		stackPos: make([]Position, 0, limits.NestingDepth),
		line:     1,
		column:   1,
	}

	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}

	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading source: %w", err)
		}
		if err := c.consume(b); err != nil {
			return nil, err
		}
	}

	if n := len(c.stack); n > 0 {
		return nil, &CompileError{Kind: ErrUnmatchedOpenBracket, Pos: c.stackPos[n-1]}
	}

	c.program.emit(Simple(OpEnd), Position{Line: c.line, Column: c.column})
	return c.program, nil
}

// consume compiles one source byte and advances the source position.
func (c *compiler) consume(b byte) error {
	pos := Position{Line: c.line, Column: c.column}
	switch {
	case b == '\n':
		c.line++
		c.column = 1
	case !utf8.RuneStart(b):
		// continuation byte of a multibyte character
	default:
		c.column++
	}

	op, ok := OpcodeForGlyph(b)
	if !ok {
		return nil
	}

	// One slot must stay free for End.
	if c.program.Len() >= c.limits.ProgramCapacity-1 {
		return &CompileError{Kind: ErrProgramTooLarge, Pos: pos, Limit: c.limits.ProgramCapacity}
	}

	switch op {
	case OpJumpIfZero:
		if len(c.stack) == c.limits.NestingDepth {
			return &CompileError{Kind: ErrLoopNestingOverflow, Pos: pos, Limit: c.limits.NestingDepth}
		}
		// Target is patched when the matching ']' is seen.
		idx := c.program.emit(Jump(OpJumpIfZero, 0), pos)
		c.stack = append(c.stack, idx)
		c.stackPos = append(c.stackPos, pos)

	case OpJumpIfNonZero:
		if len(c.stack) == 0 {
			return &CompileError{Kind: ErrUnmatchedCloseBracket, Pos: pos}
		}
		open := c.stack[len(c.stack)-1]
		c.stack = c.stack[:len(c.stack)-1]
		c.stackPos = c.stackPos[:len(c.stackPos)-1]
		idx := c.program.emit(Jump(OpJumpIfNonZero, open), pos)
		c.program.link(open, idx)

	default:
		c.program.emit(Simple(op), pos)
	}
	return nil
}
