package vm

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/tliron/commonlog"

	"github.com/chazu/bfdb/pkg/bytecode"
)

var log = commonlog.GetLogger("bfdb.vm")

const (
	// DefaultTapeSize is the number of cells on the tape.
	DefaultTapeSize = 65535

	// DefaultCellBits is the width of a tape cell.
	DefaultCellBits = 16
)

// Run-time fault kinds. A *RuntimeError unwraps to one of these.
var (
	ErrPointerUnderflow = errors.New("data pointer underflow")
	ErrPointerOverflow  = errors.New("data pointer overflow")
)

// Outcome is the result of executing one instruction.
type Outcome int

const (
	Continue Outcome = iota // execution may proceed
	Halted                  // End reached
	Faulted                 // run-time error, see StepResult.Fault
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Halted:
		return "halted"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// RuntimeError describes a fault and the machine state at the faulting
// instruction.
type RuntimeError struct {
	Kind  error           // ErrPointerUnderflow or ErrPointerOverflow
	PC    int             // 0-based index of the faulting instruction
	Op    bytecode.Opcode // its opcode
	Ptr   int             // data pointer when the fault happened
	Cell  uint16          // value of the current cell
	Limit int             // tape size, for overflows
}

func (e *RuntimeError) Error() string {
	if e.Kind == ErrPointerOverflow {
		return fmt.Sprintf("trying to increment the data pointer out of range (%d)", e.Limit)
	}
	return "trying to decrement the data pointer below 0"
}

func (e *RuntimeError) Unwrap() error {
	return e.Kind
}

// Detail describes where the fault happened, with the instruction index
// shown 1-based.
func (e *RuntimeError) Detail() string {
	return fmt.Sprintf("At instruction %d ('%s'). $[$ptr: %d]: %d.", e.PC+1, e.Op.Glyph(), e.Ptr, e.Cell)
}

// StepResult is returned by Step and Execute.
type StepResult struct {
	Outcome Outcome
	Fault   *RuntimeError // set when Outcome is Faulted
}

// MachineConfig sizes the tape.
type MachineConfig struct {
	TapeSize int // number of cells
	CellBits int // 8 or 16
}

// DefaultMachineConfig returns the default tape size and cell width.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{TapeSize: DefaultTapeSize, CellBits: DefaultCellBits}
}

// Machine holds the tape and registers for one run of a program.
type Machine struct {
	program *bytecode.Program
	tape    []uint16
	mask    uint16

	pc  int // index of the next instruction
	ptr int // index of the current cell

	in  io.ByteReader
	out io.Writer
}

// NewMachine creates a machine for program. Input is read from in one byte
// at a time and output is written to out; either may be nil.
func NewMachine(program *bytecode.Program, cfg MachineConfig, in io.Reader, out io.Writer) *Machine {
	if cfg.TapeSize <= 0 {
		cfg.TapeSize = DefaultTapeSize
	}
	mask := uint16(0xFFFF)
	if cfg.CellBits == 8 {
		mask = 0xFF
	}

	m := &Machine{
		program: program,
		tape:    make([]uint16, cfg.TapeSize),
		mask:    mask,
		out:     out,
	}
	if in != nil {
		if br, ok := in.(io.ByteReader); ok {
			m.in = br
		} else {
			m.in = bufio.NewReader(in)
		}
	}
	if m.out == nil {
		m.out = io.Discard
	}
	return m
}

// Reset zeroes the tape and both registers.
func (m *Machine) Reset() {
	clear(m.tape)
	m.pc = 0
	m.ptr = 0
}

// Program returns the program the machine executes.
func (m *Machine) Program() *bytecode.Program { return m.program }

// PC returns the 0-based index of the next instruction.
func (m *Machine) PC() int { return m.pc }

// SetPC moves the program counter. The caller validates the index.
func (m *Machine) SetPC(pc int) { m.pc = pc }

// Pointer returns the data pointer.
func (m *Machine) Pointer() int { return m.ptr }

// TapeSize returns the number of cells on the tape.
func (m *Machine) TapeSize() int { return len(m.tape) }

// CellMax returns the largest value a cell can hold.
func (m *Machine) CellMax() uint16 { return m.mask }

// Cell returns the value of cell i. Panics if i is out of range.
func (m *Machine) Cell(i int) uint16 { return m.tape[i] }

// SetCell stores v, truncated to the cell width, in cell i.
func (m *Machine) SetCell(i int, v uint16) { m.tape[i] = v & m.mask }

// Current returns the instruction at the program counter.
func (m *Machine) Current() bytecode.Instruction {
	return m.program.At(m.pc)
}

// Step executes the instruction at the program counter.
func (m *Machine) Step() StepResult {
	return m.Execute(m.Current())
}

// Execute executes in against the machine state. On Continue the program
// counter has advanced; on Halted and Faulted it is unchanged.
func (m *Machine) Execute(in bytecode.Instruction) StepResult {
	switch in.Op() {
	case bytecode.OpEnd:
		return StepResult{Outcome: Halted}

	case bytecode.OpIncPtr:
		if m.ptr+1 >= len(m.tape) {
			return m.fault(in, ErrPointerOverflow)
		}
		m.ptr++

	case bytecode.OpDecPtr:
		if m.ptr == 0 {
			return m.fault(in, ErrPointerUnderflow)
		}
		m.ptr--

	case bytecode.OpIncCell:
		m.tape[m.ptr] = (m.tape[m.ptr] + 1) & m.mask

	case bytecode.OpDecCell:
		m.tape[m.ptr] = (m.tape[m.ptr] - 1) & m.mask

	case bytecode.OpOutput:
		if _, err := m.out.Write([]byte{byte(m.tape[m.ptr])}); err != nil {
			log.Warningf("output: %v", err)
		}

	case bytecode.OpInput:
		m.tape[m.ptr] = m.readInput()

	case bytecode.OpJumpIfZero:
		if m.tape[m.ptr] == 0 {
			m.pc, _ = in.Target()
		}

	case bytecode.OpJumpIfNonZero:
		if m.tape[m.ptr] != 0 {
			m.pc, _ = in.Target()
		}
	}

	m.pc++
	return StepResult{Outcome: Continue}
}

// readInput returns the next input byte, or a cell with every bit set at
// end of input.
func (m *Machine) readInput() uint16 {
	if m.in == nil {
		return m.mask
	}
	b, err := m.in.ReadByte()
	if err != nil {
		if err != io.EOF {
			log.Warningf("input: %v", err)
		}
		return m.mask
	}
	return uint16(b)
}

func (m *Machine) fault(in bytecode.Instruction, kind error) StepResult {
	return StepResult{
		Outcome: Faulted,
		Fault: &RuntimeError{
			Kind:  kind,
			PC:    m.pc,
			Op:    in.Op(),
			Ptr:   m.ptr,
			Cell:  m.tape[m.ptr],
			Limit: len(m.tape),
		},
	}
}
