package bytecode

import "fmt"

// Opcode represents a brainfuck operator.
type Opcode byte

const (
	OpEnd           Opcode = iota // End of program
	OpIncPtr                      // >
	OpDecPtr                      // <
	OpIncCell                     // +
	OpDecCell                     // -
	OpOutput                      // .
	OpInput                       // ,
	OpJumpIfZero                  // [ jumps past the matching ] when the cell is zero
	OpJumpIfNonZero               // ] jumps back to the matching [ when the cell is non-zero
)

// OpcodeInfo provides metadata about each opcode for display.
type OpcodeInfo struct {
	Name  string // Human-readable name
	Glyph string // Source glyph ("EOF" for OpEnd)
}

var opcodeInfoTable = [...]OpcodeInfo{
	OpEnd:           {"END", "EOF"},
	OpIncPtr:        {"INC_PTR", ">"},
	OpDecPtr:        {"DEC_PTR", "<"},
	OpIncCell:       {"INC_CELL", "+"},
	OpDecCell:       {"DEC_CELL", "-"},
	OpOutput:        {"OUTPUT", "."},
	OpInput:         {"INPUT", ","},
	OpJumpIfZero:    {"JUMP_IF_ZERO", "["},
	OpJumpIfNonZero: {"JUMP_IF_NON_ZERO", "]"},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns an OpcodeInfo named "UNKNOWN(..)" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if op.Valid() {
		return opcodeInfoTable[op]
	}
	name := fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))
	return OpcodeInfo{Name: name, Glyph: "?"}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Glyph returns the source character for the opcode, or "EOF" for OpEnd.
func (op Opcode) Glyph() string {
	return GetOpcodeInfo(op).Glyph
}

// Valid reports whether op is one of the defined opcodes.
func (op Opcode) Valid() bool {
	return op <= OpJumpIfNonZero
}

// IsJump returns true if this opcode is one of the two bracket opcodes.
func (op Opcode) IsJump() bool {
	return op == OpJumpIfZero || op == OpJumpIfNonZero
}

// OpcodeForGlyph maps a source byte to its opcode. The second result is
// false for bytes that are not brainfuck operators.
func OpcodeForGlyph(c byte) (Opcode, bool) {
	switch c {
	case '>':
		return OpIncPtr, true
	case '<':
		return OpDecPtr, true
	case '+':
		return OpIncCell, true
	case '-':
		return OpDecCell, true
	case '.':
		return OpOutput, true
	case ',':
		return OpInput, true
	case '[':
		return OpJumpIfZero, true
	case ']':
		return OpJumpIfNonZero, true
	}
	return OpEnd, false
}
