package vm

import (
	"fmt"

	"github.com/chazu/bfdb/pkg/bytecode"
)

// tapeWindowRadius is how many cells either side of the pointer Tape shows.
const tapeWindowRadius = 4

// CellView is the value of one tape cell.
type CellView struct {
	Index int
	Value uint16
}

// Printable reports whether the cell holds a printable ASCII character.
func (c CellView) Printable() bool {
	return c.Value >= 32 && c.Value <= 126
}

// String renders the cell as the print command shows it.
func (c CellView) String() string {
	if c.Printable() {
		return fmt.Sprintf("$[%d]: %d ('%c').", c.Index, c.Value, rune(c.Value))
	}
	return fmt.Sprintf("$[%d]: %d.", c.Index, c.Value)
}

// TapeWindow is a run of cells around the data pointer.
type TapeWindow struct {
	Pointer int
	Cells   []CellView
}

func tapeWindow(m *Machine) TapeWindow {
	from := max(m.ptr-tapeWindowRadius, 0)
	to := min(m.ptr+tapeWindowRadius+1, len(m.tape))

	w := TapeWindow{Pointer: m.ptr, Cells: make([]CellView, 0, to-from)}
	for i := from; i < to; i++ {
		w.Cells = append(w.Cells, CellView{Index: i, Value: m.tape[i]})
	}
	return w
}

// Location is the instruction at the program counter.
type Location struct {
	Index int // 0-based
	Op    bytecode.Opcode
	Pos   bytecode.Position
}

// String renders the location as "@N: c" with N 1-based.
func (l Location) String() string {
	return fmt.Sprintf("@%d: %s", l.Index+1, l.Op.Glyph())
}
