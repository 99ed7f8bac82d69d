package bytecode

import (
	"fmt"
	"strings"
)

// DisassembleWithName returns a listing of the whole program, with a name
// header when name is not empty.
func (p *Program) DisassembleWithName(name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; %d instructions (capacity %d)\n", p.Len(), p.Capacity()))
	sb.WriteString("\n")

	for _, line := range p.DisassembleRange(0, p.Len()) {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

// DisassembleInstruction formats the instruction at index i as
// "   12  [  -> 20      ; line 3:4". Indices are shown 1-based.
func (p *Program) DisassembleInstruction(i int) string {
	if i < 0 || i >= p.Len() {
		return "<out of range>"
	}
	in := p.code[i]
	text := in.op.Glyph()
	if t, ok := in.Target(); ok {
		text = fmt.Sprintf("%s  -> %d", text, t+1)
	}
	return fmt.Sprintf("%5d  %-12s ; line %s", i+1, text, p.Position(i))
}

// DisassembleRange returns one listing line per instruction in [from, to),
// clipped to the program.
func (p *Program) DisassembleRange(from, to int) []string {
	if from < 0 {
		from = 0
	}
	if to > p.Len() {
		to = p.Len()
	}
	var lines []string
	for i := from; i < to; i++ {
		lines = append(lines, p.DisassembleInstruction(i))
	}
	return lines
}
