package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	n := 0
	for op := OpEnd; op.Valid(); op++ {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
		n++
	}
	if n != 9 {
		t.Errorf("%d valid opcodes, want 9", n)
	}
}

func TestUnknownOpcodeString(t *testing.T) {
	op := Opcode(0xEE)
	if got := op.String(); !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("Unknown opcode should return UNKNOWN, got %q", got)
	}
	if op.Valid() {
		t.Error("Opcode(0xEE).Valid() = true")
	}
}

func TestOpcodeForGlyph(t *testing.T) {
	tests := []struct {
		c    byte
		want Opcode
	}{
		{'>', OpIncPtr},
		{'<', OpDecPtr},
		{'+', OpIncCell},
		{'-', OpDecCell},
		{'.', OpOutput},
		{',', OpInput},
		{'[', OpJumpIfZero},
		{']', OpJumpIfNonZero},
	}

	for _, tt := range tests {
		got, ok := OpcodeForGlyph(tt.c)
		if !ok || got != tt.want {
			t.Errorf("OpcodeForGlyph(%q) = %s, %v; want %s", tt.c, got, ok, tt.want)
		}
		if got.Glyph() != string(tt.c) {
			t.Errorf("%s.Glyph() = %q, want %q", got, got.Glyph(), string(tt.c))
		}
	}

	for _, c := range []byte("abc \n\t#!0") {
		if _, ok := OpcodeForGlyph(c); ok {
			t.Errorf("OpcodeForGlyph(%q) should not be an operator", c)
		}
	}
}

func TestOpcodeIsJump(t *testing.T) {
	for op := OpEnd; op.Valid(); op++ {
		want := op == OpJumpIfZero || op == OpJumpIfNonZero
		if op.IsJump() != want {
			t.Errorf("%s.IsJump() = %v, want %v", op, op.IsJump(), want)
		}
	}
	if OpEnd.Glyph() != "EOF" {
		t.Errorf("OpEnd.Glyph() = %q, want EOF", OpEnd.Glyph())
	}
}
