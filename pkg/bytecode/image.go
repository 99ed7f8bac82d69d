package bytecode

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ImageVersion is the current program image format version.
// Increment when making incompatible changes to the format.
const ImageVersion uint16 = 1

// ImageMagic prefixes every program image: "BFBC" (BrainFuck ByteCode).
var ImageMagic = []byte{'B', 'F', 'B', 'C'}

// MaxImageCapacity is the largest program capacity an image may declare.
const MaxImageCapacity = 1 << 20

// ErrCorruptImage is returned when an image cannot be decoded or decodes to a
// program that breaks the program invariants.
var ErrCorruptImage = errors.New("corrupt program image")

// imageBody is the CBOR body that follows the magic bytes.
type imageBody struct {
	Version  uint16   `cbor:"1,keyasint"`
	Capacity int      `cbor:"2,keyasint"`
	Ops      []byte   `cbor:"3,keyasint"`
	Targets  []int32  `cbor:"4,keyasint"` // -1 for non-jump instructions
	Lines    []uint32 `cbor:"5,keyasint"`
	Columns  []uint32 `cbor:"6,keyasint"`
}

var imageEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em
}

// IsImage reports whether data starts with the image magic.
func IsImage(data []byte) bool {
	return bytes.HasPrefix(data, ImageMagic)
}

// Serialize encodes the program as a BFBC image.
func (p *Program) Serialize() ([]byte, error) {
	body := imageBody{
		Version:  ImageVersion,
		Capacity: p.capacity,
		Ops:      make([]byte, len(p.code)),
		Targets:  make([]int32, len(p.code)),
		Lines:    make([]uint32, len(p.code)),
		Columns:  make([]uint32, len(p.code)),
	}
	for i, in := range p.code {
		body.Ops[i] = byte(in.op)
		body.Targets[i] = -1
		if t, ok := in.Target(); ok {
			body.Targets[i] = int32(t)
		}
		pos := p.Position(i)
		body.Lines[i] = uint32(pos.Line)
		body.Columns[i] = uint32(pos.Column)
	}

	enc, err := imageEncMode.Marshal(&body)
	if err != nil {
		return nil, fmt.Errorf("bytecode: marshal image: %w", err)
	}
	out := make([]byte, 0, len(ImageMagic)+len(enc))
	out = append(out, ImageMagic...)
	return append(out, enc...), nil
}

// Deserialize decodes a BFBC image and validates the resulting program.
func Deserialize(data []byte) (*Program, error) {
	if !IsImage(data) {
		return nil, fmt.Errorf("%w: missing BFBC magic", ErrCorruptImage)
	}

	var body imageBody
	if err := cbor.Unmarshal(data[len(ImageMagic):], &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptImage, err)
	}
	if body.Version != ImageVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptImage, body.Version)
	}
	n := len(body.Ops)
	if len(body.Targets) != n || len(body.Lines) != n || len(body.Columns) != n {
		return nil, fmt.Errorf("%w: section lengths differ", ErrCorruptImage)
	}
	if body.Capacity < n || body.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d below %d instructions", ErrCorruptImage, body.Capacity, n)
	}
	if body.Capacity > MaxImageCapacity {
		return nil, fmt.Errorf("%w: capacity %d above %d", ErrCorruptImage, body.Capacity, MaxImageCapacity)
	}

	p := newProgram(body.Capacity)
	for i := 0; i < n; i++ {
		op := Opcode(body.Ops[i])
		if !op.Valid() {
			return nil, fmt.Errorf("%w: unknown opcode 0x%02X at %d", ErrCorruptImage, body.Ops[i], i+1)
		}
		var in Instruction
		if op.IsJump() {
			if body.Targets[i] < 0 {
				return nil, fmt.Errorf("%w: jump at %d has no target", ErrCorruptImage, i+1)
			}
			in = Jump(op, int(body.Targets[i]))
		} else {
			in = Simple(op)
		}
		p.emit(in, Position{Line: int(body.Lines[i]), Column: int(body.Columns[i])})
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptImage, err)
	}
	return p, nil
}
