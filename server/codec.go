package server

import (
	"github.com/fxamacker/cbor/v2"
)

// CodecName is the codec name used on the wire: application/cbor for the
// Connect protocol and application/grpc+cbor for gRPC.
const CodecName = "cbor"

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("server: failed to create CBOR encoder: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("server: failed to create CBOR decoder: " + err.Error())
	}
}

// Codec encodes debug service messages as CBOR. It satisfies both
// connect.Codec and grpc's encoding.Codec.
type Codec struct{}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(v any) ([]byte, error) {
	return cborEnc.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return cborDec.Unmarshal(data, v)
}
