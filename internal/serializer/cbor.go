package serializer

import (
	"reflect"

	cbor "github.com/fxamacker/cbor/v2"
)

type cborSerializer struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a deterministic application/cbor serializer. Maps decode
// with string keys so the body shape matches the text serializers.
func CBOR() Serializer {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborSerializer{enc: em, dec: dm}
}

func (cborSerializer) ContentType() string     { return "application/cbor" }
func (cborSerializer) ContentEncoding() string { return EncodingBinary }

func (s cborSerializer) Marshal(v any) ([]byte, error)      { return s.enc.Marshal(v) }
func (s cborSerializer) Unmarshal(data []byte, v any) error { return s.dec.Unmarshal(data, v) }
