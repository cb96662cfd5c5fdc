package serializer

import (
	"github.com/bytedance/sonic"
)

type jsonSerializer struct{ api sonic.API }

// JSON returns the application/json serializer. Integers decode as int64
// (uint64 past the int64 range) and other numbers as float64.
func JSON() Serializer {
	return jsonSerializer{api: sonic.Config{
		EscapeHTML:       true,
		SortMapKeys:      true,
		CompactMarshaler: true,
		CopyString:       true,
		ValidateString:   true,
		UseNumber:        true,
	}.Froze()}
}

func (jsonSerializer) ContentType() string     { return "application/json" }
func (jsonSerializer) ContentEncoding() string { return EncodingUTF8 }

func (s jsonSerializer) Marshal(v any) ([]byte, error) { return s.api.Marshal(v) }

func (s jsonSerializer) Unmarshal(data []byte, v any) error {
	if err := s.api.Unmarshal(data, v); err != nil {
		return err
	}
	if p, ok := v.(*any); ok {
		*p = NormalizeNumbers(*p)
	}
	return nil
}
