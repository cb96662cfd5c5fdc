package serializer

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type protobufSerializer struct {
	mo proto.MarshalOptions
	uo proto.UnmarshalOptions
}

// Protobuf returns an application/x-protobuf serializer that carries the
// body as a google.protobuf.Value. Numbers travel as doubles and decode as
// float64, so Marshal rejects integers a double cannot hold exactly.
func Protobuf() Serializer {
	return protobufSerializer{
		mo: proto.MarshalOptions{Deterministic: true},
		uo: proto.UnmarshalOptions{},
	}
}

func (protobufSerializer) ContentType() string     { return "application/x-protobuf" }
func (protobufSerializer) ContentEncoding() string { return EncodingBinary }

func (p protobufSerializer) Marshal(v any) ([]byte, error) {
	if err := exactIntegers(v); err != nil {
		return nil, fmt.Errorf("protobuf: %w", err)
	}
	pv, err := structpb.NewValue(v)
	if err != nil {
		return nil, fmt.Errorf("protobuf: %w", err)
	}
	return p.mo.Marshal(pv)
}

func (p protobufSerializer) Unmarshal(data []byte, v any) error {
	out, ok := v.(*any)
	if !ok {
		return fmt.Errorf("protobuf: target must be *any, got %T", v)
	}
	var pv structpb.Value
	if err := p.uo.Unmarshal(data, &pv); err != nil {
		return err
	}
	*out = pv.AsInterface()
	return nil
}

// maxExactInt is the largest integer magnitude a float64 represents exactly.
const maxExactInt = 1 << 53

func exactIntegers(v any) error {
	var (
		n   int64
		big bool
	)
	switch t := v.(type) {
	case []any:
		for _, e := range t {
			if err := exactIntegers(e); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		for _, e := range t {
			if err := exactIntegers(e); err != nil {
				return err
			}
		}
		return nil
	case int:
		n = int64(t)
	case int64:
		n = t
	case uint:
		big = uint64(t) > maxExactInt
	case uint64:
		big = t > maxExactInt
	case json.Number:
		if i, ok := number(t).(int64); ok {
			n = i
		} else if _, ok := number(t).(float64); !ok {
			big = true
		}
	default:
		return nil
	}
	if big || n > maxExactInt || n < -maxExactInt {
		return fmt.Errorf("integer %v cannot be carried exactly as a double", v)
	}
	return nil
}
