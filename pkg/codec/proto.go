package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type protoCodec struct {
	mo proto.MarshalOptions
	uo proto.UnmarshalOptions
}

// Proto returns a Protocol Buffers codec with deterministic marshaling.
// proto.Message values are encoded directly; anything else travels as a
// google.protobuf.Value, so numbers decode as float64 like JSON.
func Proto() Codec {
	return protoCodec{
		mo: proto.MarshalOptions{Deterministic: true},
		uo: proto.UnmarshalOptions{},
	}
}

func (p protoCodec) Name() string        { return "proto" }
func (p protoCodec) ContentType() string { return "application/x-protobuf" }

func (p protoCodec) Marshal(v any) ([]byte, error) {
	if msg, ok := v.(proto.Message); ok {
		return p.mo.Marshal(msg)
	}
	val, err := structpb.NewValue(v)
	if err != nil {
		// typed payloads (structs, typed maps) go through their JSON form
		generic, jerr := toGeneric(v)
		if jerr != nil {
			return nil, fmt.Errorf("protobuf: %w", err)
		}
		if val, err = structpb.NewValue(generic); err != nil {
			return nil, fmt.Errorf("protobuf: %w", err)
		}
	}
	return p.mo.Marshal(val)
}

func (p protoCodec) Unmarshal(data []byte, v any) error {
	if msg, ok := v.(proto.Message); ok {
		return p.uo.Unmarshal(data, msg)
	}
	var val structpb.Value
	if err := p.uo.Unmarshal(data, &val); err != nil {
		return err
	}
	out := val.AsInterface()
	if dst, ok := v.(*any); ok {
		*dst = out
		return nil
	}
	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func toGeneric(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(b, &out)
	return out, err
}
