package codec

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

type msgpackCodec struct{}

// MsgPack returns the MessagePack codec, the default wire encoding.
// Integers decode as int64/uint64 and floats as float64 regardless of the
// width chosen by the encoder.
func MsgPack() Codec { return msgpackCodec{} }

func (msgpackCodec) Name() string        { return "msg-pack" }
func (msgpackCodec) ContentType() string { return "application/msgpack" }

func (msgpackCodec) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}
