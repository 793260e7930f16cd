// Package protocol defines the envelope every message travels in and its
// wire layout.
//
// On the wire an envelope is a map:
//
//	{"origin": {"h": host, "p": port}, "meta": {"sId": session, "id": pid}, "payload": ...}
//
// The key names are kept short and stable so peers built against older
// encoders keep interoperating.
package protocol

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"

	"kalm/pkg/codec"
)

// Wire keys.
const (
	KeyOrigin    = "origin"
	KeyMeta      = "meta"
	KeyPayload   = "payload"
	KeyHost      = "h"
	KeyPort      = "p"
	KeySessionID = "sId"
	KeyProcessID = "id"
)

// ErrEmptyFrame is returned when decoding zero bytes.
var ErrEmptyFrame = errors.New("protocol: empty frame")

// Origin is the address of the sender. Adapter is attached on receipt and is
// never serialized.
type Origin struct {
	Host    string
	Port    int
	Adapter string
}

// Address returns host:port.
func (o Origin) Address() string { return net.JoinHostPort(o.Host, strconv.Itoa(o.Port)) }

func (o Origin) String() string {
	if o.Adapter == "" {
		return o.Address()
	}
	return o.Adapter + "://" + o.Address()
}

// Meta identifies the session a message concerns and the sending process.
type Meta struct {
	SessionID string
	ProcessID int
}

// Envelope is the unit exchanged between peers. A nil Meta marks an envelope
// that cannot be routed.
type Envelope struct {
	Origin  Origin
	Meta    *Meta
	Payload any
}

// Routable reports whether the envelope carries a meta block.
func (e Envelope) Routable() bool { return e.Meta != nil }

func (e Envelope) wire() map[string]any {
	m := map[string]any{
		KeyOrigin:  map[string]any{KeyHost: e.Origin.Host, KeyPort: e.Origin.Port},
		KeyPayload: e.Payload,
	}
	if e.Meta != nil {
		m[KeyMeta] = map[string]any{KeySessionID: e.Meta.SessionID, KeyProcessID: e.Meta.ProcessID}
	}
	return m
}

// Encode serializes e with c.
func Encode(c codec.Codec, e Envelope) ([]byte, error) {
	b, err := c.Marshal(e.wire())
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// Decode parses data with c. A decoded value without a payload key is
// treated as a bare payload: the whole value becomes Payload and the
// envelope has no Meta.
func Decode(c codec.Codec, data []byte) (Envelope, error) {
	if len(data) == 0 {
		return Envelope{}, ErrEmptyFrame
	}
	var raw any
	if err := c.Unmarshal(data, &raw); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	m, ok := asMap(raw)
	if !ok {
		return Envelope{Payload: raw}, nil
	}
	payload, ok := m[KeyPayload]
	if !ok {
		return Envelope{Payload: raw}, nil
	}

	e := Envelope{Payload: payload}
	if om, ok := asMap(m[KeyOrigin]); ok {
		e.Origin.Host, _ = om[KeyHost].(string)
		e.Origin.Port, _ = asInt(om[KeyPort])
	}
	if mm, ok := asMap(m[KeyMeta]); ok {
		meta := &Meta{}
		meta.SessionID, _ = mm[KeySessionID].(string)
		meta.ProcessID, _ = asInt(mm[KeyProcessID])
		e.Meta = meta
	}
	return e, nil
}

// asMap accepts both string-keyed and generic maps; codecs differ in what
// they produce for nested values.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// asInt normalizes the integer flavours codecs decode into.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		if n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
