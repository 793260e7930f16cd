package protocol

import (
	"reflect"
	"testing"

	"kalm/pkg/codec"
)

func allCodecs(t *testing.T) []codec.Codec {
	t.Helper()
	cb, err := codec.CBOR()
	if err != nil {
		t.Fatalf("cbor: %v", err)
	}
	return []codec.Codec{codec.MsgPack(), cb, codec.JSON(), codec.Proto()}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	for _, c := range allCodecs(t) {
		t.Run(c.Name(), func(t *testing.T) {
			in := Envelope{
				Origin:  Origin{Host: "10.0.0.5", Port: 3000},
				Meta:    &Meta{SessionID: "svc1", ProcessID: 4242},
				Payload: map[string]any{"foo": "bar", "ok": true, "list": []any{"a", "b"}},
			}
			b, err := Encode(c, in)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			out, err := Decode(c, b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.Origin.Host != "10.0.0.5" || out.Origin.Port != 3000 {
				t.Fatalf("origin mismatch: %#v", out.Origin)
			}
			if !out.Routable() || out.Meta.SessionID != "svc1" || out.Meta.ProcessID != 4242 {
				t.Fatalf("meta mismatch: %#v", out.Meta)
			}
			if !reflect.DeepEqual(out.Payload, in.Payload) {
				t.Fatalf("payload mismatch: %#v", out.Payload)
			}
		})
	}
}

func TestDecodeBarePayload(t *testing.T) {
	c := codec.MsgPack()
	// no payload key: the whole value is the payload, even with a meta block
	b, err := c.Marshal(map[string]any{"meta": map[string]any{"sId": "x"}, "foo": "bar"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	e, err := Decode(c, b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Routable() {
		t.Fatalf("bare payload must not be routable")
	}
	m, ok := e.Payload.(map[string]any)
	if !ok || m["foo"] != "bar" {
		t.Fatalf("payload mismatch: %#v", e.Payload)
	}

	b, _ = c.Marshal("just a string")
	e, err = Decode(c, b)
	if err != nil {
		t.Fatalf("decode scalar: %v", err)
	}
	if e.Payload != "just a string" || e.Routable() {
		t.Fatalf("scalar payload mismatch: %#v", e)
	}
}

func TestDecodeWithoutMeta(t *testing.T) {
	c := codec.JSON()
	e, err := Decode(c, []byte(`{"origin":{"h":"a","p":1},"payload":1}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Routable() {
		t.Fatalf("envelope without meta must not be routable")
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode(codec.JSON(), nil); err != ErrEmptyFrame {
		t.Fatalf("want ErrEmptyFrame, got %v", err)
	}
	if _, err := Decode(codec.JSON(), []byte("{not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestAsMapGenericKeys(t *testing.T) {
	m, ok := asMap(map[any]any{"h": "x"})
	if !ok || m["h"] != "x" {
		t.Fatalf("generic map not converted: %#v", m)
	}
	if _, ok := asMap(map[any]any{1: "x"}); ok {
		t.Fatalf("non-string keys must be rejected")
	}
}

func TestOriginString(t *testing.T) {
	o := Origin{Host: "127.0.0.1", Port: 3000, Adapter: "tcp"}
	if o.String() != "tcp://127.0.0.1:3000" {
		t.Fatalf("got %q", o.String())
	}
}
