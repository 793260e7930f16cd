// Package codec turns envelopes into bytes and back. Every codec decodes
// into generic values (maps with string keys, slices, scalars) so the
// envelope layer can inspect shapes it did not produce itself.
package codec

import (
	"fmt"
	"sort"
	"strings"
)

// Codec defines a simple interface for marshaling messages.
// Implementations should be deterministic and safe for cross-process exchange.
type Codec interface {
	Name() string
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps codec names and aliases to codecs.
type Registry struct{ byName map[string]Codec }

// NewRegistry constructs a registry preloaded with the built-in codecs.
func NewRegistry() (*Registry, error) {
	r := &Registry{byName: make(map[string]Codec)}
	r.Register(MsgPack(), "msgpack")
	c, err := CBOR()
	if err != nil {
		return nil, err
	}
	r.Register(c)
	r.Register(JSON())
	r.Register(Proto(), "protobuf")
	return r, nil
}

// Register adds a codec under its name, content type and any aliases.
func (r *Registry) Register(c Codec, aliases ...string) {
	r.byName[c.Name()] = c
	r.byName[c.ContentType()] = c
	for _, a := range aliases {
		r.byName[strings.ToLower(a)] = c
	}
}

// Get returns a codec by name, alias or content type.
func (r *Registry) Get(name string) (Codec, error) {
	if c, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("unknown encoder %q (have %s)", name, strings.Join(r.Names(), ", "))
}

// Names lists the canonical codec names.
func (r *Registry) Names() []string {
	seen := make(map[string]struct{})
	for _, c := range r.byName {
		seen[c.Name()] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
