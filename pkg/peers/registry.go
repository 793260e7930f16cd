// Package peers keeps the peers a node talks to. A peer is identified by its
// session label plus the transport address it was seen at; the registry
// guarantees one Peer value per identity.
package peers

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"kalm/pkg/protocol"
)

type key struct {
	label   string
	adapter string
	host    string
	port    int
}

func keyOf(label string, o protocol.Origin) key {
	return key{label: label, adapter: o.Adapter, host: o.Host, port: o.Port}
}

// Registry is safe for concurrent use.
type Registry struct {
	conn Connector

	mu     sync.Mutex
	peers  map[key]*Peer
	byName map[string][]Handler
}

func NewRegistry(c Connector) *Registry {
	return &Registry{conn: c, peers: make(map[key]*Peer), byName: make(map[string][]Handler)}
}

// Find returns the peer for (label, origin). When it is unknown and create
// is set a new peer is stored and returned; otherwise nil.
func (r *Registry) Find(label string, origin protocol.Origin, create bool) *Peer {
	k := keyOf(label, origin)
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[k]; ok {
		return p
	}
	if !create {
		return nil
	}
	p := &Peer{label: label, origin: origin, conn: r.conn}
	p.handlers = append(p.handlers, r.byName[label]...)
	r.peers[k] = p
	zap.L().Debug("peer created", zap.String("label", label), zap.Stringer("origin", origin))
	return p
}

// Handle subscribes h to every current and future peer labelled label.
func (r *Registry) Handle(label string, h Handler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[label] = append(r.byName[label], h)
	for k, p := range r.peers {
		if k.label == label {
			p.Subscribe(h)
		}
	}
}

// Remove forgets p and closes its bound socket. It reports whether p was known.
func (r *Registry) Remove(p *Peer) bool {
	if p == nil {
		return false
	}
	k := keyOf(p.label, p.origin)
	r.mu.Lock()
	cur, ok := r.peers[k]
	if ok && cur == p {
		delete(r.peers, k)
	}
	r.mu.Unlock()
	if !ok || cur != p {
		return false
	}
	if s := p.Bound(); s != nil {
		p.Release(s)
		_ = s.Close()
	}
	zap.L().Debug("peer removed", zap.String("label", p.label), zap.Stringer("origin", p.origin))
	return true
}

// List returns all peers ordered by label, then origin.
func (r *Registry) List() []*Peer {
	r.mu.Lock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].label != out[j].label {
			return out[i].label < out[j].label
		}
		return out[i].origin.String() < out[j].origin.String()
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}
