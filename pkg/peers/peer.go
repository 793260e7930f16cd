package peers

import (
	"context"
	"errors"
	"sync"

	"kalm/pkg/protocol"
	"kalm/pkg/transport"
)

// ErrNoConnector is returned by Peer.Socket when the registry was built
// without a way to open sockets.
var ErrNoConnector = errors.New("peers: no connector")

// ReplyFunc sends payload back to the peer a message came from, over the
// socket the peer is currently bound to.
type ReplyFunc func(ctx context.Context, payload any) error

// Handler receives messages routed to a peer.
type Handler func(msg protocol.Envelope, reply ReplyFunc)

// Connector opens outbound sockets. The dispatcher implements it.
type Connector interface {
	CreateClient(ctx context.Context, p *Peer) (transport.Socket, error)
}

// Peer is one remote session reachable over one transport.
type Peer struct {
	label  string
	origin protocol.Origin
	conn   Connector

	mu       sync.Mutex
	socket   transport.Socket
	handlers []Handler
}

var _ transport.Target = (*Peer)(nil)

func (p *Peer) Label() string           { return p.label }
func (p *Peer) Adapter() string         { return p.origin.Adapter }
func (p *Peer) Origin() protocol.Origin { return p.origin }

func (p *Peer) String() string { return p.label + "@" + p.origin.String() }

// Socket returns the bound socket, creating one through the connector on
// first use.
func (p *Peer) Socket(ctx context.Context) (transport.Socket, error) {
	p.mu.Lock()
	s := p.socket
	p.mu.Unlock()
	if s != nil {
		return s, nil
	}
	if p.conn == nil {
		return nil, ErrNoConnector
	}
	s, err := p.conn.CreateClient(ctx, p)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.socket == nil {
		p.socket = s
	}
	return p.socket, nil
}

// Bound returns the current socket without creating one.
func (p *Peer) Bound() transport.Socket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.socket
}

// Bind sets s as the peer's socket if none is bound and reports whether it did.
func (p *Peer) Bind(s transport.Socket) bool {
	if s == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.socket != nil {
		return false
	}
	p.socket = s
	return true
}

// Release unbinds s if it is still the peer's socket.
func (p *Peer) Release(s transport.Socket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s != nil && p.socket == s {
		p.socket = nil
	}
}

// Subscribe appends h to the peer's handlers.
func (p *Peer) Subscribe(h Handler) {
	if h == nil {
		return
	}
	p.mu.Lock()
	p.handlers = append(p.handlers, h)
	p.mu.Unlock()
}

func (p *Peer) HasHandler() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers) > 0
}

// Dispatch calls every handler in subscription order. It reports false when
// the peer has none.
func (p *Peer) Dispatch(msg protocol.Envelope, reply ReplyFunc) bool {
	p.mu.Lock()
	hs := make([]Handler, len(p.handlers))
	copy(hs, p.handlers)
	p.mu.Unlock()
	for _, h := range hs {
		h(msg, reply)
	}
	return len(hs) > 0
}
