// Package mem is an in-process stream adapter over net.Pipe. Listeners are
// registered in a process-wide hub keyed by port, so two adapters in the
// same process reach each other without touching the network.
package mem

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"kalm/pkg/config"
	"kalm/pkg/transport"
	"kalm/pkg/transport/stream"
)

const Name = "mem"

// ephemeral ports are handed out from here when a listener asks for port 0.
const firstEphemeral = 49152

var (
	ErrPortInUse  = errors.New("mem: port in use")
	ErrNoListener = errors.New("mem: no such listener")
)

type hub struct {
	mu        sync.Mutex
	listeners map[int]*listener
	next      int
}

var defaultHub = &hub{listeners: make(map[int]*listener), next: firstEphemeral}

// New builds the mem adapter. conn holds outbound settings.
func New(conn config.ConnectionConfig) transport.Adapter {
	return stream.New(stream.Options{
		Name:   Name,
		Listen: defaultHub.listen,
		Dial:   defaultHub.dial,
		Conn:   conn,
	})
}

func (h *hub) listen(_ context.Context, cfg config.AdapterConfig) (stream.Listener, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	port := cfg.Port
	if port == 0 {
		for h.listeners[h.next] != nil {
			h.next++
		}
		port = h.next
		h.next++
	}
	if h.listeners[port] != nil {
		return nil, fmt.Errorf("%w: %d", ErrPortInUse, port)
	}
	l := &listener{hub: h, addr: Addr(port), newCh: make(chan net.Conn), closeCh: make(chan struct{})}
	h.listeners[port] = l
	return l, nil
}

func (h *hub) dial(ctx context.Context, peer transport.Target, conn config.ConnectionConfig) (stream.Conn, error) {
	port := peer.Origin().Port
	if port == 0 {
		port = conn.Port
	}
	h.mu.Lock()
	l := h.listeners[port]
	h.mu.Unlock()
	if l == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoListener, port)
	}
	srv, cli := net.Pipe()
	select {
	case l.newCh <- &pipeConn{Conn: srv, remote: Addr(0)}:
		return &pipeConn{Conn: cli, remote: l.addr}, nil
	case <-l.closeCh:
	case <-ctx.Done():
	}
	_ = srv.Close()
	_ = cli.Close()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %d", ErrNoListener, port)
}

type listener struct {
	hub       *hub
	addr      Addr
	newCh     chan net.Conn
	closeCh   chan struct{}
	closeOnce sync.Once
}

func (l *listener) Addr() net.Addr { return l.addr }

func (l *listener) Accept(ctx context.Context) (stream.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, net.ErrClosed
	case c := <-l.newCh:
		return c, nil
	}
}

func (l *listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closeCh)
		l.hub.mu.Lock()
		if l.hub.listeners[int(l.addr)] == l {
			delete(l.hub.listeners, int(l.addr))
		}
		l.hub.mu.Unlock()
	})
	return nil
}

// pipeConn reports a mem address instead of net.Pipe's "pipe".
type pipeConn struct {
	net.Conn
	remote net.Addr
}

func (c *pipeConn) RemoteAddr() net.Addr { return c.remote }

// Addr is a mem listener address. Its String form is host:port shaped so
// transport.PortOf can read it.
type Addr int

func (a Addr) Network() string { return Name }
func (a Addr) String() string  { return net.JoinHostPort(Name, strconv.Itoa(int(a))) }
