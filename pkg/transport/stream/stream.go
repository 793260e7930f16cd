// Package stream implements the connection-oriented half of the adapter
// contract once: accept loop, per-connection read loop, outbound client
// cache and coordinated stop. Concrete transports (tcp, ipc, quic, mem)
// only supply how to listen and how to dial.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"kalm/pkg/config"
	"kalm/pkg/transport"
)

// Conn is a bidirectional byte stream to one remote.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

// Listener accepts inbound Conns.
type Listener interface {
	// Accept blocks until an inbound connection is available, the listener
	// is closed or ctx is done.
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// ListenFunc opens the transport listener described by cfg.
type ListenFunc func(ctx context.Context, cfg config.AdapterConfig) (Listener, error)

// DialFunc connects to peer.
type DialFunc func(ctx context.Context, peer transport.Target, conn config.ConnectionConfig) (Conn, error)

// AddressFunc derives the client cache key for peer, usually its dial address.
type AddressFunc func(peer transport.Target, conn config.ConnectionConfig) string

// Options configures a stream Adapter.
type Options struct {
	Name    string
	Listen  ListenFunc
	Dial    DialFunc
	Address AddressFunc // defaults to transport.DialAddress
	Conn    config.ConnectionConfig
}

// Adapter is a transport.Adapter over a stream transport.
type Adapter struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	l       Listener
	h       transport.Handler
	evt     string
	conns   map[*Socket]struct{}
	clients map[string]*Socket
	stopped bool

	dials    singleflight.Group
	wg       sync.WaitGroup
	stopOnce sync.Once
}

var _ transport.Adapter = (*Adapter)(nil)

func New(opts Options) *Adapter {
	if opts.Address == nil {
		opts.Address = transport.DialAddress
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[*Socket]struct{}),
		clients: make(map[string]*Socket),
	}
}

func (a *Adapter) Name() string { return a.opts.Name }

func (a *Adapter) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.l == nil {
		return nil
	}
	return a.l.Addr()
}

// Listen opens the listener and starts the accept loop. The listener lives
// until Stop, not until ctx is done; ctx only bounds the start.
func (a *Adapter) Listen(ctx context.Context, cfg config.AdapterConfig, h transport.Handler) error {
	a.mu.Lock()
	switch {
	case a.stopped:
		a.mu.Unlock()
		return transport.ErrAdapterStopped
	case a.l != nil:
		a.mu.Unlock()
		return fmt.Errorf("%s: already listening", a.opts.Name)
	}
	a.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	l, err := a.opts.Listen(a.ctx, cfg)
	if err != nil {
		return fmt.Errorf("%s listen: %w", a.opts.Name, err)
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		_ = l.Close()
		return transport.ErrAdapterStopped
	}
	a.l, a.h, a.evt = l, h, cfg.Evt
	a.wg.Add(1)
	a.mu.Unlock()

	go a.acceptLoop(l)
	zap.L().Info("listening", zap.String("adapter", a.opts.Name), zap.String("addr", l.Addr().String()))
	return nil
}

func (a *Adapter) acceptLoop(l Listener) {
	defer a.wg.Done()
	for {
		c, err := l.Accept(a.ctx)
		if err != nil {
			if a.ctx.Err() == nil {
				zap.L().Warn("accept failed", zap.String("adapter", a.opts.Name), zap.Error(err))
			}
			return
		}
		s := newSocket(c, "")
		if !a.track(s) {
			_ = s.Close()
			return
		}
		zap.L().Debug("inbound connection", zap.String("adapter", a.opts.Name), zap.Stringer("raddr", addrOf(s)))
		go a.serve(s)
	}
}

// track registers s and accounts its read loop; false once stopped.
func (a *Adapter) track(s *Socket) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return false
	}
	if s.key != "" {
		a.clients[s.key] = s
	} else {
		a.conns[s] = struct{}{}
	}
	a.wg.Add(1)
	return true
}

func (a *Adapter) forget(s *Socket) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.conns, s)
	if s.key != "" && a.clients[s.key] == s {
		delete(a.clients, s.key)
	}
}

// serve feeds every frame read from s to the handler, in arrival order.
func (a *Adapter) serve(s *Socket) {
	defer a.wg.Done()
	defer a.forget(s)
	defer s.Close()
	for {
		b, err := s.RecvBytes()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && a.ctx.Err() == nil {
				zap.L().Debug("connection closed", zap.String("adapter", a.opts.Name), zap.Stringer("raddr", addrOf(s)), zap.Error(err))
			}
			return
		}
		a.mu.Lock()
		h, evt := a.h, a.evt
		a.mu.Unlock()
		if h == nil {
			continue
		}
		h.HandleRequest(transport.Request{Data: b, Adapter: a.opts.Name, Event: evt, Socket: s, Remote: s.RemoteAddr()})
	}
}

// CreateClient returns the cached connection to peer or dials one. Concurrent
// calls for the same peer share a single dial.
func (a *Adapter) CreateClient(ctx context.Context, peer transport.Target) (transport.Socket, error) {
	if err := transport.CheckTarget(a.opts.Name, peer); err != nil {
		return nil, err
	}
	key := a.opts.Address(peer, a.opts.Conn)
	if s, err := a.cached(key); s != nil || err != nil {
		return s, err
	}
	v, err, _ := a.dials.Do(key, func() (any, error) {
		if s, err := a.cached(key); s != nil || err != nil {
			return s, err
		}
		dctx := ctx
		if a.opts.Conn.DialTimeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(ctx, a.opts.Conn.DialTimeout)
			defer cancel()
		}
		c, err := a.opts.Dial(dctx, peer, a.opts.Conn)
		if err != nil {
			return nil, fmt.Errorf("%s dial %s: %w", a.opts.Name, key, err)
		}
		s := newSocket(c, key)
		if !a.track(s) {
			_ = s.Close()
			return nil, transport.ErrAdapterStopped
		}
		// replies come back on the same connection
		go a.serve(s)
		zap.L().Debug("client connected", zap.String("adapter", a.opts.Name), zap.String("addr", key), zap.String("peer", peer.Label()))
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Socket), nil
}

func (a *Adapter) cached(key string) (*Socket, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return nil, transport.ErrAdapterStopped
	}
	return a.clients[key], nil
}

func (a *Adapter) Send(ctx context.Context, peer transport.Target, frame []byte, sock transport.Socket) (transport.Socket, error) {
	if sock == nil {
		s, err := a.CreateClient(ctx, peer)
		if err != nil {
			return nil, err
		}
		sock = s
	}
	return sock, sock.SendBytes(frame)
}

// Stop closes the listener and every connection, then waits for the loops
// to exit or ctx to end.
func (a *Adapter) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.stopped = true
		l := a.l
		socks := make([]*Socket, 0, len(a.conns)+len(a.clients))
		for s := range a.conns {
			socks = append(socks, s)
		}
		for _, s := range a.clients {
			socks = append(socks, s)
		}
		a.mu.Unlock()

		a.cancel()
		if l != nil {
			_ = l.Close()
		}
		for _, s := range socks {
			_ = s.Close()
		}
	})

	done := make(chan struct{})
	go func() { a.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s stop: %w", a.opts.Name, ctx.Err())
	}
}

// Connections reports live inbound and outbound sockets.
func (a *Adapter) Connections() (inbound, outbound int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns), len(a.clients)
}

func addrOf(s *Socket) fmt.Stringer {
	if ra := s.RemoteAddr(); ra != nil {
		return ra
	}
	return unknownAddr{}
}

type unknownAddr struct{}

func (unknownAddr) String() string { return "unknown" }
