// Package udp is the datagram adapter. One datagram carries one frame.
// Outbound datagrams leave from the listening socket, so a peer replying
// to the source address reaches this adapter's read loop.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"kalm/pkg/config"
	"kalm/pkg/transport"
)

const (
	Name = "udp"
	// MaxDatagram is the largest UDP payload over IPv4.
	MaxDatagram = 65507
)

// Adapter implements transport.Adapter over UDP.
type Adapter struct {
	conn config.ConnectionConfig

	mu      sync.Mutex
	pc      *net.UDPConn
	h       transport.Handler
	evt     string
	stopped bool

	done     chan struct{}
	stopOnce sync.Once
}

var _ transport.Adapter = (*Adapter)(nil)

// New builds the udp adapter. conn holds outbound settings.
func New(conn config.ConnectionConfig) transport.Adapter {
	return &Adapter{conn: conn, done: make(chan struct{})}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pc == nil {
		return nil
	}
	return a.pc.LocalAddr()
}

func (a *Adapter) Listen(ctx context.Context, cfg config.AdapterConfig, h transport.Handler) error {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return fmt.Errorf("udp listen: %w", err)
	}
	a.mu.Lock()
	switch {
	case a.stopped:
		a.mu.Unlock()
		_ = pc.Close()
		return transport.ErrAdapterStopped
	case a.pc != nil:
		a.mu.Unlock()
		_ = pc.Close()
		return errors.New("udp: already listening")
	}
	a.pc, a.h, a.evt = pc.(*net.UDPConn), h, cfg.Evt
	a.mu.Unlock()

	go a.readLoop(a.pc)
	zap.L().Info("listening", zap.String("adapter", Name), zap.String("addr", pc.LocalAddr().String()))
	return nil
}

func (a *Adapter) readLoop(pc *net.UDPConn) {
	defer close(a.done)
	buf := make([]byte, 64*1024)
	for {
		n, raddr, err := pc.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				zap.L().Warn("udp read failed", zap.Error(err))
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		a.h.HandleRequest(transport.Request{
			Data:    data,
			Adapter: Name,
			Event:   a.evt,
			Socket:  &socket{pc: pc, raddr: raddr},
			Remote:  raddr,
		})
	}
}

// CreateClient resolves the peer address. No connection is involved; the
// socket writes from the listening port.
func (a *Adapter) CreateClient(_ context.Context, peer transport.Target) (transport.Socket, error) {
	if err := transport.CheckTarget(Name, peer); err != nil {
		return nil, err
	}
	a.mu.Lock()
	pc, stopped := a.pc, a.stopped
	a.mu.Unlock()
	if stopped {
		return nil, transport.ErrAdapterStopped
	}
	if pc == nil {
		return nil, transport.ErrNotListening
	}
	raddr, err := net.ResolveUDPAddr("udp", transport.DialAddress(peer, a.conn))
	if err != nil {
		return nil, err
	}
	return &socket{pc: pc, raddr: raddr}, nil
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

func (a *Adapter) Stop(ctx context.Context) error {
	var pc *net.UDPConn
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.stopped = true
		pc = a.pc
		a.mu.Unlock()
		if pc == nil {
			close(a.done)
			return
		}
		_ = pc.Close()
	})
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("udp stop: %w", ctx.Err())
	}
}

// socket addresses one remote through the shared listening conn.
type socket struct {
	pc    *net.UDPConn
	raddr *net.UDPAddr
}

func (s *socket) SendBytes(b []byte) error {
	if len(b) > MaxDatagram {
		return fmt.Errorf("%w: %d bytes", transport.ErrFrameTooLarge, len(b))
	}
	_, err := s.pc.WriteToUDP(b, s.raddr)
	return err
}

func (s *socket) RemoteAddr() net.Addr { return s.raddr }

// Close is a no-op; the listening conn belongs to the adapter.
func (s *socket) Close() error { return nil }
