package stream

import (
	"bufio"
	"net"
	"sync"

	"kalm/pkg/transport"
)

// Socket frames one Conn. Writes are serialized; reads belong to the single
// serve loop of the owning adapter.
type Socket struct {
	c   Conn
	key string // dial address for outbound sockets, empty for inbound

	wmu sync.Mutex
	w   *bufio.Writer
	r   *bufio.Reader

	closeOnce sync.Once
	done      chan struct{}
}

var _ transport.Socket = (*Socket)(nil)

func newSocket(c Conn, key string) *Socket {
	return &Socket{
		c:    c,
		key:  key,
		w:    bufio.NewWriter(c),
		r:    bufio.NewReader(c),
		done: make(chan struct{}),
	}
}

func (s *Socket) SendBytes(b []byte) error {
	select {
	case <-s.done:
		return net.ErrClosed
	default:
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return transport.WriteFrame(s.w, b)
}

// RecvBytes reads the next frame.
func (s *Socket) RecvBytes() ([]byte, error) {
	return transport.ReadFrame(s.r)
}

func (s *Socket) RemoteAddr() net.Addr { return s.c.RemoteAddr() }

func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.c.Close()
	})
	return err
}

// Done is closed once the socket is closed.
func (s *Socket) Done() <-chan struct{} { return s.done }
