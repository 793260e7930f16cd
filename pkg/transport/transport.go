package transport

import (
	"context"
	"errors"
	"net"

	"kalm/pkg/config"
	"kalm/pkg/protocol"
)

var (
	// ErrTransportMismatch is returned by CreateClient when the peer declares
	// another transport than the adapter serves.
	ErrTransportMismatch = errors.New("transport mismatch")
	// ErrAdapterStopped is returned for operations on a stopped adapter.
	ErrAdapterStopped = errors.New("adapter stopped")
	// ErrNotListening is returned when an adapter needs its listener to send.
	ErrNotListening = errors.New("adapter not listening")
)

// Socket is a handle frames can be written to. Writes are serialized by the
// implementation; Close is idempotent.
type Socket interface {
	SendBytes([]byte) error
	RemoteAddr() net.Addr
	Close() error
}

// Request is one inbound frame.
type Request struct {
	Data    []byte
	Adapter string
	Event   string
	Socket  Socket // socket the frame arrived on, usable for replies
	Remote  net.Addr
}

// Handler consumes inbound frames. HandleRequest reports whether the frame
// reached an application handler.
type Handler interface {
	HandleRequest(Request) bool
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Request) bool

func (f HandlerFunc) HandleRequest(r Request) bool { return f(r) }

// Target is the addressing view of a peer an adapter needs.
type Target interface {
	Label() string
	Origin() protocol.Origin
}

// Adapter provides listening and sending for one transport.
type Adapter interface {
	Name() string
	// Listen starts accepting on the transport and returns once it is ready to
	// receive. Accept/read loops keep running in the background until Stop.
	// Every inbound frame is passed to h.
	Listen(ctx context.Context, cfg config.AdapterConfig, h Handler) error
	// Addr is the bound listening address, nil before Listen.
	Addr() net.Addr
	// CreateClient returns a socket for sending to peer, dialing or reusing a
	// cached one. ErrTransportMismatch when peer uses another transport.
	CreateClient(ctx context.Context, peer Target) (Socket, error)
	// Send writes one encoded frame to peer over sock, creating a socket with
	// CreateClient when sock is nil. It returns the socket used.
	Send(ctx context.Context, peer Target, frame []byte, sock Socket) (Socket, error)
	// Stop releases the listener and every socket. It is idempotent.
	Stop(ctx context.Context) error
}

// CheckTarget returns ErrTransportMismatch unless peer declares transport name.
func CheckTarget(name string, peer Target) error {
	if got := peer.Origin().Adapter; got != name {
		return &MismatchError{Want: name, Got: got}
	}
	return nil
}

// MismatchError details ErrTransportMismatch.
type MismatchError struct {
	Want, Got string
}

func (e *MismatchError) Error() string {
	return "transport mismatch: adapter " + e.Want + " cannot reach peer on " + e.Got
}

func (e *MismatchError) Unwrap() error { return ErrTransportMismatch }
