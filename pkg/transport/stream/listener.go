package stream

import (
	"context"
	"net"
)

// FromNet adapts a net.Listener. Accept unblocks when ctx is done by closing
// the listener.
func FromNet(l net.Listener) Listener { return &netListener{l: l} }

type netListener struct{ l net.Listener }

func (n *netListener) Accept(ctx context.Context) (Conn, error) {
	stop := context.AfterFunc(ctx, func() { _ = n.l.Close() })
	defer stop()
	c, err := n.l.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return c, nil
}

func (n *netListener) Addr() net.Addr { return n.l.Addr() }
func (n *netListener) Close() error   { return n.l.Close() }
