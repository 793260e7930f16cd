// Package tcp is the stream adapter over TCP with length-prefixed frames
// (u32 LE).
package tcp

import (
	"context"
	"net"
	"strconv"

	"kalm/pkg/config"
	"kalm/pkg/transport"
	"kalm/pkg/transport/stream"
)

const Name = "tcp"

// New builds the tcp adapter. conn holds outbound settings.
func New(conn config.ConnectionConfig) transport.Adapter {
	return stream.New(stream.Options{
		Name:   Name,
		Listen: listen,
		Dial:   dial,
		Conn:   conn,
	})
}

func listen(ctx context.Context, cfg config.AdapterConfig) (stream.Listener, error) {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, err
	}
	return stream.FromNet(l), nil
}

func dial(ctx context.Context, peer transport.Target, conn config.ConnectionConfig) (stream.Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", transport.DialAddress(peer, conn))
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return c, nil
}
