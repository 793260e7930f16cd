// Package ipc is the local stream adapter. On unix it listens on a socket
// file at <path><port>; on windows it uses the named pipe
// \\.\pipe\<base(path)><port>.
package ipc

import (
	"errors"
	"strconv"

	"kalm/pkg/config"
	"kalm/pkg/transport"
	"kalm/pkg/transport/stream"
)

const (
	Name = "ipc"
	// DefaultPath prefixes the socket name when none is configured.
	DefaultPath = "/tmp/socket-"
)

// ErrInUse is returned by Listen when another process accepts on the endpoint.
var ErrInUse = errors.New("ipc: address in use")

// New builds the ipc adapter. conn holds outbound settings.
func New(conn config.ConnectionConfig) transport.Adapter {
	return stream.New(stream.Options{
		Name:    Name,
		Listen:  listen,
		Dial:    dial,
		Address: address,
		Conn:    conn,
	})
}

// SocketPath joins prefix and port, defaulting the prefix.
func SocketPath(prefix string, port int) string {
	if prefix == "" {
		prefix = DefaultPath
	}
	return prefix + strconv.Itoa(port)
}

// address is the endpoint for peer: the peer's port under the local prefix.
func address(peer transport.Target, conn config.ConnectionConfig) string {
	port := peer.Origin().Port
	if port == 0 {
		port = conn.Port
	}
	return endpoint(conn.Path, port)
}
