// Package adapters wires the transports shipped with kalm into a registry.
package adapters

import (
	"kalm/pkg/transport"
	"kalm/pkg/transport/ipc"
	"kalm/pkg/transport/mem"
	"kalm/pkg/transport/quic"
	"kalm/pkg/transport/tcp"
	"kalm/pkg/transport/udp"
)

// Builtin returns a registry holding ipc, tcp and udp plus the quic and mem
// extensions.
func Builtin() *transport.Registry {
	r := transport.NewRegistry()
	r.Register(ipc.Name, ipc.New)
	r.Register(tcp.Name, tcp.New)
	r.Register(udp.Name, udp.New)
	r.Register(quic.Name, quic.New)
	r.Register(mem.Name, mem.New)
	return r
}
