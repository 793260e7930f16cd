// Package transport defines the adapter contract every kalm transport
// satisfies and the static registry the dispatcher resolves transports from.
//
// Key concepts:
//   - Adapter: listens for inbound frames and sends outbound ones for one
//     transport (ipc, tcp, udp, quic, mem)
//   - Socket: a handle a frame can be written to; replies reuse the socket a
//     request arrived on
//   - Request: one inbound frame with the adapter name and arrival socket
//   - Registry: transport name to Factory, populated at process start
package transport
