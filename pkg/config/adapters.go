package config

import "time"

// AdapterConfig describes one listening transport. The map key under
// `adapters` is the transport name; a missing key means the transport is
// not started.
// Example YAML:
// adapters:
//   ipc:
//     port: 4001
//     evt: message
//     path: /tmp/socket-
//   tcp:
//     port: 3000
//   udp:
//     host: 0.0.0.0
//     port: 3001
type AdapterConfig struct {
	Port int    `mapstructure:"port"`
	Path string `mapstructure:"path"` // ipc only: socket path prefix, the port is appended
	Evt  string `mapstructure:"evt"`  // event name reported with inbound messages
	Host string `mapstructure:"host"` // bind host, empty = all interfaces
}

// ConnectionConfig holds outbound settings for one transport under `connections`.
type ConnectionConfig struct {
	Port        int           `mapstructure:"port"` // used when a peer has no port of its own
	Path        string        `mapstructure:"path"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}
