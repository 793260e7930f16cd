package transport

import (
	"net"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"kalm/pkg/config"
)

// BaseNames are the transports every build recognizes, in start order.
var BaseNames = []string{"ipc", "tcp", "udp"}

// Factory builds an adapter. conn carries the outbound settings of the
// transport (connections.<name>).
type Factory func(conn config.ConnectionConfig) Adapter

// Registry maps transport names to factories.
type Registry struct {
	mu   sync.RWMutex
	list map[string]Factory
}

func NewRegistry() *Registry { return &Registry{list: make(map[string]Factory)} }

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	zap.L().Debug("registering adapter", zap.String("adapter", name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list[name] = f
}

// Resolve returns the factory for name.
func (r *Registry) Resolve(name string) (Factory, bool) {
	r.mu.RLock()
	f, ok := r.list[name]
	r.mu.RUnlock()
	if !ok {
		zap.L().Debug("no adapter found", zap.String("adapter", name))
	}
	return f, ok
}

// Names returns registered names: BaseNames first, then the rest sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.list))
	seen := make(map[string]bool, len(r.list))
	for _, n := range BaseNames {
		if _, ok := r.list[n]; ok {
			out = append(out, n)
			seen[n] = true
		}
	}
	var rest []string
	for n := range r.list {
		if !seen[n] {
			rest = append(rest, n)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// DialAddress is the host:port to reach peer, falling back to loopback when
// the peer has no host and to the connection port when it has no port.
func DialAddress(peer Target, conn config.ConnectionConfig) string {
	o := peer.Origin()
	host := o.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := o.Port
	if port == 0 {
		port = conn.Port
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// PortOf extracts the port of a TCP or UDP address, 0 otherwise.
func PortOf(a net.Addr) int {
	switch v := a.(type) {
	case *net.TCPAddr:
		if v != nil {
			return v.Port
		}
		return 0
	case *net.UDPAddr:
		if v != nil {
			return v.Port
		}
		return 0
	case nil:
		return 0
	}
	if _, p, err := net.SplitHostPort(a.String()); err == nil {
		n, _ := strconv.Atoi(p)
		return n
	}
	return 0
}
