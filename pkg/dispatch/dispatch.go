// Package dispatch is the messaging core of a node. A Dispatcher owns the
// running transport adapters, wraps outbound payloads in envelopes and
// routes inbound envelopes to the handlers of the peer that sent them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kalm/pkg/codec"
	"kalm/pkg/config"
	"kalm/pkg/metrics"
	"kalm/pkg/peers"
	"kalm/pkg/system"
	"kalm/pkg/transport"
)

// ErrUnknownTransport is returned when a peer names a transport that is not
// running on this node.
var ErrUnknownTransport = errors.New("unknown type")

// Dispatcher is safe for concurrent use once Start has returned.
type Dispatcher struct {
	cfg   *config.Config
	sys   *system.Info
	codec codec.Codec
	reg   *transport.Registry

	mu       sync.RWMutex
	adapters map[string]transport.Adapter
	order    []string

	peers atomic.Pointer[peers.Registry]
	stats counters
}

var (
	_ transport.Handler = (*Dispatcher)(nil)
	_ peers.Connector   = (*Dispatcher)(nil)
)

// New builds a Dispatcher. reg supplies the adapter factories; nothing is
// started until Start.
func New(cfg *config.Config, sys *system.Info, c codec.Codec, reg *transport.Registry) *Dispatcher {
	return &Dispatcher{cfg: cfg, sys: sys, codec: c, reg: reg, adapters: make(map[string]transport.Adapter)}
}

// AttachPeers sets the registry inbound messages are routed through. Until it
// is attached every routable message is dropped.
func (d *Dispatcher) AttachPeers(r *peers.Registry) { d.peers.Store(r) }

// Peers returns the attached registry, nil if none.
func (d *Dispatcher) Peers() *peers.Registry { return d.peers.Load() }

// enabled returns the registered transport names that are configured, in
// registry order. Configured names without a factory are logged and skipped.
func (d *Dispatcher) enabled() []string {
	var names []string
	known := make(map[string]bool)
	for _, n := range d.reg.Names() {
		known[n] = true
		if _, ok := d.cfg.Adapters[n]; ok {
			names = append(names, n)
		}
	}
	for n := range d.cfg.Adapters {
		if !known[n] {
			zap.L().Warn("no adapter registered for configured transport", zap.String("adapter", n))
		}
	}
	return names
}

// Start instantiates and starts every configured adapter concurrently and
// returns once all of them listen. On failure the adapters already started
// are stopped and the first error is returned.
func (d *Dispatcher) Start(ctx context.Context) error {
	names := d.enabled()
	built := make(map[string]transport.Adapter, len(names))
	for _, n := range names {
		f, _ := d.reg.Resolve(n)
		built[n] = f(d.cfg.Connections[n])
	}
	d.mu.Lock()
	d.adapters, d.order = built, names
	d.mu.Unlock()

	sctx := ctx
	if d.cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, d.cfg.StartupTimeout)
		defer cancel()
	}
	g, gctx := errgroup.WithContext(sctx)
	for _, n := range names {
		a, acfg := built[n], d.cfg.Adapters[n]
		g.Go(func() error {
			errc := make(chan error, 1)
			go func() { errc <- a.Listen(gctx, acfg, d) }()
			select {
			case err := <-errc:
				if err != nil {
					return fmt.Errorf("start %s: %w", n, err)
				}
				return nil
			case <-gctx.Done():
				return fmt.Errorf("start %s: %w", n, gctx.Err())
			}
		})
	}
	if err := g.Wait(); err != nil {
		zap.L().Error("adapter start failed", zap.Error(err))
		stopCtx, cancel := context.WithTimeout(context.Background(), d.shutdownTimeout())
		defer cancel()
		_ = d.Stop(stopCtx)
		d.mu.Lock()
		d.adapters, d.order = make(map[string]transport.Adapter), nil
		d.mu.Unlock()
		return err
	}
	metrics.SetAdaptersActive(len(names))
	zap.L().Info("adapters ready", zap.Strings("adapters", names))
	return nil
}

// Stop stops every adapter concurrently and waits for all of them or ctx.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.RLock()
	list := make(map[string]transport.Adapter, len(d.adapters))
	for n, a := range d.adapters {
		list[n] = a
	}
	d.mu.RUnlock()

	var g errgroup.Group
	for n, a := range list {
		g.Go(func() error {
			errc := make(chan error, 1)
			go func() { errc <- a.Stop(ctx) }()
			select {
			case err := <-errc:
				if err != nil {
					return fmt.Errorf("stop %s: %w", n, err)
				}
				zap.L().Debug("adapter stopped", zap.String("adapter", n))
				return nil
			case <-ctx.Done():
				return fmt.Errorf("stop %s: %w", n, ctx.Err())
			}
		})
	}
	err := g.Wait()
	metrics.SetAdaptersActive(0)
	return err
}

func (d *Dispatcher) shutdownTimeout() time.Duration {
	if d.cfg.ShutdownTimeout > 0 {
		return d.cfg.ShutdownTimeout
	}
	return 5 * time.Second
}

// Adapter returns the running adapter for name.
func (d *Dispatcher) Adapter(name string) (transport.Adapter, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.adapters[name]
	return a, ok
}

// Adapters lists running adapter names in start order.
func (d *Dispatcher) Adapters() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.order...)
}

// CreateClient opens a socket to p on its transport.
func (d *Dispatcher) CreateClient(ctx context.Context, p *peers.Peer) (transport.Socket, error) {
	a, ok := d.Adapter(p.Adapter())
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTransport, p.Adapter())
	}
	return a.CreateClient(ctx, p)
}
