// Package app assembles a node: it builds the components in dependency
// order, announces readiness once all of them are up and stops every
// transport on termination.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"kalm/pkg/codec"
	"kalm/pkg/config"
	"kalm/pkg/dispatch"
	"kalm/pkg/observability"
	"kalm/pkg/peers"
	"kalm/pkg/system"
	"kalm/pkg/transport"
	"kalm/pkg/transport/adapters"
)

// ErrStarted is returned by a second call to Start.
var ErrStarted = errors.New("app: already started")

// ErrTerminated is returned by Start when Terminate ran before the adapters
// came up.
var ErrTerminated = errors.New("app: terminated during start")

// App is one running node.
type App struct {
	cfg        *config.Config
	transports *transport.Registry
	logger     *zap.Logger

	mu          sync.RWMutex
	started     bool
	terminating bool
	codec   codec.Codec
	sys     *system.Info
	net     *dispatch.Dispatcher
	peers   *peers.Registry

	ready    Signal
	shutdown Signal
	readyCh  chan struct{}

	termOnce sync.Once
	termErr  error
}

// Option customizes an App.
type Option func(*App)

// WithTransports replaces the builtin adapter registry.
func WithTransports(r *transport.Registry) Option {
	return func(a *App) { a.transports = r }
}

// WithLogger installs l as the global logger instead of building one from
// the log configuration.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) { a.logger = l }
}

func New(cfg *config.Config, opts ...Option) *App {
	a := &App{cfg: cfg, readyCh: make(chan struct{})}
	for _, o := range opts {
		o(a)
	}
	if a.transports == nil {
		a.transports = adapters.Builtin()
	}
	a.ready.Add(func() { close(a.readyCh) })
	return a
}

// Start builds every component in order: codecs, system info, logging, the
// dispatcher with its adapters, then the peer registry. Readiness fires after
// the last one. The chain is bounded by startup_timeout.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrStarted
	}
	a.started = true
	a.mu.Unlock()

	if a.cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.StartupTimeout)
		defer cancel()
	}
	seq := NewSequencer(
		Step{Name: "utils", Run: a.startCodec},
		Step{Name: "system", Run: a.startSystem},
		Step{Name: "console", Run: a.startLogger},
		Step{Name: "net", Run: a.startNet},
		Step{Name: "peers", Run: a.startPeers},
	)
	if err := seq.Run(ctx); err != nil {
		return err
	}
	zap.L().Info("node ready",
		zap.String("app", a.cfg.AppName),
		zap.String("environment", a.cfg.Environment),
		zap.Strings("adapters", a.Net().Adapters()))
	a.ready.Dispatch()
	return nil
}

func (a *App) startCodec(context.Context) error {
	r, err := codec.NewRegistry()
	if err != nil {
		return err
	}
	c, err := r.Get(a.cfg.Encoder)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.codec = c
	a.mu.Unlock()
	return nil
}

func (a *App) startSystem(context.Context) error {
	info := system.Detect(a.cfg.Host)
	a.mu.Lock()
	a.sys = info
	a.mu.Unlock()
	return nil
}

func (a *App) startLogger(context.Context) error {
	if a.logger != nil {
		zap.ReplaceGlobals(a.logger)
		return nil
	}
	l, err := observability.SetupLogger(a.cfg.Log)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.logger = l
	a.mu.Unlock()
	return nil
}

func (a *App) startNet(ctx context.Context) error {
	a.mu.RLock()
	d := dispatch.New(a.cfg, a.sys, a.codec, a.transports)
	a.mu.RUnlock()
	if err := d.Start(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	err := ctx.Err()
	if err == nil && a.terminating {
		err = ErrTerminated
	}
	if err == nil {
		a.net = d
	}
	a.mu.Unlock()
	if err != nil {
		// Start was abandoned or Terminate already ran.
		stopCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		if serr := d.Stop(stopCtx); serr != nil {
			zap.L().Error("stop abandoned adapters", zap.Error(serr))
		}
		return err
	}
	return nil
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.ShutdownTimeout > 0 {
		return a.cfg.ShutdownTimeout
	}
	return 5 * time.Second
}

func (a *App) startPeers(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.peers = peers.NewRegistry(a.net)
	a.net.AttachPeers(a.peers)
	return nil
}

// Terminate fires the shutdown signal and stops all adapters concurrently,
// bounded by shutdown_timeout. Only the first call does work; later calls
// return the same result.
func (a *App) Terminate(ctx context.Context) error {
	a.termOnce.Do(func() {
		a.shutdown.Dispatch()
		a.mu.Lock()
		a.terminating = true
		n := a.net
		a.mu.Unlock()
		if n == nil {
			zap.L().Info("terminated", zap.Int("adapters", 0))
			return
		}
		if a.cfg.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.cfg.ShutdownTimeout)
			defer cancel()
		}
		a.termErr = n.Stop(ctx)
		if a.termErr != nil {
			zap.L().Error("terminate", zap.Error(a.termErr))
		} else {
			zap.L().Info("terminated", zap.Int("adapters", len(n.Adapters())))
		}
		if l := a.Logger(); l != nil {
			_ = l.Sync()
		}
	})
	return a.termErr
}

// OnReady registers fn to run once the node is ready.
func (a *App) OnReady(fn func()) { a.ready.Add(fn) }

// OnShutdown registers fn to run when Terminate starts.
func (a *App) OnShutdown(fn func()) { a.shutdown.Add(fn) }

// Ready is closed once the node is ready.
func (a *App) Ready() <-chan struct{} { return a.readyCh }

func (a *App) Config() *config.Config { return a.cfg }

func (a *App) Codec() codec.Codec {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.codec
}

func (a *App) System() *system.Info {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sys
}

func (a *App) Logger() *zap.Logger {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.logger
}

// Net returns the dispatcher, nil until the net step completed.
func (a *App) Net() *dispatch.Dispatcher {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.net
}

// Peers returns the peer registry, nil until the node is ready.
func (a *App) Peers() *peers.Registry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.peers
}
