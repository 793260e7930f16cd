package app

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"kalm/pkg/config"
	"kalm/pkg/transport"
)

func testConfig(t *testing.T, acfg map[string]config.AdapterConfig) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Adapters = acfg
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	return cfg
}

func TestReadyFiresOnceWithTCPAndUDP(t *testing.T) {
	cfg := testConfig(t, map[string]config.AdapterConfig{
		"tcp": {Host: "127.0.0.1"},
		"udp": {Host: "127.0.0.1"},
	})
	a := New(cfg, WithLogger(zap.NewNop()))
	var fired atomic.Int32
	a.OnReady(func() { fired.Add(1) })

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Terminate(context.Background())

	select {
	case <-a.Ready():
	case <-time.After(time.Second):
		t.Fatalf("ready channel not closed")
	}
	if fired.Load() != 1 {
		t.Fatalf("ready fired %d times", fired.Load())
	}
	if got := a.Net().Adapters(); len(got) != 2 || got[0] != "tcp" || got[1] != "udp" {
		t.Fatalf("adapters: %v", got)
	}
	if a.Peers() == nil || a.Codec().Name() != "msg-pack" || a.System().Location != "127.0.0.1" {
		t.Fatalf("components not built")
	}

	var late atomic.Int32
	a.OnReady(func() { late.Add(1) })
	if late.Load() != 1 {
		t.Fatalf("observer added after ready did not run")
	}
	if err := a.Start(context.Background()); !errors.Is(err, ErrStarted) {
		t.Fatalf("second start: %v", err)
	}
}

func TestStartStopsAtFailedStep(t *testing.T) {
	cfg := testConfig(t, nil)
	cfg.Encoder = "morse"
	a := New(cfg, WithLogger(zap.NewNop()))
	var fired atomic.Int32
	a.OnReady(func() { fired.Add(1) })
	if err := a.Start(context.Background()); err == nil {
		t.Fatalf("expected unknown encoder error")
	}
	if fired.Load() != 0 || a.System() != nil || a.Net() != nil {
		t.Fatalf("chain advanced past failed step")
	}
	if err := a.Terminate(context.Background()); err != nil {
		t.Fatalf("terminate after failed start: %v", err)
	}
}

type stopCounter struct {
	name   string
	stops  atomic.Int32
	block  chan struct{}
	listen func()
}

func (s *stopCounter) Name() string   { return s.name }
func (s *stopCounter) Addr() net.Addr { return nil }
func (s *stopCounter) Listen(context.Context, config.AdapterConfig, transport.Handler) error {
	if s.listen != nil {
		s.listen()
	}
	return nil
}
func (s *stopCounter) CreateClient(context.Context, transport.Target) (transport.Socket, error) {
	return nil, errors.New("unused")
}
func (s *stopCounter) Send(context.Context, transport.Target, []byte, transport.Socket) (transport.Socket, error) {
	return nil, errors.New("unused")
}
func (s *stopCounter) Stop(ctx context.Context) error {
	s.stops.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func registryOf(as ...*stopCounter) *transport.Registry {
	r := transport.NewRegistry()
	for _, a := range as {
		r.Register(a.name, func(config.ConnectionConfig) transport.Adapter { return a })
	}
	return r
}

func TestTerminateWithoutNet(t *testing.T) {
	a := New(testConfig(t, nil), WithLogger(zap.NewNop()))
	var shut atomic.Int32
	a.OnShutdown(func() { shut.Add(1) })
	start := time.Now()
	if err := a.Terminate(context.Background()); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("terminate without adapters waited")
	}
	_ = a.Terminate(context.Background())
	if shut.Load() != 1 {
		t.Fatalf("shutdown fired %d times", shut.Load())
	}
}

func TestTerminateStopsEveryAdapterOnce(t *testing.T) {
	one, two := &stopCounter{name: "tcp"}, &stopCounter{name: "udp"}
	cfg := testConfig(t, map[string]config.AdapterConfig{"tcp": {}, "udp": {}})
	a := New(cfg, WithLogger(zap.NewNop()), WithTransports(registryOf(one, two)))
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Terminate(context.Background()); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if err := a.Terminate(context.Background()); err != nil {
		t.Fatalf("second terminate: %v", err)
	}
	if one.stops.Load() != 1 || two.stops.Load() != 1 {
		t.Fatalf("stops: tcp=%d udp=%d", one.stops.Load(), two.stops.Load())
	}
}

func TestTerminateTimesOut(t *testing.T) {
	stuck := &stopCounter{name: "tcp", block: make(chan struct{})}
	defer close(stuck.block)
	cfg := testConfig(t, map[string]config.AdapterConfig{"tcp": {}})
	cfg.ShutdownTimeout = 50 * time.Millisecond
	a := New(cfg, WithLogger(zap.NewNop()), WithTransports(registryOf(stuck)))
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Terminate(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline error, got %v", err)
	}
}

func waitStops(t *testing.T, s *stopCounter, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.stops.Load() != want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.stops.Load(); got != want {
		t.Fatalf("stops: got %d want %d", got, want)
	}
}

func TestCancelDuringNetStepStopsAdapters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tcp := &stopCounter{name: "tcp", listen: cancel}
	cfg := testConfig(t, map[string]config.AdapterConfig{"tcp": {}})
	a := New(cfg, WithLogger(zap.NewNop()), WithTransports(registryOf(tcp)))

	if err := a.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("want canceled, got %v", err)
	}
	waitStops(t, tcp, 1)
	if a.Net() != nil {
		t.Fatalf("net published after cancellation")
	}
	if err := a.Terminate(context.Background()); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := tcp.stops.Load(); got != 1 {
		t.Fatalf("adapter stopped %d times", got)
	}
}

func TestTerminateDuringNetStepStopsAdapters(t *testing.T) {
	entered, release := make(chan struct{}), make(chan struct{})
	tcp := &stopCounter{name: "tcp", listen: func() {
		close(entered)
		<-release
	}}
	cfg := testConfig(t, map[string]config.AdapterConfig{"tcp": {}})
	a := New(cfg, WithLogger(zap.NewNop()), WithTransports(registryOf(tcp)))

	errc := make(chan error, 1)
	go func() { errc <- a.Start(context.Background()) }()
	<-entered
	if err := a.Terminate(context.Background()); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	close(release)

	select {
	case err := <-errc:
		if !errors.Is(err, ErrTerminated) {
			t.Fatalf("want ErrTerminated, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("start did not return")
	}
	waitStops(t, tcp, 1)
	if a.Net() != nil {
		t.Fatalf("net published after terminate")
	}
}
