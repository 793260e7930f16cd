package mem

import (
	"context"
	"errors"
	"testing"
	"time"

	"kalm/pkg/config"
	"kalm/pkg/protocol"
	"kalm/pkg/transport"
)

type peer struct{ o protocol.Origin }

func (p peer) Label() string           { return "svc1" }
func (p peer) Origin() protocol.Origin { return p.o }

func TestMemRoundTrip(t *testing.T) {
	ctx := context.Background()
	got := make(chan string, 1)
	srv := New(config.ConnectionConfig{})
	err := srv.Listen(ctx, config.AdapterConfig{}, transport.HandlerFunc(func(r transport.Request) bool {
		got <- string(r.Data)
		return true
	}))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cli := New(config.ConnectionConfig{})
	defer func() {
		_ = cli.Stop(ctx)
		_ = srv.Stop(ctx)
	}()

	port := transport.PortOf(srv.Addr())
	if port < firstEphemeral {
		t.Fatalf("ephemeral port: %d", port)
	}
	if _, err := cli.Send(ctx, peer{protocol.Origin{Port: port, Adapter: Name}}, []byte("hi"), nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case s := <-got:
		if s != "hi" {
			t.Fatalf("got %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout")
	}
}

func TestMemPortInUseAndRelease(t *testing.T) {
	ctx := context.Background()
	h := transport.HandlerFunc(func(transport.Request) bool { return true })
	a := New(config.ConnectionConfig{})
	if err := a.Listen(ctx, config.AdapterConfig{Port: 7001}, h); err != nil {
		t.Fatalf("listen: %v", err)
	}
	b := New(config.ConnectionConfig{})
	if err := b.Listen(ctx, config.AdapterConfig{Port: 7001}, h); !errors.Is(err, ErrPortInUse) {
		t.Fatalf("want ErrPortInUse, got %v", err)
	}
	_ = a.Stop(ctx)
	if _, err := b.CreateClient(ctx, peer{protocol.Origin{Port: 7001, Adapter: Name}}); !errors.Is(err, ErrNoListener) {
		t.Fatalf("want ErrNoListener, got %v", err)
	}
	if err := b.Listen(ctx, config.AdapterConfig{Port: 7001}, h); err != nil {
		t.Fatalf("port not released: %v", err)
	}
	_ = b.Stop(ctx)
}
