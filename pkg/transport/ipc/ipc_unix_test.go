//go:build !windows

package ipc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kalm/pkg/config"
	"kalm/pkg/protocol"
	"kalm/pkg/transport"
)

type peer struct{ o protocol.Origin }

func (p peer) Label() string           { return "svc1" }
func (p peer) Origin() protocol.Origin { return p.o }

func TestSocketPath(t *testing.T) {
	if got := SocketPath("", 4001); got != "/tmp/socket-4001" {
		t.Fatalf("got %q", got)
	}
	if got := SocketPath("/run/kalm-", 7); got != "/run/kalm-7" {
		t.Fatalf("got %q", got)
	}
}

func TestIPCRoundTripReplacesStaleSocket(t *testing.T) {
	ctx := context.Background()
	prefix := filepath.Join(t.TempDir(), "s-")
	stale := SocketPath(prefix, 4001)
	if err := os.WriteFile(stale, nil, 0o600); err != nil {
		t.Fatalf("stale file: %v", err)
	}

	got := make(chan string, 1)
	srv := New(config.ConnectionConfig{})
	err := srv.Listen(ctx, config.AdapterConfig{Port: 4001, Path: prefix, Evt: "message"}, transport.HandlerFunc(func(r transport.Request) bool {
		got <- string(r.Data)
		return true
	}))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cli := New(config.ConnectionConfig{Path: prefix, DialTimeout: time.Second})
	defer func() {
		_ = cli.Stop(ctx)
		_ = srv.Stop(ctx)
	}()

	if _, err := cli.Send(ctx, peer{protocol.Origin{Port: 4001, Adapter: Name}}, []byte("hi"), nil); err != nil {
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

func TestIPCListenRefusesLiveEndpoint(t *testing.T) {
	ctx := context.Background()
	prefix := filepath.Join(t.TempDir(), "s-")
	h := transport.HandlerFunc(func(transport.Request) bool { return true })
	acfg := config.AdapterConfig{Port: 4101, Path: prefix}

	first := New(config.ConnectionConfig{})
	if err := first.Listen(ctx, acfg, h); err != nil {
		t.Fatalf("first listen: %v", err)
	}
	second := New(config.ConnectionConfig{})
	if err := second.Listen(ctx, acfg, h); !errors.Is(err, ErrInUse) {
		t.Fatalf("second listen on live endpoint: want ErrInUse, got %v", err)
	}
	_ = second.Stop(ctx)

	// the live listener keeps its socket file
	if _, err := os.Stat(SocketPath(prefix, 4101)); err != nil {
		t.Fatalf("socket file of the running listener: %v", err)
	}
	_ = first.Stop(ctx)
	if _, err := os.Stat(SocketPath(prefix, 4101)); !os.IsNotExist(err) {
		t.Fatalf("socket file left after stop: %v", err)
	}

	third := New(config.ConnectionConfig{})
	if err := third.Listen(ctx, acfg, h); err != nil {
		t.Fatalf("listen after the endpoint was released: %v", err)
	}
	_ = third.Stop(ctx)
}
