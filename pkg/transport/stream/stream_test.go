package stream

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"kalm/pkg/config"
	"kalm/pkg/protocol"
	"kalm/pkg/transport"
)

type peer struct{ o protocol.Origin }

func (p peer) Label() string           { return "svc1" }
func (p peer) Origin() protocol.Origin { return p.o }

func loopback(conn config.ConnectionConfig) *Adapter {
	return New(Options{
		Name: "tcp",
		Listen: func(ctx context.Context, cfg config.AdapterConfig) (Listener, error) {
			var lc net.ListenConfig
			l, err := lc.Listen(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port)))
			if err != nil {
				return nil, err
			}
			return FromNet(l), nil
		},
		Dial: func(ctx context.Context, p transport.Target, conn config.ConnectionConfig) (Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", transport.DialAddress(p, conn))
		},
		Conn: conn,
	})
}

func stopAll(t *testing.T, as ...*Adapter) {
	t.Helper()
	for _, a := range as {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.Stop(ctx); err != nil {
			t.Errorf("stop: %v", err)
		}
		cancel()
	}
}

func TestRequestReplyOnSameConnection(t *testing.T) {
	ctx := context.Background()
	srv := loopback(config.ConnectionConfig{})
	err := srv.Listen(ctx, config.AdapterConfig{Evt: "message"}, transport.HandlerFunc(func(r transport.Request) bool {
		if r.Event != "message" || r.Adapter != "tcp" {
			t.Errorf("request fields: %+v", r)
		}
		_ = r.Socket.SendBytes(append([]byte("re:"), r.Data...))
		return true
	}))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	replies := make(chan string, 1)
	cli := loopback(config.ConnectionConfig{DialTimeout: time.Second})
	err = cli.Listen(ctx, config.AdapterConfig{}, transport.HandlerFunc(func(r transport.Request) bool {
		replies <- string(r.Data)
		return true
	}))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer stopAll(t, srv, cli)

	target := peer{protocol.Origin{Host: "127.0.0.1", Port: transport.PortOf(srv.Addr()), Adapter: "tcp"}}
	sock, err := cli.Send(ctx, target, []byte("ping"), nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case got := <-replies:
		if got != "re:ping" {
			t.Fatalf("reply: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for reply")
	}

	again, err := cli.Send(ctx, target, []byte("ping"), nil)
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if again != sock {
		t.Fatalf("client socket not reused")
	}
	<-replies
}

func TestConcurrentCreateClientSharesDial(t *testing.T) {
	ctx := context.Background()
	srv := loopback(config.ConnectionConfig{})
	if err := srv.Listen(ctx, config.AdapterConfig{}, transport.HandlerFunc(func(transport.Request) bool { return true })); err != nil {
		t.Fatalf("listen: %v", err)
	}
	cli := loopback(config.ConnectionConfig{})
	defer stopAll(t, srv, cli)

	target := peer{protocol.Origin{Host: "127.0.0.1", Port: transport.PortOf(srv.Addr()), Adapter: "tcp"}}
	var wg sync.WaitGroup
	socks := make([]transport.Socket, 8)
	for i := range socks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := cli.CreateClient(ctx, target)
			if err != nil {
				t.Errorf("create client: %v", err)
			}
			socks[i] = s
		}(i)
	}
	wg.Wait()
	for _, s := range socks[1:] {
		if s != socks[0] {
			t.Fatalf("expected one shared socket")
		}
	}
	if _, out := cli.Connections(); out != 1 {
		t.Fatalf("outbound connections: %d", out)
	}
}

func TestCreateClientMismatch(t *testing.T) {
	a := loopback(config.ConnectionConfig{})
	defer stopAll(t, a)
	_, err := a.CreateClient(context.Background(), peer{protocol.Origin{Adapter: "udp"}})
	if !errors.Is(err, transport.ErrTransportMismatch) {
		t.Fatalf("want mismatch, got %v", err)
	}
}

func TestStopIsIdempotentAndFinal(t *testing.T) {
	ctx := context.Background()
	a := loopback(config.ConnectionConfig{})
	if err := a.Listen(ctx, config.AdapterConfig{}, transport.HandlerFunc(func(transport.Request) bool { return true })); err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := a.Addr().String()
	stopAll(t, a, a)

	if _, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		t.Fatalf("listener still accepting after stop")
	}
	_, err := a.Send(ctx, peer{protocol.Origin{Port: 1, Adapter: "tcp"}}, []byte("x"), nil)
	if !errors.Is(err, transport.ErrAdapterStopped) {
		t.Fatalf("send after stop: %v", err)
	}
	if err := a.Listen(ctx, config.AdapterConfig{}, nil); !errors.Is(err, transport.ErrAdapterStopped) {
		t.Fatalf("listen after stop: %v", err)
	}
}
