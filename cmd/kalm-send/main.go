// kalm-send starts a short-lived node, sends one payload to a session on a
// remote node and prints the first reply.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"kalm/pkg/app"
	"kalm/pkg/config"
	"kalm/pkg/peers"
	"kalm/pkg/protocol"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config file (optional)")
	adapter := flag.String("adapter", "tcp", "transport: ipc|tcp|udp|quic")
	host := flag.String("host", "127.0.0.1", "remote host")
	port := flag.Int("port", 3000, "remote port")
	session := flag.String("session", "svc1", "session label of the remote service")
	payload := flag.String("payload", `{"hello":"kalm"}`, "JSON payload to send")
	wait := flag.Duration("wait", 5*time.Second, "how long to wait for a reply (0 = do not wait)")
	flag.Parse()

	var body any
	if err := json.Unmarshal([]byte(*payload), &body); err != nil {
		fatalf("payload is not JSON: %v", err)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	senderConfig(cfg, *adapter)

	node := app.New(cfg)
	ctx := context.Background()
	if err := node.Start(ctx); err != nil {
		fatalf("start: %v", err)
	}
	code := send(ctx, node, *session, protocol.Origin{Host: *host, Port: *port, Adapter: *adapter}, body, *wait)
	if err := node.Terminate(ctx); err != nil {
		zap.L().Warn("terminate", zap.Error(err))
	}
	os.Exit(code)
}

// senderConfig restricts cfg to the one transport used for sending. It
// listens on an ephemeral port so replies have somewhere to land.
func senderConfig(cfg *config.Config, adapter string) {
	ac := cfg.Adapters[adapter]
	ac.Port = 0
	if adapter == "ipc" {
		ac.Port = 40000 + os.Getpid()%20000
	}
	cfg.Adapters = map[string]config.AdapterConfig{adapter: ac}
	cc := cfg.Connections[adapter]
	cc.Port = 0
	cfg.Connections = map[string]config.ConnectionConfig{adapter: cc}
	_ = cfg.Validate()
}

func send(ctx context.Context, node *app.App, session string, to protocol.Origin, body any, wait time.Duration) int {
	replies := make(chan protocol.Envelope, 1)
	node.Peers().Handle(session, func(msg protocol.Envelope, _ peers.ReplyFunc) {
		select {
		case replies <- msg:
		default:
		}
	})

	p := node.Peers().Find(session, to, true)
	if err := node.Net().Send(ctx, p, body, nil); err != nil {
		fmt.Fprintf(os.Stderr, "send: %v\n", err)
		return 1
	}
	if wait <= 0 {
		return 0
	}
	select {
	case msg := <-replies:
		out, err := json.Marshal(msg.Payload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reply not printable as JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(out))
		return 0
	case <-time.After(wait):
		fmt.Fprintf(os.Stderr, "no reply from %s within %s\n", p, wait)
		return 2
	}
}

func fatalf(format string, a ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
