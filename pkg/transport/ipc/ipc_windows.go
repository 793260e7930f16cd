//go:build windows

package ipc

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/Microsoft/go-winio"

	"kalm/pkg/config"
	"kalm/pkg/transport"
	"kalm/pkg/transport/stream"
)

// endpoint maps the unix style prefix onto the pipe namespace.
func endpoint(prefix string, port int) string {
	if prefix == "" {
		prefix = DefaultPath
	}
	return `\\.\pipe\` + filepath.Base(filepath.ToSlash(prefix)) + strconv.Itoa(port)
}

func listen(_ context.Context, cfg config.AdapterConfig) (stream.Listener, error) {
	l, err := winio.ListenPipe(endpoint(cfg.Path, cfg.Port), nil)
	if err != nil {
		return nil, err
	}
	return stream.FromNet(l), nil
}

func dial(ctx context.Context, peer transport.Target, conn config.ConnectionConfig) (stream.Conn, error) {
	return winio.DialPipeContext(ctx, address(peer, conn))
}
