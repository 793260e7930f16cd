//go:build !windows

package ipc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"kalm/pkg/config"
	"kalm/pkg/transport"
	"kalm/pkg/transport/stream"
)

func endpoint(prefix string, port int) string { return SocketPath(prefix, port) }

// liveTimeout bounds the liveness check on an existing socket file.
const liveTimeout = 250 * time.Millisecond

func listen(ctx context.Context, cfg config.AdapterConfig) (stream.Listener, error) {
	path := endpoint(cfg.Path, cfg.Port)
	if err := clearStale(path); err != nil {
		return nil, err
	}
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	if ul, ok := l.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(true)
	}
	return stream.FromNet(l), nil
}

// clearStale removes the socket file at path unless a process still accepts
// on it.
func clearStale(path string) error {
	c, err := net.DialTimeout("unix", path, liveTimeout)
	if err == nil {
		_ = c.Close()
		return fmt.Errorf("%w: %s", ErrInUse, path)
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case errors.Is(err, syscall.ECONNREFUSED):
	default:
		return fmt.Errorf("check %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	zap.L().Debug("removed stale socket", zap.String("path", path))
	return nil
}

func dial(ctx context.Context, peer transport.Target, conn config.ConnectionConfig) (stream.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", address(peer, conn))
}
