package main

import (
	"context"
	"errors"
	_ "expvar"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"kalm/pkg/app"
	"kalm/pkg/config"
	"kalm/pkg/observability"
	"kalm/pkg/peers"
	"kalm/pkg/protocol"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node := app.New(cfg)
	node.OnShutdown(func() { zap.L().Info("shutting down") })
	if err := node.Start(ctx); err != nil {
		_, _ = os.Stderr.WriteString("failed to start: " + err.Error() + "\n")
		_ = node.Terminate(context.Background())
		return 1
	}
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	for _, label := range opts.Echo {
		node.Peers().Handle(label, echo)
		zap.L().Info("echo handler", zap.String("session", label))
	}

	err = config.Watch(opts.ConfigPath, func(c *config.Config, err error) {
		if err != nil {
			zap.L().Warn("config reload failed", zap.Error(err))
			return
		}
		if err := observability.SetLevel(c.Log.Level); err != nil {
			zap.L().Warn("log level not applied", zap.Error(err))
			return
		}
		zap.L().Info("log level applied", zap.String("level", c.Log.Level))
	})
	switch {
	case errors.Is(err, config.ErrNoConfigFile):
		zap.L().Debug("no config file to watch")
	case err != nil:
		zap.L().Warn("config watch disabled", zap.Error(err))
	}

	if opts.MetricsAddr != "" {
		srv := &http.Server{Addr: opts.MetricsAddr}
		node.OnShutdown(func() { _ = srv.Close() })
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zap.L().Warn("metrics server", zap.Error(err))
			}
		}()
		zap.L().Info("metrics", zap.String("addr", opts.MetricsAddr))
	}

	zap.L().Info("node is running; press Ctrl+C to exit")
	<-ctx.Done()
	stop()

	if err := node.Terminate(context.Background()); err != nil {
		_, _ = os.Stderr.WriteString("shutdown incomplete: " + err.Error() + "\n")
		return 1
	}
	return 0
}

// echo answers every message with its own payload.
func echo(msg protocol.Envelope, reply peers.ReplyFunc) {
	if err := reply(context.Background(), msg.Payload); err != nil {
		zap.L().Warn("echo reply failed", zap.String("session", msg.Meta.SessionID), zap.Error(err))
	}
}
