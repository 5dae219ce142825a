// The API process: initializes the service graph and serves health and
// metrics. Request routing is mounted by the deployment-specific transport
// on top of the usecase services.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/GwonsooLee/argoitny-sub004/internal/app"
	"github.com/GwonsooLee/argoitny-sub004/internal/config"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	log := observability.SetupLogger(cfg)
	observability.InitMetrics()

	shutdownTracing, err := observability.SetupTracing(cfg)
	if err != nil {
		log.Error("failed to set up tracing", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observability.ContextWithLogger(ctx, log)

	a, err := app.Init(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", slog.Any("error", err))
		os.Exit(1)
	}
	defer a.Shutdown()

	log.Info("server started", slog.Int("port", cfg.Port))
	if err := a.ServeMetrics(ctx); err != nil {
		log.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("server stopped")
}
