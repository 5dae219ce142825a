package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

const reapBatchSize = 500

// RunOrphanScheduler enqueues the recovery sweep on a fixed interval until
// ctx is canceled. Every worker process runs one; the sweep itself is
// idempotent, so overlapping enqueues are harmless.
func (a *App) RunOrphanScheduler(ctx context.Context) {
	interval := a.Cfg.OrphanRecoveryInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload := domain.RecoverOrphansPayload{
				ThresholdSeconds: int64(a.Cfg.OrphanRecoveryThreshold.Seconds()),
			}
			if _, err := a.Broker.Enqueue(ctx, domain.QueueMaintenance, domain.TaskRecoverOrphans,
				payload, domain.EnqueueOptions{}); err != nil {
				a.Log.Error("failed to schedule orphan recovery", slog.Any("error", err))
			}
		}
	}
}

// RunTTLReaper deletes expired ledger rows in batches on the configured
// interval. Reads already filter expired rows, so the reaper only reclaims
// space.
func (a *App) RunTTLReaper(ctx context.Context) {
	ticker := time.NewTicker(a.Cfg.UsageReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := int64(0)
			for {
				n, err := a.Table.ReapExpired(ctx, reapBatchSize)
				if err != nil {
					a.Log.Error("ttl reap failed", slog.Any("error", err))
					break
				}
				total += n
				if n < reapBatchSize {
					break
				}
			}
			if total > 0 {
				a.Log.Info("expired rows reaped", slog.Int64("rows", total))
			}
		}
	}
}

// ServeMetrics exposes /metrics and /healthz until ctx is canceled.
func (a *App) ServeMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Pool.Ping(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := a.Redis.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "cache unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Cfg.WorkerMetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("op=app.serve_metrics: %w", err)
	}
	return nil
}
