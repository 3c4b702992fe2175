package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/draftforge/draftforge/config"
	"github.com/draftforge/draftforge/metrics"
	"github.com/draftforge/draftforge/queue"
)

func serveCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the generation worker",
		Long: `Serve connects to NATS, ensures the job stream and entity buckets
exist, and consumes stage jobs until interrupted. When a metrics listen
address is configured, Prometheus metrics are served on /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(state)
		},
	}
}

func runServe(state *rootState) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := metrics.New(registry)

	a, err := newApp(ctx, state.cfg, state.logger, withMetrics(collector))
	if err != nil {
		return err
	}
	defer a.Close()

	workers := make([]*queue.Worker, 0, state.cfg.Queue.Workers)
	for i := 0; i < state.cfg.Queue.Workers; i++ {
		w := queue.NewWorker(a.queueConfig(), a.pipeline,
			queue.WithLogger(state.logger),
			queue.WithMetrics(collector))
		if err := w.Start(ctx, a.js); err != nil {
			return err
		}
		workers = append(workers, w)
	}
	defer func() {
		for _, w := range workers {
			w.Stop()
		}
	}()

	var metricsSrv *http.Server
	if state.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: state.cfg.Metrics.Listen, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				state.logger.Error("metrics server failed", "error", err)
			}
		}()
		state.logger.Info("metrics listening", "addr", state.cfg.Metrics.Listen)
	}

	// Hot-reload generation settings when the project config changes.
	// Topology changes (stream, buckets) still need a restart.
	if path := config.NewLoader(state.logger).FindProjectConfig(); path != "" {
		watcher, err := config.NewWatcher(path, func(cfg *config.Config) {
			state.cfg.Generation = cfg.Generation
		}, state.logger)
		if err != nil {
			state.logger.Warn("config watch unavailable", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	state.logger.Info("draftforge worker running",
		"nats", state.cfg.NATS.URL, "workers", len(workers))
	<-ctx.Done()
	state.logger.Info("shutting down")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("stop metrics server: %w", err)
		}
	}
	return nil
}
