// Package commands implements the draftforge CLI.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/draftforge/draftforge/config"
	"github.com/draftforge/draftforge/invalidate"
	"github.com/draftforge/draftforge/llm"
	"github.com/draftforge/draftforge/metrics"
	"github.com/draftforge/draftforge/pipeline"
	"github.com/draftforge/draftforge/queue"
	"github.com/draftforge/draftforge/store"
)

// app bundles the wired runtime a command operates on.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	nc        *nats.Conn
	js        jetstream.JetStream
	store     *store.Store
	scheduler *queue.Scheduler
	pipeline  *pipeline.Pipeline
	metrics   *metrics.Collector
}

// appOption adjusts app construction.
type appOption func(*app)

// withMetrics wires Prometheus collectors; only the serve command
// registers them.
func withMetrics(c *metrics.Collector) appOption {
	return func(a *app) { a.metrics = c }
}

// newApp connects NATS, ensures storage and the job stream, and wires
// store, tracker, client and pipeline together.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...appOption) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}

	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("draftforge"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	a.nc = nc

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js

	a.store, err = store.NewStore(ctx, js)
	if err != nil {
		nc.Close()
		return nil, err
	}
	trackerOpts := []invalidate.Option{}
	if a.metrics != nil {
		trackerOpts = append(trackerOpts, invalidate.WithMetrics(a.metrics))
	}
	a.store.SetTracker(invalidate.New(a.store, logger, trackerOpts...))

	if _, err := queue.EnsureStream(ctx, js, a.queueConfig()); err != nil {
		nc.Close()
		return nil, err
	}
	a.scheduler = queue.NewScheduler(js, a.queueConfig())

	client := llm.NewClient(cfg.Generation.Endpoint, cfg.Generation.Provider,
		llm.WithLogger(logger),
		llm.WithHTTPClient(&http.Client{Timeout: cfg.Generation.Timeout}))

	temp := cfg.Generation.Temperature
	pipeOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithSampling(&temp, cfg.Generation.MaxTokens),
	}
	if a.metrics != nil {
		pipeOpts = append(pipeOpts, pipeline.WithMetrics(a.metrics))
	}
	a.pipeline = pipeline.New(a.store, client, a.scheduler, a.stageModels(), pipeOpts...)
	return a, nil
}

// Close drains the NATS connection.
func (a *app) Close() {
	if a.nc != nil {
		a.nc.Close()
	}
}

func (a *app) queueConfig() queue.Config {
	return queue.Config{
		Stream:        a.cfg.Queue.Stream,
		Consumer:      a.cfg.Queue.Consumer,
		SubjectPrefix: a.cfg.Queue.SubjectPrefix,
		MaxDeliver:    a.cfg.Queue.MaxDeliver,
		AckWait:       a.cfg.Queue.AckWait,
	}
}

func (a *app) stageModels() pipeline.StageModels {
	models := pipeline.StageModels{
		pipeline.Stage("default"): a.cfg.Generation.Default,
	}
	for stage, model := range a.cfg.Generation.Models {
		models[pipeline.Stage(stage)] = model
	}
	return models
}
