package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/draftforge/draftforge/metrics"
	"github.com/draftforge/draftforge/pipeline"
)

// Dispatcher is the pipeline surface the worker drives. A nil Dispatch
// return means the job is settled; an error means infrastructure failed
// and the job should redeliver.
type Dispatcher interface {
	Dispatch(ctx context.Context, job pipeline.Job) error
}

// Worker consumes stage jobs from the work queue and dispatches them
// into the pipeline.
type Worker struct {
	cfg        Config
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Collector

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

// WithMetrics wires Prometheus collectors.
func WithMetrics(c *metrics.Collector) WorkerOption {
	return func(w *Worker) { w.metrics = c }
}

// NewWorker creates a Worker that feeds jobs into dispatcher.
func NewWorker(cfg Config, dispatcher Dispatcher, opts ...WorkerOption) *Worker {
	w := &Worker{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start binds the durable consumer and launches the consume loop.
func (w *Worker) Start(ctx context.Context, js jetstream.JetStream) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("worker already started")
	}

	stream, err := EnsureStream(ctx, js, w.cfg)
	if err != nil {
		return err
	}
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       w.cfg.Consumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       w.cfg.AckWait,
		MaxDeliver:    w.cfg.MaxDeliver,
		FilterSubject: w.cfg.SubjectPrefix + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", w.cfg.Consumer, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true
	go w.consumeLoop(loopCtx, consumer)
	w.logger.Info("worker started", "stream", w.cfg.Stream, "consumer", w.cfg.Consumer)
	return nil
}

// Stop halts the consume loop and waits for the in-flight job to settle.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.cancel()
	<-w.done
	w.running = false
	w.logger.Info("worker stopped")
}

func (w *Worker) consumeLoop(ctx context.Context, consumer jetstream.Consumer) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("fetch failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		for msg := range msgs.Messages() {
			w.handleMessage(ctx, msg)
		}
		if err := msgs.Error(); err != nil && ctx.Err() == nil {
			w.logger.Error("fetch batch error", "error", err)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg jetstream.Msg) {
	var job pipeline.Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		// Poison message: redelivery cannot fix it.
		w.logger.Error("dropping undecodable job", "subject", msg.Subject(), "error", err)
		w.ack(msg)
		return
	}

	w.logger.Debug("job received",
		"stage", job.Stage, "project", job.ProjectID, "full", job.Full)
	err := w.dispatcher.Dispatch(ctx, job)
	if err == nil {
		// Completed or business-failed; either way the outcome is
		// recorded on the entity and the job is settled.
		w.ack(msg)
		return
	}
	if ctx.Err() != nil {
		// Shutdown race: give the job back immediately.
		w.nak(msg)
		return
	}

	w.logger.Error("job failed, redelivering",
		"stage", job.Stage, "project", job.ProjectID, "error", err)
	if w.metrics != nil {
		w.metrics.JobsRedeliver.Inc()
	}
	w.nak(msg)
}

func (w *Worker) ack(msg jetstream.Msg) {
	if err := msg.Ack(); err != nil {
		w.logger.Error("ack failed", "subject", msg.Subject(), "error", err)
	}
}

func (w *Worker) nak(msg jetstream.Msg) {
	if err := msg.Nak(); err != nil {
		w.logger.Error("nak failed", "subject", msg.Subject(), "error", err)
	}
}
