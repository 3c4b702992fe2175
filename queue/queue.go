// Package queue carries stage jobs over NATS JetStream. A work-queue
// stream gives at-least-once delivery; the worker's Ack/Nak decisions
// encode the failure policy: business outcomes are final, infrastructure
// errors redeliver.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/draftforge/draftforge/pipeline"
)

// Config holds the queue topology settings.
type Config struct {
	Stream        string
	Consumer      string
	SubjectPrefix string
	MaxDeliver    int
	AckWait       time.Duration
}

// DefaultConfig returns the queue settings used when none are
// configured. AckWait is sized for an LLM round trip with retries.
func DefaultConfig() Config {
	return Config{
		Stream:        "DRAFTFORGE_JOBS",
		Consumer:      "draftforge-worker",
		SubjectPrefix: "draftforge.jobs",
		MaxDeliver:    5,
		AckWait:       15 * time.Minute,
	}
}

func (c Config) subject(stage pipeline.Stage) string {
	return fmt.Sprintf("%s.%s", c.SubjectPrefix, stage)
}

// EnsureStream creates or updates the work-queue stream carrying stage
// jobs.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg Config) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "Generation pipeline stage jobs",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Retention:   jetstream.WorkQueuePolicy,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", cfg.Stream, err)
	}
	return stream, nil
}

// Scheduler publishes stage jobs to the work queue. It implements
// pipeline.Scheduler.
type Scheduler struct {
	js  jetstream.JetStream
	cfg Config
}

// NewScheduler creates a Scheduler over a JetStream context.
func NewScheduler(js jetstream.JetStream, cfg Config) *Scheduler {
	return &Scheduler{js: js, cfg: cfg}
}

// Schedule publishes one job. The message ID derives from the job's
// identity, so the stream's dedup window suppresses the duplicate
// next-stage publishes a redelivered predecessor would otherwise emit.
func (s *Scheduler) Schedule(ctx context.Context, job pipeline.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = s.js.Publish(ctx, s.cfg.subject(job.Stage), data,
		jetstream.WithMsgID(jobMsgID(job)))
	if err != nil {
		return fmt.Errorf("publish %s job: %w", job.Stage, err)
	}
	return nil
}

func jobMsgID(job pipeline.Job) string {
	id := fmt.Sprintf("%s.%s", job.Stage, job.GenerationID)
	if job.DiagramKind != "" {
		id += "." + string(job.DiagramKind)
	}
	if job.TargetID != "" {
		id += "." + job.TargetID
	}
	return id
}
