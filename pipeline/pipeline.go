// Package pipeline orchestrates the five-stage generation chain that
// turns a project brief into requirements, user stories, a development
// plan, UML diagrams and UI mockups.
//
// Each stage runs as an independent job on an at-least-once queue. The
// pipeline owns the per-project state machine and is the single place
// that decides what runs next: stage executors report an outcome and
// never schedule work themselves.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge/draftforge/llm"
	"github.com/draftforge/draftforge/metrics"
	"github.com/draftforge/draftforge/store"
)

// Stage names one phase of the generation chain.
type Stage string

const (
	StageRequirements Stage = "requirements"
	StageUserStories  Stage = "user_stories"
	StagePlan         Stage = "development_plan"
	StageDiagrams     Stage = "uml_diagrams"
	StageMockups      Stage = "mockups"
)

// nextStage is the full-chain successor table. Mockups is terminal.
var nextStage = map[Stage]Stage{
	StageRequirements: StageUserStories,
	StageUserStories:  StagePlan,
	StagePlan:         StageDiagrams,
	StageDiagrams:     StageMockups,
}

// Job is one unit of stage work carried on the queue.
//
// Full runs regenerate everything of a kind for the project and chain
// into the next stage. Targeted runs (Full=false, TargetID set) operate
// on one entity and never chain. GenerationID is assigned when the job
// is first scheduled; entity keys derive from it, which is what makes
// redelivered jobs idempotent.
type Job struct {
	Stage        Stage             `json:"stage"`
	ProjectID    string            `json:"project_id"`
	GenerationID string            `json:"generation_id"`
	Full         bool              `json:"full"`
	TargetID     string            `json:"target_id,omitempty"`
	Feedback     string            `json:"feedback,omitempty"`
	DiagramKind  store.DiagramKind `json:"diagram_kind,omitempty"`
}

// Validate checks that a job carries enough to dispatch.
func (j Job) Validate() error {
	switch j.Stage {
	case StageRequirements, StageUserStories, StagePlan, StageDiagrams, StageMockups:
	default:
		return fmt.Errorf("unknown stage %q", j.Stage)
	}
	if j.ProjectID == "" {
		return errors.New("job missing project_id")
	}
	if j.GenerationID == "" {
		return errors.New("job missing generation_id")
	}
	if !j.Full && j.TargetID == "" && j.Stage != StagePlan {
		return fmt.Errorf("targeted %s job missing target_id", j.Stage)
	}
	if j.Stage == StageDiagrams && j.Full && j.DiagramKind == "" {
		return errors.New("diagram job missing diagram_kind")
	}
	return nil
}

// Scheduler enqueues stage jobs. The queue package implements it over
// JetStream; tests implement it with a slice.
type Scheduler interface {
	Schedule(ctx context.Context, job Job) error
}

// Client is the generation-client boundary the stage executors call.
type Client interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// StageModels maps each stage to the model identifier used for its
// generation calls.
type StageModels map[Stage]string

// Model returns the model for a stage, falling back to Default.
func (m StageModels) Model(s Stage) string {
	if model, ok := m[s]; ok && model != "" {
		return model
	}
	return m[Stage("default")]
}

// Pipeline sequences stage executors for projects and tracks per-project
// generation status.
type Pipeline struct {
	store     *store.Store
	client    Client
	scheduler Scheduler
	models    StageModels

	temperature *float64
	maxTokens   int

	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time
	newID   func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithMetrics wires Prometheus collectors.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = c }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithGenerationIDs overrides generation ID allocation, for tests.
func WithGenerationIDs(newID func() string) Option {
	return func(p *Pipeline) { p.newID = newID }
}

// WithSampling sets the temperature and token limit passed on every
// generation request.
func WithSampling(temperature *float64, maxTokens int) Option {
	return func(p *Pipeline) {
		p.temperature = temperature
		p.maxTokens = maxTokens
	}
}

// New creates a Pipeline over the given store, generation client and
// scheduler.
func New(s *store.Store, client Client, scheduler Scheduler, models StageModels, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     s,
		client:    client,
		scheduler: scheduler,
		models:    models,
		logger:    slog.Default(),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BusinessError marks a stage failure caused by the generation service
// or its output: upstream errors, malformed shapes, empty results,
// missing targets. Business failures are recorded on the owning entity's
// status fields and swallowed; the queue never retries them. Everything
// else (store or queue I/O) propagates and triggers redelivery.
type BusinessError struct {
	cause error
}

func (e *BusinessError) Error() string { return e.cause.Error() }
func (e *BusinessError) Unwrap() error { return e.cause }

func businessf(format string, args ...any) error {
	return &BusinessError{cause: fmt.Errorf(format, args...)}
}

// IsBusiness reports whether err is a swallowed-class stage failure.
func IsBusiness(err error) bool {
	var be *BusinessError
	return errors.As(err, &be)
}

// StartFullRun begins a fresh full-chain run for a project: the project
// moves to in_progress (re-entrant from completed or failed) and the
// Requirements stage is scheduled under a new generation ID. Returns the
// generation ID.
func (p *Pipeline) StartFullRun(ctx context.Context, projectID string) (string, error) {
	proj, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	proj.Generation.Start(p.now())
	if err := p.store.SaveProject(ctx, proj); err != nil {
		return "", err
	}

	genID := p.newID()
	job := Job{
		Stage:        StageRequirements,
		ProjectID:    projectID,
		GenerationID: genID,
		Full:         true,
	}
	if err := p.schedule(ctx, job); err != nil {
		return "", err
	}
	p.logger.Info("full generation run started", "project", projectID, "generation", genID)
	return genID, nil
}

// RegenerateStories schedules a targeted user-story regeneration for one
// requirement or one story, with optional feedback.
func (p *Pipeline) RegenerateStories(ctx context.Context, projectID, targetID, feedback string) error {
	return p.schedule(ctx, Job{
		Stage:        StageUserStories,
		ProjectID:    projectID,
		GenerationID: p.newID(),
		TargetID:     targetID,
		Feedback:     feedback,
	})
}

// RegenerateMockup schedules a targeted in-place regeneration of one
// mockup, with optional feedback.
func (p *Pipeline) RegenerateMockup(ctx context.Context, projectID, mockupID, feedback string) error {
	return p.schedule(ctx, Job{
		Stage:        StageMockups,
		ProjectID:    projectID,
		GenerationID: p.newID(),
		TargetID:     mockupID,
		Feedback:     feedback,
	})
}

// ScheduleStaleMockups schedules a targeted regeneration for every
// active mockup flagged by the invalidation tracker. Returns the number
// of jobs scheduled.
func (p *Pipeline) ScheduleStaleMockups(ctx context.Context, projectID string) (int, error) {
	stale, err := p.store.ListStaleMockups(ctx, projectID)
	if err != nil {
		return 0, err
	}
	for i, m := range stale {
		err := p.schedule(ctx, Job{
			Stage:        StageMockups,
			ProjectID:    projectID,
			GenerationID: p.newID(),
			TargetID:     m.ID,
		})
		if err != nil {
			return i, err
		}
	}
	return len(stale), nil
}

// Dispatch executes one stage job. It is the worker's entry point and
// the only place chaining decisions are made.
//
// A nil return means the job is done from the queue's perspective (the
// stage completed, or it failed for a business reason that was recorded
// on the owning entity). A non-nil return is an infrastructure error the
// worker should Nak for redelivery.
func (p *Pipeline) Dispatch(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		// A malformed payload never becomes valid; treat as business.
		p.logger.Error("invalid job", "error", err)
		p.countRun(job.Stage, metrics.OutcomeFailed)
		return nil
	}

	started := p.now()
	var err error
	switch job.Stage {
	case StageRequirements:
		err = p.runRequirements(ctx, job)
	case StageUserStories:
		err = p.runUserStories(ctx, job)
	case StagePlan:
		err = p.runPlan(ctx, job)
	case StageDiagrams:
		err = p.runDiagrams(ctx, job)
	case StageMockups:
		err = p.runMockups(ctx, job)
	}
	p.observeDuration(job.Stage, p.now().Sub(started))

	if err == nil {
		p.countRun(job.Stage, metrics.OutcomeCompleted)
		if job.Full {
			return p.advance(ctx, job)
		}
		return nil
	}

	if IsBusiness(err) {
		p.logger.Warn("stage failed",
			"stage", job.Stage, "project", job.ProjectID, "full", job.Full, "error", err)
		p.countRun(job.Stage, metrics.OutcomeFailed)
		if job.Full {
			if ferr := p.failProject(ctx, job.ProjectID, err.Error()); ferr != nil {
				return ferr
			}
		}
		return nil
	}

	p.countRun(job.Stage, metrics.OutcomeError)
	return fmt.Errorf("%s stage for %s: %w", job.Stage, job.ProjectID, err)
}

// advance schedules the successor of a successfully completed full-stage
// run. The diagrams stage fans out into one job per kind and fans back
// in here: only when all kinds of the generation are complete does
// exactly one finisher claim the transition to Mockups.
func (p *Pipeline) advance(ctx context.Context, job Job) error {
	switch job.Stage {
	case StagePlan:
		for _, kind := range store.DiagramKinds {
			next := Job{
				Stage:        StageDiagrams,
				ProjectID:    job.ProjectID,
				GenerationID: job.GenerationID,
				Full:         true,
				DiagramKind:  kind,
			}
			if err := p.schedule(ctx, next); err != nil {
				return err
			}
		}
		return nil

	case StageDiagrams:
		done, err := p.diagramsComplete(ctx, job.GenerationID)
		if err != nil {
			return err
		}
		if !done {
			return nil
		}
		won, err := p.store.ClaimDiagramChain(ctx, job.GenerationID)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
		return p.schedule(ctx, Job{
			Stage:        StageMockups,
			ProjectID:    job.ProjectID,
			GenerationID: job.GenerationID,
			Full:         true,
		})

	case StageMockups:
		return p.completeProject(ctx, job.ProjectID)

	default:
		return p.schedule(ctx, Job{
			Stage:        nextStage[job.Stage],
			ProjectID:    job.ProjectID,
			GenerationID: job.GenerationID,
			Full:         true,
		})
	}
}

func (p *Pipeline) diagramsComplete(ctx context.Context, generationID string) (bool, error) {
	diagrams, err := p.store.ListDiagramsByGeneration(ctx, generationID)
	if err != nil {
		return false, err
	}
	byKind := make(map[store.DiagramKind]bool, len(diagrams))
	for _, d := range diagrams {
		if d.Generation.Status == store.GenerationCompleted {
			byKind[d.Kind] = true
		}
	}
	for _, kind := range store.DiagramKinds {
		if !byKind[kind] {
			return false, nil
		}
	}
	return true, nil
}

func (p *Pipeline) schedule(ctx context.Context, job Job) error {
	if err := p.scheduler.Schedule(ctx, job); err != nil {
		return fmt.Errorf("schedule %s job: %w", job.Stage, err)
	}
	if p.metrics != nil {
		p.metrics.JobsScheduled.WithLabelValues(string(job.Stage)).Inc()
	}
	return nil
}

// completeProject marks the full chain finished. Completing is the
// terminal stage's final act after its entities are persisted.
func (p *Pipeline) completeProject(ctx context.Context, projectID string) error {
	proj, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	proj.Generation.Complete(p.now())
	if err := p.store.SaveProject(ctx, proj); err != nil {
		return err
	}
	p.logger.Info("generation run completed", "project", projectID)
	return nil
}

// failProject records a business failure on the project. Failing to
// record the failure is an infrastructure error: the job redelivers and
// tries the bookkeeping again.
func (p *Pipeline) failProject(ctx context.Context, projectID, cause string) error {
	proj, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	proj.Generation.Fail(p.now(), cause)
	return p.store.SaveProject(ctx, proj)
}

// beginProject ensures the project is in_progress for a full run. The
// trigger sets this too; setting it again here keeps redelivered and
// operator-retried jobs honest about what is running.
func (p *Pipeline) beginProject(ctx context.Context, job Job) (*store.Project, error) {
	proj, err := p.store.GetProject(ctx, job.ProjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, businessf("project %s not found", job.ProjectID)
		}
		return nil, err
	}
	if job.Full && proj.Generation.Status != store.GenerationInProgress {
		proj.Generation.Start(p.now())
		if err := p.store.SaveProject(ctx, proj); err != nil {
			return nil, err
		}
	}
	return proj, nil
}

// complete issues one generation request and returns the response
// content, classifying every client-side failure as business.
func (p *Pipeline) complete(ctx context.Context, stage Stage, prompt string, structured bool) (string, error) {
	resp, err := p.client.Complete(ctx, llm.Request{
		Model: p.models.Model(stage),
		Messages: []llm.Message{
			{Role: "user", Content: prompt},
		},
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
		Structured:  structured,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown or deadline, not a model verdict.
			return "", ctx.Err()
		}
		return "", businessf("generation request: %w", err)
	}
	if resp.Content == "" {
		return "", businessf("generation returned empty content")
	}
	return resp.Content, nil
}

func (p *Pipeline) countRun(stage Stage, outcome string) {
	if p.metrics != nil {
		p.metrics.StageRuns.WithLabelValues(string(stage), outcome).Inc()
	}
}

func (p *Pipeline) observeDuration(stage Stage, d time.Duration) {
	if p.metrics != nil {
		p.metrics.StageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	}
}

// actor recorded on history snapshots written by pipeline runs.
const pipelineActor = "pipeline"
