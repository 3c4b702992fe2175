package store

import "time"

// GenerationStatus represents the lifecycle of an AI-generated artifact.
type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationInProgress GenerationStatus = "in_progress"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

// LifecycleStatus represents the editorial lifecycle of a versioned entity.
type LifecycleStatus string

const (
	LifecycleDraft     LifecycleStatus = "draft"
	LifecycleActive    LifecycleStatus = "active"
	LifecycleCompleted LifecycleStatus = "completed"
	LifecycleArchived  LifecycleStatus = "archived"
)

// editable reports whether an entity in this lifecycle state belongs to the
// current generation. Archived entities are never revised again.
func (s LifecycleStatus) editable() bool {
	return s == LifecycleDraft || s == LifecycleActive
}

// GenerationState is the status quadruple every generatable entity carries.
// Transitions must go through the methods below so the invariants hold:
// failed always carries an error message, completed always carries a
// completion timestamp.
type GenerationState struct {
	Status      GenerationStatus `json:"status"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Start moves the state to in_progress, stamping the start time and
// clearing any previous terminal outcome. Re-entrant: a fresh run may
// start over a completed or failed state.
func (g *GenerationState) Start(now time.Time) {
	g.Status = GenerationInProgress
	g.StartedAt = &now
	g.CompletedAt = nil
	g.Error = ""
}

// Complete moves the state to completed, stamping the completion time.
func (g *GenerationState) Complete(now time.Time) {
	g.Status = GenerationCompleted
	g.CompletedAt = &now
	g.Error = ""
}

// Fail moves the state to failed with a human-readable cause.
func (g *GenerationState) Fail(now time.Time, cause string) {
	if cause == "" {
		cause = "generation failed"
	}
	g.Status = GenerationFailed
	g.CompletedAt = &now
	g.Error = cause
}

// Terminal reports whether the state reached one of the two terminal
// outcomes.
func (g *GenerationState) Terminal() bool {
	return g.Status == GenerationCompleted || g.Status == GenerationFailed
}
