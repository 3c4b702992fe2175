// Package invalidate flags downstream artifacts stale when their upstream
// sources change. Invalidation is lazy: it only marks; regeneration
// happens through an explicit regenerate call or a regenerate-stale batch.
package invalidate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/draftforge/draftforge/metrics"
	"github.com/draftforge/draftforge/store"
)

// Tracker marks mockups stale when an active requirement or user story
// they derive from is saved. It is called explicitly by the store's
// update operations.
type Tracker struct {
	store   *store.Store
	logger  *slog.Logger
	metrics *metrics.Collector
}

// New creates a Tracker over the given store.
func New(s *store.Store, logger *slog.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{store: s, logger: logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMetrics wires Prometheus collectors.
func WithMetrics(c *metrics.Collector) Option {
	return func(t *Tracker) { t.metrics = c }
}

// SourceSaved implements store.InvalidationTracker. Every active mockup
// referencing the saved source — directly, or indirectly through a
// user story's owning requirement — gets needs_regeneration set and its
// last_associated_change stamped. Mockup version numbers are untouched.
func (t *Tracker) SourceSaved(ctx context.Context, src store.SourceRef, at time.Time) error {
	mockups, err := t.store.ListMockupsByProject(ctx, src.ProjectID)
	if err != nil {
		return fmt.Errorf("list mockups for %s: %w", src.ProjectID, err)
	}

	marked := 0
	for _, m := range mockups {
		if m.Lifecycle != store.LifecycleActive || !references(m, src) {
			continue
		}
		if err := t.store.MarkMockupStale(ctx, m.ID, at); err != nil {
			return fmt.Errorf("mark %s stale: %w", m.ID, err)
		}
		marked++
	}

	if marked > 0 {
		if t.metrics != nil {
			t.metrics.Invalidations.Add(float64(marked))
		}
		t.logger.Debug("Flagged stale mockups",
			"source", src.ID,
			"project_id", src.ProjectID,
			"marked", marked)
	}
	return nil
}

// references reports whether a mockup derives from the saved source.
func references(m *store.Mockup, src store.SourceRef) bool {
	switch src.Kind {
	case store.EntityTypeRequirement:
		return m.RequirementID == src.ID
	case store.EntityTypeUserStory:
		if m.UserStoryID == src.ID {
			return true
		}
		// A mockup tied to the story's owning requirement is downstream of
		// the story as well.
		return src.RequirementID != "" && m.RequirementID == src.RequirementID
	default:
		return false
	}
}
