package invalidate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/invalidate"
	"github.com/draftforge/draftforge/store"
	"github.com/draftforge/draftforge/store/storetest"
)

// fixture wires a store with the tracker attached and a populated
// requirement → story → mockup slice of one project.
type fixture struct {
	store   *store.Store
	req     *store.Requirement
	otherRq *store.Requirement
	story   *store.UserStory
	mockup  *store.Mockup
	other   *store.Mockup
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := storetest.New()
	s.SetTracker(invalidate.New(s, nil))

	f := &fixture{store: s}

	f.req = &store.Requirement{
		ID:           store.RequirementEntityID("gen-1", 0),
		ProjectID:    "project:p1",
		GenerationID: "gen-1",
		Title:        "Login",
		Body:         "Users can sign in.",
		Category:     store.CategoryFunctional,
		Type:         store.TypeFeature,
	}
	require.NoError(t, s.CreateRequirement(ctx, f.req))

	f.otherRq = &store.Requirement{
		ID:           store.RequirementEntityID("gen-1", 1),
		ProjectID:    "project:p1",
		GenerationID: "gen-1",
		Title:        "Reporting",
		Body:         "Admins can export reports.",
		Category:     store.CategoryFunctional,
		Type:         store.TypeFeature,
	}
	require.NoError(t, s.CreateRequirement(ctx, f.otherRq))

	f.story = &store.UserStory{
		ID:            store.UserStoryEntityID("gen-1", f.req.ID, 0),
		ProjectID:     "project:p1",
		RequirementID: f.req.ID,
		GenerationID:  "gen-1",
		Role:          "user",
		Action:        "sign in",
		Benefit:       "access my data",
	}
	require.NoError(t, s.CreateUserStory(ctx, f.story))

	f.mockup = &store.Mockup{
		ID:            store.MockupEntityID("gen-1", 0),
		ProjectID:     "project:p1",
		RequirementID: f.req.ID,
		GenerationID:  "gen-1",
		Name:          "Login screen",
		HTML:          "<html><body>login</body></html>",
	}
	require.NoError(t, s.CreateMockup(ctx, f.mockup))

	f.other = &store.Mockup{
		ID:            store.MockupEntityID("gen-1", 1),
		ProjectID:     "project:p1",
		RequirementID: f.otherRq.ID,
		GenerationID:  "gen-1",
		Name:          "Report screen",
		HTML:          "<html><body>reports</body></html>",
	}
	require.NoError(t, s.CreateMockup(ctx, f.other))

	return f
}

func TestRequirementEditFlagsItsMockup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.UpdateRequirement(ctx, f.req.ID, "alice", func(r *store.Requirement) error {
		r.Body = "Users can sign in with SSO."
		return nil
	})
	require.NoError(t, err)

	m, err := f.store.GetMockup(ctx, f.mockup.ID)
	require.NoError(t, err)
	assert.True(t, m.NeedsRegeneration)
	require.NotNil(t, m.LastAssociatedChange)
	assert.Equal(t, 1, m.Version, "invalidation must not bump the mockup version")

	// The unrelated requirement's mockup is untouched.
	unrelated, err := f.store.GetMockup(ctx, f.other.ID)
	require.NoError(t, err)
	assert.False(t, unrelated.NeedsRegeneration)
	assert.Nil(t, unrelated.LastAssociatedChange)
}

func TestStoryEditCascadesThroughItsRequirement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.UpdateUserStory(ctx, f.story.ID, "alice", func(st *store.UserStory) error {
		st.Action = "sign in with a passkey"
		return nil
	})
	require.NoError(t, err)

	// The mockup references the story's owning requirement, not the
	// story itself; it must still be flagged.
	m, err := f.store.GetMockup(ctx, f.mockup.ID)
	require.NoError(t, err)
	assert.True(t, m.NeedsRegeneration)

	unrelated, err := f.store.GetMockup(ctx, f.other.ID)
	require.NoError(t, err)
	assert.False(t, unrelated.NeedsRegeneration)
}

func TestArchivedSourcesDoNotInvalidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Archive the requirement, then edit it: archived sources are out of
	// the active generation, so dependents stay clean.
	_, err := f.store.UpdateRequirement(ctx, f.req.ID, "alice", func(r *store.Requirement) error {
		r.Lifecycle = store.LifecycleArchived
		return nil
	})
	require.NoError(t, err)

	// Reset the flag that the lifecycle edit itself may have set while
	// the requirement was still active.
	_, err = f.store.UpdateMockup(ctx, f.mockup.ID, "test", func(m *store.Mockup) error {
		m.NeedsRegeneration = false
		m.LastAssociatedChange = nil
		return nil
	})
	require.NoError(t, err)

	_, err = f.store.UpdateRequirement(ctx, f.req.ID, "alice", func(r *store.Requirement) error {
		r.Body = "edited while archived"
		return nil
	})
	require.NoError(t, err)

	m, err := f.store.GetMockup(ctx, f.mockup.ID)
	require.NoError(t, err)
	assert.False(t, m.NeedsRegeneration)
}

func TestArchivedMockupsAreNotFlagged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.ArchiveProjectMockups(ctx, "project:p1", "gen-2", "pipeline")
	require.NoError(t, err)

	_, err = f.store.UpdateRequirement(ctx, f.req.ID, "alice", func(r *store.Requirement) error {
		r.Body = "changed after mockups were archived"
		return nil
	})
	require.NoError(t, err)

	m, err := f.store.GetMockup(ctx, f.mockup.ID)
	require.NoError(t, err)
	assert.False(t, m.NeedsRegeneration)
}

func TestRepeatedEditsKeepLatestChangeTime(t *testing.T) {
	ctx := context.Background()

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := storetest.New(store.WithClock(func() time.Time { return clock }))
	s.SetTracker(invalidate.New(s, nil))

	req := &store.Requirement{
		ID:           store.RequirementEntityID("gen-1", 0),
		ProjectID:    "project:p1",
		GenerationID: "gen-1",
		Title:        "Login",
		Body:         "v1",
		Category:     store.CategoryFunctional,
		Type:         store.TypeFeature,
	}
	require.NoError(t, s.CreateRequirement(ctx, req))
	m := &store.Mockup{
		ID:            store.MockupEntityID("gen-1", 0),
		ProjectID:     "project:p1",
		RequirementID: req.ID,
		Name:          "Login screen",
		HTML:          "<html></html>",
	}
	require.NoError(t, s.CreateMockup(ctx, m))

	_, err := s.UpdateRequirement(ctx, req.ID, "alice", func(r *store.Requirement) error {
		r.Body = "v2"
		return nil
	})
	require.NoError(t, err)

	clock = clock.Add(2 * time.Hour)
	_, err = s.UpdateRequirement(ctx, req.ID, "alice", func(r *store.Requirement) error {
		r.Body = "v3"
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetMockup(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastAssociatedChange)
	assert.Equal(t, clock, *got.LastAssociatedChange)
}
