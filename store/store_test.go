package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/store"
	"github.com/draftforge/draftforge/store/storetest"
)

func newRequirement(id, projectID, gen string) *store.Requirement {
	return &store.Requirement{
		ID:           id,
		ProjectID:    projectID,
		GenerationID: gen,
		Title:        "Login",
		Body:         "Users can sign in with email and password.",
		Category:     store.CategoryFunctional,
		Type:         store.TypeFeature,
	}
}

func TestVersionMonotonicity(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()

	req := newRequirement(store.RequirementEntityID("gen-1", 0), "project:p1", "gen-1")
	require.NoError(t, s.CreateRequirement(ctx, req))
	assert.Equal(t, 1, req.Version)

	for want := 2; want <= 5; want++ {
		updated, err := s.UpdateRequirement(ctx, req.ID, "alice", func(r *store.Requirement) error {
			r.Body = r.Body + "!"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, want, updated.Version)
	}

	history, err := s.RequirementHistory(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 4, "exactly one history row per increment")

	seen := make(map[int]bool)
	for _, snap := range history {
		assert.False(t, seen[snap.Version], "duplicate snapshot for version %d", snap.Version)
		seen[snap.Version] = true
		assert.Equal(t, "alice", snap.Actor)
		assert.Equal(t, snap.Version, snap.State.Version, "snapshot captures pre-increment state")
	}
	for v := 1; v <= 4; v++ {
		assert.True(t, seen[v], "missing snapshot for version %d", v)
	}
}

func TestUpdateRejectsFailedMutation(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()

	req := newRequirement(store.RequirementEntityID("gen-1", 0), "project:p1", "gen-1")
	require.NoError(t, s.CreateRequirement(ctx, req))

	boom := errors.New("boom")
	_, err := s.UpdateRequirement(ctx, req.ID, "alice", func(*store.Requirement) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	// No orphan snapshot and no version bump.
	history, err := s.RequirementHistory(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
	cur, err := s.GetRequirement(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cur.Version)
}

func TestUpdateNotFound(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()

	_, err := s.UpdateRequirement(ctx, "requirement:missing", "alice", func(r *store.Requirement) error {
		return nil
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()

	id := store.RequirementEntityID("gen-1", 0)
	require.NoError(t, s.CreateRequirement(ctx, newRequirement(id, "project:p1", "gen-1")))
	err := s.CreateRequirement(ctx, newRequirement(id, "project:p1", "gen-1"))
	assert.ErrorIs(t, err, store.ErrExists)
}

func TestArchivalCompleteness(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()

	for i := 0; i < 3; i++ {
		req := newRequirement(store.RequirementEntityID("gen-1", i), "project:p1", "gen-1")
		require.NoError(t, s.CreateRequirement(ctx, req))
	}
	// Another project's requirement must not be touched.
	other := newRequirement(store.RequirementEntityID("gen-9", 0), "project:p2", "gen-9")
	require.NoError(t, s.CreateRequirement(ctx, other))

	archived, err := s.ArchiveProjectRequirements(ctx, "project:p1", "gen-2", "pipeline")
	require.NoError(t, err)
	assert.Equal(t, 3, archived)

	reqs, err := s.ListRequirementsByProject(ctx, "project:p1")
	require.NoError(t, err)
	for _, r := range reqs {
		assert.Equal(t, store.LifecycleArchived, r.Lifecycle)
		history, err := s.RequirementHistory(ctx, r.ID)
		require.NoError(t, err)
		assert.Len(t, history, 1, "one snapshot per archived requirement")
	}

	untouched, err := s.GetRequirement(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, store.LifecycleActive, untouched.Lifecycle)
}

func TestArchivalIdempotentAndScoped(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()

	old := newRequirement(store.RequirementEntityID("gen-1", 0), "project:p1", "gen-1")
	require.NoError(t, s.CreateRequirement(ctx, old))
	// The new generation's own requirement must survive the sweep.
	current := newRequirement(store.RequirementEntityID("gen-2", 0), "project:p1", "gen-2")
	require.NoError(t, s.CreateRequirement(ctx, current))

	archived, err := s.ArchiveProjectRequirements(ctx, "project:p1", "gen-2", "pipeline")
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	kept, err := s.GetRequirement(ctx, current.ID)
	require.NoError(t, err)
	assert.Equal(t, store.LifecycleActive, kept.Lifecycle)

	// A redelivered job sweeps again: nothing left to archive, no second
	// snapshot.
	archived, err = s.ArchiveProjectRequirements(ctx, "project:p1", "gen-2", "pipeline")
	require.NoError(t, err)
	assert.Equal(t, 0, archived)
	history, err := s.RequirementHistory(ctx, old.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestEnsurePlanSingleton(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()

	a, err := s.EnsurePlan(ctx, "project:p1")
	require.NoError(t, err)
	b, err := s.EnsurePlan(ctx, "project:p1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	_, err = s.UpdatePlan(ctx, "project:p1", func(p *store.DevelopmentPlan) error {
		p.CurrentVersionNumber = 1
		p.HourlyRates = map[string]float64{"backend": 90}
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetPlanByProject(ctx, "project:p1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentVersionNumber)
	assert.Equal(t, 90.0, got.HourlyRates["backend"])
}

func TestClaimDiagramChainSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()

	won, err := s.ClaimDiagramChain(ctx, "gen-1")
	require.NoError(t, err)
	assert.True(t, won)

	for i := 0; i < 3; i++ {
		won, err = s.ClaimDiagramChain(ctx, "gen-1")
		require.NoError(t, err)
		assert.False(t, won, "only the first claim wins")
	}

	// A different generation claims independently.
	won, err = s.ClaimDiagramChain(ctx, "gen-2")
	require.NoError(t, err)
	assert.True(t, won)
}

func TestMarkMockupStaleDoesNotBumpVersion(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()

	m := &store.Mockup{
		ID:        store.MockupEntityID("gen-1", 0),
		ProjectID: "project:p1",
		Name:      "Login screen",
		HTML:      "<html><body>login</body></html>",
	}
	require.NoError(t, s.CreateMockup(ctx, m))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkMockupStale(ctx, m.ID, at))

	got, err := s.GetMockup(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.NeedsRegeneration)
	require.NotNil(t, got.LastAssociatedChange)
	assert.Equal(t, at, *got.LastAssociatedChange)
	assert.Equal(t, 1, got.Version, "invalidation marks, it does not regenerate")

	history, err := s.MockupHistory(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestUpdateMockupReplacesInPlace(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()

	m := &store.Mockup{
		ID:        store.MockupEntityID("gen-1", 0),
		ProjectID: "project:p1",
		Name:      "Login screen",
		HTML:      "<html><body>v1</body></html>",
	}
	require.NoError(t, s.CreateMockup(ctx, m))
	require.NoError(t, s.MarkMockupStale(ctx, m.ID, time.Now()))

	updated, err := s.UpdateMockup(ctx, m.ID, "pipeline", func(cur *store.Mockup) error {
		cur.HTML = "<html><body>v2</body></html>"
		cur.NeedsRegeneration = false
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, m.ID, updated.ID, "regeneration never changes identity")
	assert.Equal(t, 2, updated.Version)
	assert.False(t, updated.NeedsRegeneration)

	history, err := s.MockupHistory(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Contains(t, history[0].State.HTML, "v1", "snapshot holds the pre-update state")
}

func TestSetUserStoryStateLeavesVersionAlone(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()

	st := &store.UserStory{
		ID:            store.UserStoryEntityID("gen-1", "requirement:gen-1-0", 0),
		ProjectID:     "project:p1",
		RequirementID: "requirement:gen-1-0",
		Role:          "user",
		Action:        "sign in",
		Benefit:       "access my data",
	}
	require.NoError(t, s.CreateUserStory(ctx, st))

	now := time.Now()
	require.NoError(t, s.SetUserStoryState(ctx, st.ID, func(g *store.GenerationState) {
		g.Fail(now, "model returned garbage")
	}))

	got, err := s.GetUserStory(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, store.GenerationFailed, got.Generation.Status)
	assert.Equal(t, "model returned garbage", got.Generation.Error)
	assert.NotNil(t, got.Generation.CompletedAt)
	assert.Equal(t, 1, got.Version)
}
