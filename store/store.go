package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// SourceRef identifies a mutated source entity for invalidation purposes.
type SourceRef struct {
	Kind      EntityType
	ID        string
	ProjectID string
	// RequirementID is the owning requirement when Kind is a user story.
	RequirementID string
}

// InvalidationTracker observes saves of source entities so dependent
// artifacts can be flagged stale. The store calls it explicitly from its
// update operations; there is no hidden hook registration.
type InvalidationTracker interface {
	SourceSaved(ctx context.Context, src SourceRef, at time.Time) error
}

// Buckets groups the KV buckets backing a Store.
type Buckets struct {
	Projects           Bucket
	Requirements       Bucket
	RequirementHistory Bucket
	UserStories        Bucket
	UserStoryHistory   Bucket
	Plans              Bucket
	PlanVersions       Bucket
	Diagrams           Bucket
	Mockups            Bucket
	MockupHistory      Bucket
}

// Store provides entity storage operations backed by NATS KV.
type Store struct {
	b       Buckets
	tracker InvalidationTracker
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTracker wires the invalidation tracker called after source saves.
func WithTracker(t InvalidationTracker) Option {
	return func(s *Store) { s.tracker = t }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a new Store with the given JetStream context,
// creating the KV buckets if they don't exist.
func NewStore(ctx context.Context, js jetstream.JetStream, opts ...Option) (*Store, error) {
	names := []string{
		BucketProjects, BucketRequirements, BucketRequirementHistory,
		BucketUserStories, BucketUserStoryHistory, BucketPlans,
		BucketPlanVersions, BucketDiagrams, BucketMockups, BucketMockupHistory,
	}
	buckets := make([]Bucket, len(names))
	for i, name := range names {
		kv, err := getOrCreateBucket(ctx, js, name)
		if err != nil {
			return nil, fmt.Errorf("create %s bucket: %w", name, err)
		}
		buckets[i] = &jsBucket{kv: kv}
	}

	return NewFromBuckets(Buckets{
		Projects:           buckets[0],
		Requirements:       buckets[1],
		RequirementHistory: buckets[2],
		UserStories:        buckets[3],
		UserStoryHistory:   buckets[4],
		Plans:              buckets[5],
		PlanVersions:       buckets[6],
		Diagrams:           buckets[7],
		Mockups:            buckets[8],
		MockupHistory:      buckets[9],
	}, opts...), nil
}

// NewFromBuckets creates a Store over pre-built buckets. Tests use this
// with in-memory buckets.
func NewFromBuckets(b Buckets, opts ...Option) *Store {
	s := &Store{b: b, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetTracker wires the invalidation tracker after construction. The
// tracker usually needs the store itself to find dependents, so it is
// built second and attached here.
func (s *Store) SetTracker(t InvalidationTracker) { s.tracker = t }

// Deterministic entity ID constructors. Stage jobs carry a generation ID
// assigned at scheduling time; deriving entity keys from it means a
// redelivered job recreates the same keys and the Create dedup turns the
// second run into a no-op.

// RequirementEntityID returns the ID for the index-th requirement of a
// generation run.
func RequirementEntityID(generationID string, index int) string {
	return fmt.Sprintf("%s:%s-%d", EntityTypeRequirement, generationID, index)
}

// UserStoryEntityID returns the ID for the index-th story generated for a
// requirement in a generation run.
func UserStoryEntityID(generationID, requirementID string, index int) string {
	key, err := entityKey(requirementID)
	if err != nil {
		key = requirementID
	}
	return fmt.Sprintf("%s:%s-%s-%d", EntityTypeUserStory, generationID, key, index)
}

// PlanEntityID returns the singleton plan ID for a project.
func PlanEntityID(projectID string) string {
	key, err := entityKey(projectID)
	if err != nil {
		key = projectID
	}
	return fmt.Sprintf("%s:%s", EntityTypePlan, key)
}

// PlanVersionEntityID returns the plan version ID for a generation run.
func PlanVersionEntityID(generationID string) string {
	return fmt.Sprintf("%s:%s", EntityTypePlanVersion, generationID)
}

// DiagramEntityID returns the diagram ID for one kind within a generation
// run.
func DiagramEntityID(generationID string, kind DiagramKind) string {
	return fmt.Sprintf("%s:%s-%s", EntityTypeDiagram, generationID, kind)
}

// MockupEntityID returns the ID for the index-th mockup of a generation
// run.
func MockupEntityID(generationID string, index int) string {
	return fmt.Sprintf("%s:%s-%d", EntityTypeMockup, generationID, index)
}

// --- projects ---

// CreateProject persists a new project with a pending generation state.
func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = NewEntityID(EntityTypeProject).String()
	}
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Generation.Status == "" {
		p.Generation.Status = GenerationPending
	}
	key, err := entityKey(p.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}
	return s.b.Projects.Create(ctx, key, data)
}

// GetProject retrieves a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	return getJSON[Project](ctx, s.b.Projects, id)
}

// SaveProject persists status bookkeeping on a project. Projects are not
// versioned entities; the pipeline is their only writer.
func (s *Store) SaveProject(ctx context.Context, p *Project) error {
	p.UpdatedAt = s.now()
	key, err := entityKey(p.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}
	return s.b.Projects.Put(ctx, key, data)
}

// ListProjects returns all projects.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	return listJSON[Project](ctx, s.b.Projects, func(p *Project) bool { return p.ID != "" })
}

// --- requirements ---

// CreateRequirement persists a new requirement at version 1. Returns
// ErrExists when the deterministic key was already written by an earlier
// delivery of the same job.
func (s *Store) CreateRequirement(ctx context.Context, r *Requirement) error {
	now := s.now()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Lifecycle == "" {
		r.Lifecycle = LifecycleActive
	}
	return createVersioned[Requirement](ctx, s.b.Requirements, r)
}

// GetRequirement retrieves a requirement by ID.
func (s *Store) GetRequirement(ctx context.Context, id string) (*Requirement, error) {
	return getJSON[Requirement](ctx, s.b.Requirements, id)
}

// ListRequirementsByProject returns all requirements owned by a project.
func (s *Store) ListRequirementsByProject(ctx context.Context, projectID string) ([]*Requirement, error) {
	return listJSON[Requirement](ctx, s.b.Requirements, func(r *Requirement) bool {
		return r.ProjectID == projectID
	})
}

// UpdateRequirement snapshots, mutates and persists a requirement as one
// logical step, then notifies the invalidation tracker when the saved
// requirement is in an active lifecycle state.
func (s *Store) UpdateRequirement(ctx context.Context, id, actor string, mutate func(*Requirement) error) (*Requirement, error) {
	now := s.now()
	r, err := updateVersioned[Requirement](ctx, s.b.Requirements, s.b.RequirementHistory, id, actor, now, mutate)
	if err != nil {
		return nil, err
	}
	if s.tracker != nil && r.Lifecycle == LifecycleActive {
		src := SourceRef{Kind: EntityTypeRequirement, ID: r.ID, ProjectID: r.ProjectID}
		if err := s.tracker.SourceSaved(ctx, src, now); err != nil {
			return r, fmt.Errorf("invalidate dependents of %s: %w", r.ID, err)
		}
	}
	return r, nil
}

// ArchiveProjectRequirements archives every draft/active requirement of a
// project, excluding those created by the given generation. Each archived
// requirement gets exactly one history snapshot before the transition.
func (s *Store) ArchiveProjectRequirements(ctx context.Context, projectID, excludeGen, actor string) (int, error) {
	return archiveEditable[Requirement](ctx, s.b.Requirements, s.b.RequirementHistory, excludeGen, actor, s.now(),
		func(r *Requirement) bool { return r.ProjectID == projectID })
}

// RequirementHistory returns all history snapshots for one requirement.
func (s *Store) RequirementHistory(ctx context.Context, id string) ([]*Snapshot[Requirement], error) {
	return listSnapshots[Requirement](ctx, s.b.RequirementHistory, id)
}

// --- user stories ---

// CreateUserStory persists a new user story at version 1.
func (s *Store) CreateUserStory(ctx context.Context, st *UserStory) error {
	now := s.now()
	st.CreatedAt = now
	st.UpdatedAt = now
	if st.Lifecycle == "" {
		st.Lifecycle = LifecycleActive
	}
	return createVersioned[UserStory](ctx, s.b.UserStories, st)
}

// GetUserStory retrieves a user story by ID.
func (s *Store) GetUserStory(ctx context.Context, id string) (*UserStory, error) {
	return getJSON[UserStory](ctx, s.b.UserStories, id)
}

// ListUserStoriesByRequirement returns all stories owned by a requirement.
func (s *Store) ListUserStoriesByRequirement(ctx context.Context, requirementID string) ([]*UserStory, error) {
	return listJSON[UserStory](ctx, s.b.UserStories, func(st *UserStory) bool {
		return st.RequirementID == requirementID
	})
}

// ListUserStoriesByProject returns all stories under a project.
func (s *Store) ListUserStoriesByProject(ctx context.Context, projectID string) ([]*UserStory, error) {
	return listJSON[UserStory](ctx, s.b.UserStories, func(st *UserStory) bool {
		return st.ProjectID == projectID
	})
}

// UpdateUserStory snapshots, mutates and persists a user story, then
// notifies the invalidation tracker when the saved story is active.
func (s *Store) UpdateUserStory(ctx context.Context, id, actor string, mutate func(*UserStory) error) (*UserStory, error) {
	now := s.now()
	st, err := updateVersioned[UserStory](ctx, s.b.UserStories, s.b.UserStoryHistory, id, actor, now, mutate)
	if err != nil {
		return nil, err
	}
	if s.tracker != nil && st.Lifecycle == LifecycleActive {
		src := SourceRef{
			Kind:          EntityTypeUserStory,
			ID:            st.ID,
			ProjectID:     st.ProjectID,
			RequirementID: st.RequirementID,
		}
		if err := s.tracker.SourceSaved(ctx, src, now); err != nil {
			return st, fmt.Errorf("invalidate dependents of %s: %w", st.ID, err)
		}
	}
	return st, nil
}

// SetUserStoryState applies a generation-state change to a story without
// touching version_number or history. Status flips are bookkeeping, not
// content mutations.
func (s *Store) SetUserStoryState(ctx context.Context, id string, apply func(*GenerationState)) error {
	key, err := entityKey(id)
	if err != nil {
		return err
	}
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		raw, rev, err := s.b.UserStories.Get(ctx, key)
		if err != nil {
			return err
		}
		var st UserStory
		if err := json.Unmarshal(raw, &st); err != nil {
			return fmt.Errorf("unmarshal %s: %w", id, err)
		}
		apply(&st.Generation)
		data, err := json.Marshal(&st)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", id, err)
		}
		if err := s.b.UserStories.Update(ctx, key, data, rev); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("set state %s: %w", id, ErrConflict)
}

// ArchiveRequirementStories archives every draft/active story of one
// requirement, excluding those created by the given generation.
func (s *Store) ArchiveRequirementStories(ctx context.Context, requirementID, excludeGen, actor string) (int, error) {
	return archiveEditable[UserStory](ctx, s.b.UserStories, s.b.UserStoryHistory, excludeGen, actor, s.now(),
		func(st *UserStory) bool { return st.RequirementID == requirementID })
}

// UserStoryHistory returns all history snapshots for one story.
func (s *Store) UserStoryHistory(ctx context.Context, id string) ([]*Snapshot[UserStory], error) {
	return listSnapshots[UserStory](ctx, s.b.UserStoryHistory, id)
}

// --- development plans ---

// EnsurePlan returns the project's plan singleton, creating it on first
// use. The plan ID is derived from the project so concurrent callers
// converge on the same entity.
func (s *Store) EnsurePlan(ctx context.Context, projectID string) (*DevelopmentPlan, error) {
	id := PlanEntityID(projectID)
	plan, err := getJSON[DevelopmentPlan](ctx, s.b.Plans, id)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.now()
	plan = &DevelopmentPlan{
		ID:        id,
		ProjectID: projectID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	key, _ := entityKey(id)
	data, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}
	if err := s.b.Plans.Create(ctx, key, data); err != nil {
		if errors.Is(err, ErrExists) {
			return getJSON[DevelopmentPlan](ctx, s.b.Plans, id)
		}
		return nil, err
	}
	return plan, nil
}

// GetPlanByProject returns the project's plan, or ErrNotFound when no
// plan has been generated yet.
func (s *Store) GetPlanByProject(ctx context.Context, projectID string) (*DevelopmentPlan, error) {
	return getJSON[DevelopmentPlan](ctx, s.b.Plans, PlanEntityID(projectID))
}

// UpdatePlan applies mutate to the plan singleton under a revision check.
// Plans have no history bucket: their versioning lives in the append-only
// DevelopmentPlanVersion sequence.
func (s *Store) UpdatePlan(ctx context.Context, projectID string, mutate func(*DevelopmentPlan) error) (*DevelopmentPlan, error) {
	id := PlanEntityID(projectID)
	key, err := entityKey(id)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		raw, rev, err := s.b.Plans.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
			}
			return nil, err
		}
		var plan DevelopmentPlan
		if err := json.Unmarshal(raw, &plan); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", id, err)
		}
		if err := mutate(&plan); err != nil {
			return nil, err
		}
		plan.UpdatedAt = s.now()
		data, err := json.Marshal(&plan)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", id, err)
		}
		if err := s.b.Plans.Update(ctx, key, data, rev); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return nil, err
		}
		return &plan, nil
	}
	return nil, fmt.Errorf("update %s: %w", id, ErrConflict)
}

// CreatePlanVersion appends one plan version. Returns ErrExists when this
// generation already appended its version.
func (s *Store) CreatePlanVersion(ctx context.Context, v *DevelopmentPlanVersion) error {
	v.CreatedAt = s.now()
	key, err := entityKey(v.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal plan version: %w", err)
	}
	return s.b.PlanVersions.Create(ctx, key, data)
}

// GetPlanVersion retrieves a plan version by ID.
func (s *Store) GetPlanVersion(ctx context.Context, id string) (*DevelopmentPlanVersion, error) {
	return getJSON[DevelopmentPlanVersion](ctx, s.b.PlanVersions, id)
}

// ListPlanVersions returns all versions appended under a plan.
func (s *Store) ListPlanVersions(ctx context.Context, planID string) ([]*DevelopmentPlanVersion, error) {
	return listJSON[DevelopmentPlanVersion](ctx, s.b.PlanVersions, func(v *DevelopmentPlanVersion) bool {
		return v.PlanID == planID
	})
}

// --- uml diagrams ---

// CreateDiagram persists a diagram. Returns ErrExists for a redelivered
// job's duplicate write.
func (s *Store) CreateDiagram(ctx context.Context, d *UmlDiagram) error {
	now := s.now()
	d.CreatedAt = now
	d.UpdatedAt = now
	key, err := entityKey(d.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal diagram: %w", err)
	}
	return s.b.Diagrams.Create(ctx, key, data)
}

// GetDiagram retrieves a diagram by ID.
func (s *Store) GetDiagram(ctx context.Context, id string) (*UmlDiagram, error) {
	return getJSON[UmlDiagram](ctx, s.b.Diagrams, id)
}

// ListDiagramsByGeneration returns the diagrams produced by one
// generation run.
func (s *Store) ListDiagramsByGeneration(ctx context.Context, generationID string) ([]*UmlDiagram, error) {
	return listJSON[UmlDiagram](ctx, s.b.Diagrams, func(d *UmlDiagram) bool {
		return d.GenerationID == generationID
	})
}

// ListDiagramsByProject returns all diagrams owned by a project.
func (s *Store) ListDiagramsByProject(ctx context.Context, projectID string) ([]*UmlDiagram, error) {
	return listJSON[UmlDiagram](ctx, s.b.Diagrams, func(d *UmlDiagram) bool {
		return d.ProjectID == projectID
	})
}

// ClaimDiagramChain marks the diagram generation as having triggered its
// downstream stage. Exactly one caller per generation wins the claim, so
// the chain advances exactly once even when the four diagram jobs finish
// concurrently.
func (s *Store) ClaimDiagramChain(ctx context.Context, generationID string) (bool, error) {
	err := s.b.Diagrams.Create(ctx, "chain-"+generationID, []byte(`{"claimed":true}`))
	if err != nil {
		if errors.Is(err, ErrExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// --- mockups ---

// CreateMockup persists a new mockup at version 1.
func (s *Store) CreateMockup(ctx context.Context, m *Mockup) error {
	now := s.now()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Lifecycle == "" {
		m.Lifecycle = LifecycleActive
	}
	return createVersioned[Mockup](ctx, s.b.Mockups, m)
}

// GetMockup retrieves a mockup by ID.
func (s *Store) GetMockup(ctx context.Context, id string) (*Mockup, error) {
	return getJSON[Mockup](ctx, s.b.Mockups, id)
}

// ListMockupsByProject returns all mockups owned by a project.
func (s *Store) ListMockupsByProject(ctx context.Context, projectID string) ([]*Mockup, error) {
	return listJSON[Mockup](ctx, s.b.Mockups, func(m *Mockup) bool {
		return m.ProjectID == projectID
	})
}

// ListStaleMockups returns the project's active mockups flagged for
// regeneration.
func (s *Store) ListStaleMockups(ctx context.Context, projectID string) ([]*Mockup, error) {
	return listJSON[Mockup](ctx, s.b.Mockups, func(m *Mockup) bool {
		return m.ProjectID == projectID && m.Lifecycle == LifecycleActive && m.NeedsRegeneration
	})
}

// UpdateMockup snapshots, mutates and persists a mockup. Regeneration
// replaces content in place: same identity, version_number+1, one history
// row of the pre-regeneration state.
func (s *Store) UpdateMockup(ctx context.Context, id, actor string, mutate func(*Mockup) error) (*Mockup, error) {
	return updateVersioned[Mockup](ctx, s.b.Mockups, s.b.MockupHistory, id, actor, s.now(), mutate)
}

// ArchiveProjectMockups archives every draft/active mockup of a project,
// excluding those created by the given generation.
func (s *Store) ArchiveProjectMockups(ctx context.Context, projectID, excludeGen, actor string) (int, error) {
	return archiveEditable[Mockup](ctx, s.b.Mockups, s.b.MockupHistory, excludeGen, actor, s.now(),
		func(m *Mockup) bool { return m.ProjectID == projectID })
}

// MarkMockupStale flags a mockup for regeneration. This is a flag write,
// not a content mutation: version_number and history are untouched.
func (s *Store) MarkMockupStale(ctx context.Context, id string, at time.Time) error {
	key, err := entityKey(id)
	if err != nil {
		return err
	}
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		raw, rev, err := s.b.Mockups.Get(ctx, key)
		if err != nil {
			return err
		}
		var m Mockup
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("unmarshal %s: %w", id, err)
		}
		m.NeedsRegeneration = true
		t := at
		m.LastAssociatedChange = &t
		data, err := json.Marshal(&m)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", id, err)
		}
		if err := s.b.Mockups.Update(ctx, key, data, rev); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("mark stale %s: %w", id, ErrConflict)
}

// SetMockupState applies a generation-state change to a mockup without
// touching version_number or history.
func (s *Store) SetMockupState(ctx context.Context, id string, apply func(*GenerationState)) error {
	key, err := entityKey(id)
	if err != nil {
		return err
	}
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		raw, rev, err := s.b.Mockups.Get(ctx, key)
		if err != nil {
			return err
		}
		var m Mockup
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("unmarshal %s: %w", id, err)
		}
		apply(&m.Generation)
		data, err := json.Marshal(&m)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", id, err)
		}
		if err := s.b.Mockups.Update(ctx, key, data, rev); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("set state %s: %w", id, ErrConflict)
}

// MockupHistory returns all history snapshots for one mockup.
func (s *Store) MockupHistory(ctx context.Context, id string) ([]*Snapshot[Mockup], error) {
	return listSnapshots[Mockup](ctx, s.b.MockupHistory, id)
}

// --- shared helpers ---

func getJSON[T any](ctx context.Context, b Bucket, id string) (*T, error) {
	key, err := entityKey(id)
	if err != nil {
		return nil, err
	}
	raw, _, err := b.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", id, err)
	}
	return &v, nil
}

func listJSON[T any](ctx context.Context, b Bucket, keep func(*T) bool) ([]*T, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*T, 0)
	for _, key := range keys {
		raw, _, err := b.Get(ctx, key)
		if err != nil {
			continue // skip entries that fail to load
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		if keep(&v) {
			out = append(out, &v)
		}
	}
	return out, nil
}
