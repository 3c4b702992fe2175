package store

import "time"

// RequirementCategory classifies a requirement.
type RequirementCategory string

const (
	CategoryFunctional    RequirementCategory = "functional"
	CategoryNonFunctional RequirementCategory = "non_functional"
	CategoryUIUX          RequirementCategory = "ui_ux"
	CategoryOther         RequirementCategory = "other"
)

// NormalizeCategory maps free-form model output onto a known category,
// defaulting to other.
func NormalizeCategory(s string) RequirementCategory {
	switch RequirementCategory(s) {
	case CategoryFunctional, CategoryNonFunctional, CategoryUIUX:
		return RequirementCategory(s)
	default:
		return CategoryOther
	}
}

// RequirementType classifies what kind of demand a requirement expresses.
type RequirementType string

const (
	TypeFeature     RequirementType = "feature"
	TypeConstraint  RequirementType = "constraint"
	TypeQuality     RequirementType = "quality"
	TypeInterface   RequirementType = "interface"
	TypeSecurity    RequirementType = "security"
	TypePerformance RequirementType = "performance"
	TypeOther       RequirementType = "other"
)

// NormalizeRequirementType maps free-form model output onto a known type.
func NormalizeRequirementType(s string) RequirementType {
	switch RequirementType(s) {
	case TypeFeature, TypeConstraint, TypeQuality, TypeInterface, TypeSecurity, TypePerformance:
		return RequirementType(s)
	default:
		return TypeOther
	}
}

// DiagramKind identifies a UML diagram type.
type DiagramKind string

const (
	DiagramClass     DiagramKind = "class"
	DiagramSequence  DiagramKind = "sequence"
	DiagramActivity  DiagramKind = "activity"
	DiagramComponent DiagramKind = "component"
)

// DiagramKinds lists every diagram kind a full generation produces.
var DiagramKinds = []DiagramKind{DiagramClass, DiagramSequence, DiagramActivity, DiagramComponent}

// ArtifactKind names a generated artifact family for progress rollups.
type ArtifactKind string

const (
	ArtifactRequirements ArtifactKind = "requirements"
	ArtifactUserStories  ArtifactKind = "user_stories"
	ArtifactPlan         ArtifactKind = "development_plan"
	ArtifactDiagrams     ArtifactKind = "uml_diagrams"
	ArtifactMockups      ArtifactKind = "mockups"
)

// ArtifactCount is a rollup counter pair for progress reporting.
type ArtifactCount struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
}

// Brief holds the project intake a generation run is seeded from.
type Brief struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	TargetPlatform  string   `json:"target_platform,omitempty"`
	Constraints     []string `json:"constraints,omitempty"`
	Language        string   `json:"language,omitempty"`
	TechnologyStack string   `json:"technology_stack,omitempty"`
	TargetUsers     string   `json:"target_users,omitempty"`
	ColorScheme     string   `json:"color_scheme,omitempty"`
	Budget          string   `json:"budget,omitempty"`
	Deadline        string   `json:"deadline,omitempty"`
}

// Project is the aggregate root every generated artifact belongs to.
// The pipeline mutates its generation state and progress rollups but never
// deletes it.
type Project struct {
	ID         string                         `json:"id"`
	Brief      Brief                          `json:"brief"`
	Generation GenerationState                `json:"generation"`
	Progress   map[ArtifactKind]ArtifactCount `json:"progress,omitempty"`
	CreatedAt  time.Time                      `json:"created_at"`
	UpdatedAt  time.Time                      `json:"updated_at"`
}

// SetProgress records a rollup counter pair for one artifact kind.
func (p *Project) SetProgress(kind ArtifactKind, total, completed int) {
	if p.Progress == nil {
		p.Progress = make(map[ArtifactKind]ArtifactCount)
	}
	p.Progress[kind] = ArtifactCount{Total: total, Completed: completed}
}

// Requirement is a versioned entity owned by a Project. Requirements form
// a tree via ParentID; links only ever point at siblings created in the
// same generation, so cycles cannot occur.
type Requirement struct {
	ID           string              `json:"id"`
	ProjectID    string              `json:"project_id"`
	GenerationID string              `json:"generation_id"`
	Title        string              `json:"title"`
	Body         string              `json:"body"`
	Category     RequirementCategory `json:"category"`
	Type         RequirementType     `json:"type"`
	ParentID     string              `json:"parent_id,omitempty"`
	Version      int                 `json:"version_number"`
	Lifecycle    LifecycleStatus     `json:"lifecycle"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func (r *Requirement) GetID() string                  { return r.ID }
func (r *Requirement) GetVersion() int                { return r.Version }
func (r *Requirement) GetLifecycle() LifecycleStatus  { return r.Lifecycle }
func (r *Requirement) setVersion(v int)               { r.Version = v }
func (r *Requirement) setLifecycle(s LifecycleStatus) { r.Lifecycle = s }
func (r *Requirement) setUpdatedAt(t time.Time)       { r.UpdatedAt = t }
func (r *Requirement) generationID() string           { return r.GenerationID }

// UserStory is a versioned entity owned by exactly one Requirement. It
// carries its own generation state, independent of the project's.
type UserStory struct {
	ID                 string          `json:"id"`
	ProjectID          string          `json:"project_id"`
	RequirementID      string          `json:"requirement_id"`
	GenerationID       string          `json:"generation_id"`
	Role               string          `json:"role"`
	Action             string          `json:"action"`
	Benefit            string          `json:"benefit"`
	AcceptanceCriteria []string        `json:"acceptance_criteria,omitempty"`
	Generation         GenerationState `json:"generation"`
	Version            int             `json:"version_number"`
	Lifecycle          LifecycleStatus `json:"lifecycle"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (s *UserStory) GetID() string                  { return s.ID }
func (s *UserStory) GetVersion() int                { return s.Version }
func (s *UserStory) GetLifecycle() LifecycleStatus  { return s.Lifecycle }
func (s *UserStory) setVersion(v int)               { s.Version = v }
func (s *UserStory) setLifecycle(l LifecycleStatus) { s.Lifecycle = l }
func (s *UserStory) setUpdatedAt(t time.Time)       { s.UpdatedAt = t }
func (s *UserStory) generationID() string           { return s.GenerationID }

// DevelopmentPlan is the per-project singleton holding the rate card and a
// pointer at the latest appended version.
type DevelopmentPlan struct {
	ID                   string             `json:"id"`
	ProjectID            string             `json:"project_id"`
	CurrentVersionNumber int                `json:"current_version_number"`
	HourlyRates          map[string]float64 `json:"hourly_rates,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// CostLine is one row of a plan version's cost breakdown.
type CostLine struct {
	Role  string  `json:"role"`
	Hours float64 `json:"hours"`
	Cost  float64 `json:"cost"`
}

// DevelopmentPlanVersion is one append-only revision of a project's cost
// plan. Never mutated after creation; editing a plan means appending
// version N+1.
type DevelopmentPlanVersion struct {
	ID            string     `json:"id"`
	PlanID        string     `json:"plan_id"`
	VersionNumber int        `json:"version_number"`
	Breakdown     []CostLine `json:"breakdown"`
	TotalCost     float64    `json:"total_cost"`
	Notes         string     `json:"notes,omitempty"`
	CreatedBy     string     `json:"created_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// UmlDiagram is owned by a Project and optionally tied to the plan version
// it was generated against.
type UmlDiagram struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"project_id"`
	PlanVersionID string          `json:"plan_version_id,omitempty"`
	GenerationID  string          `json:"generation_id"`
	Kind          DiagramKind     `json:"kind"`
	Source        string          `json:"source"`
	Generation    GenerationState `json:"generation"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Mockup is a versioned entity owned by a Project, optionally linked to
// one Requirement or one UserStory. NeedsRegeneration is the lazy
// invalidation flag: upstream edits mark it, an explicit regenerate clears
// it.
type Mockup struct {
	ID                   string          `json:"id"`
	ProjectID            string          `json:"project_id"`
	RequirementID        string          `json:"requirement_id,omitempty"`
	UserStoryID          string          `json:"user_story_id,omitempty"`
	GenerationID         string          `json:"generation_id"`
	Name                 string          `json:"name"`
	HTML                 string          `json:"html"`
	PreviewImage         string          `json:"preview_image,omitempty"`
	Generation           GenerationState `json:"generation"`
	Version              int             `json:"version_number"`
	Lifecycle            LifecycleStatus `json:"lifecycle"`
	NeedsRegeneration    bool            `json:"needs_regeneration"`
	LastAssociatedChange *time.Time      `json:"last_associated_change,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func (m *Mockup) GetID() string                  { return m.ID }
func (m *Mockup) GetVersion() int                { return m.Version }
func (m *Mockup) GetLifecycle() LifecycleStatus  { return m.Lifecycle }
func (m *Mockup) setVersion(v int)               { m.Version = v }
func (m *Mockup) setLifecycle(l LifecycleStatus) { m.Lifecycle = l }
func (m *Mockup) setUpdatedAt(t time.Time)       { m.UpdatedAt = t }
func (m *Mockup) generationID() string           { return m.GenerationID }
