// Package store provides entity storage for draftforge using NATS KV.
// Every generated artifact lives in a bucket per entity type; versioned
// entities additionally keep an append-only history bucket of pre-mutation
// snapshots.
package store

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// EntityType represents the type of entity stored in KV.
type EntityType string

const (
	EntityTypeProject     EntityType = "project"
	EntityTypeRequirement EntityType = "requirement"
	EntityTypeUserStory   EntityType = "story"
	EntityTypePlan        EntityType = "plan"
	EntityTypePlanVersion EntityType = "planversion"
	EntityTypeDiagram     EntityType = "diagram"
	EntityTypeMockup      EntityType = "mockup"
)

// Bucket names for each entity type.
const (
	BucketProjects           = "DRAFTFORGE_PROJECTS"
	BucketRequirements       = "DRAFTFORGE_REQUIREMENTS"
	BucketRequirementHistory = "DRAFTFORGE_REQUIREMENT_HISTORY"
	BucketUserStories        = "DRAFTFORGE_STORIES"
	BucketUserStoryHistory   = "DRAFTFORGE_STORY_HISTORY"
	BucketPlans              = "DRAFTFORGE_PLANS"
	BucketPlanVersions       = "DRAFTFORGE_PLAN_VERSIONS"
	BucketDiagrams           = "DRAFTFORGE_DIAGRAMS"
	BucketMockups            = "DRAFTFORGE_MOCKUPS"
	BucketMockupHistory      = "DRAFTFORGE_MOCKUP_HISTORY"
)

// EntityID represents a typed entity identifier.
type EntityID struct {
	Type EntityType
	ID   string
}

// String returns the string representation of the entity ID.
func (e EntityID) String() string {
	return fmt.Sprintf("%s:%s", e.Type, e.ID)
}

// ParseEntityID parses an entity ID string into its components.
func ParseEntityID(s string) (EntityID, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return EntityID{}, fmt.Errorf("invalid entity ID format: %s", s)
	}
	entityType := EntityType(parts[0])
	switch entityType {
	case EntityTypeProject, EntityTypeRequirement, EntityTypeUserStory,
		EntityTypePlan, EntityTypePlanVersion, EntityTypeDiagram, EntityTypeMockup:
		return EntityID{Type: entityType, ID: parts[1]}, nil
	default:
		return EntityID{}, fmt.Errorf("unknown entity type: %s", parts[0])
	}
}

// NewEntityID generates a new unique entity ID for the given type.
func NewEntityID(t EntityType) EntityID {
	return EntityID{
		Type: t,
		ID:   uuid.New().String(),
	}
}

// entityKey returns the bucket key for an entity ID string. Keys inside a
// bucket carry only the ID part; the type is implied by the bucket.
func entityKey(id string) (string, error) {
	parsed, err := ParseEntityID(id)
	if err != nil {
		return "", err
	}
	return parsed.ID, nil
}
