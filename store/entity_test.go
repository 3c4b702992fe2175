package store

import (
	"testing"
)

func TestEntityID(t *testing.T) {
	t.Run("NewEntityID generates valid ID", func(t *testing.T) {
		id := NewEntityID(EntityTypeProject)
		if id.Type != EntityTypeProject {
			t.Errorf("expected type %s, got %s", EntityTypeProject, id.Type)
		}
		if id.ID == "" {
			t.Error("expected non-empty ID")
		}
	})

	t.Run("String returns correct format", func(t *testing.T) {
		id := EntityID{Type: EntityTypeRequirement, ID: "abc123"}
		expected := "requirement:abc123"
		if id.String() != expected {
			t.Errorf("expected %s, got %s", expected, id.String())
		}
	})

	t.Run("ParseEntityID parses valid ID", func(t *testing.T) {
		id, err := ParseEntityID("mockup:abc123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id.Type != EntityTypeMockup {
			t.Errorf("expected type %s, got %s", EntityTypeMockup, id.Type)
		}
		if id.ID != "abc123" {
			t.Errorf("expected ID abc123, got %s", id.ID)
		}
	})

	t.Run("ParseEntityID handles all types", func(t *testing.T) {
		tests := []struct {
			input    string
			expected EntityType
		}{
			{"project:123", EntityTypeProject},
			{"requirement:456", EntityTypeRequirement},
			{"story:789", EntityTypeUserStory},
			{"plan:p1", EntityTypePlan},
			{"planversion:v1", EntityTypePlanVersion},
			{"diagram:d1", EntityTypeDiagram},
			{"mockup:m1", EntityTypeMockup},
		}

		for _, tc := range tests {
			id, err := ParseEntityID(tc.input)
			if err != nil {
				t.Errorf("unexpected error for %s: %v", tc.input, err)
				continue
			}
			if id.Type != tc.expected {
				t.Errorf("for %s: expected type %s, got %s", tc.input, tc.expected, id.Type)
			}
		}
	})

	t.Run("ParseEntityID rejects malformed IDs", func(t *testing.T) {
		for _, input := range []string{"", "noseparator", "unknown:123", ":123", "requirement:"} {
			if _, err := ParseEntityID(input); err == nil {
				t.Errorf("expected error for %q", input)
			}
		}
	})
}

func TestDeterministicEntityIDs(t *testing.T) {
	t.Run("same inputs produce same keys", func(t *testing.T) {
		a := RequirementEntityID("gen-1", 2)
		b := RequirementEntityID("gen-1", 2)
		if a != b {
			t.Errorf("expected identical IDs, got %s and %s", a, b)
		}
	})

	t.Run("different generations produce different keys", func(t *testing.T) {
		a := RequirementEntityID("gen-1", 0)
		b := RequirementEntityID("gen-2", 0)
		if a == b {
			t.Errorf("expected distinct IDs, both were %s", a)
		}
	})

	t.Run("derived IDs parse back to their type", func(t *testing.T) {
		ids := []string{
			RequirementEntityID("g", 0),
			UserStoryEntityID("g", "requirement:g-0", 1),
			PlanEntityID("project:p"),
			PlanVersionEntityID("g"),
			DiagramEntityID("g", DiagramClass),
			MockupEntityID("g", 3),
		}
		for _, raw := range ids {
			if _, err := ParseEntityID(raw); err != nil {
				t.Errorf("derived ID %q does not parse: %v", raw, err)
			}
		}
	})
}
