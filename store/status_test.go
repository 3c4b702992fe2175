package store

import (
	"testing"
	"time"
)

func TestGenerationState(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("failure always carries an error message", func(t *testing.T) {
		var g GenerationState
		g.Start(now)
		g.Fail(now.Add(time.Minute), "")
		if g.Error == "" {
			t.Error("expected a non-empty error message on failed state")
		}
		if g.CompletedAt == nil {
			t.Error("expected a completion timestamp on failed state")
		}
	})

	t.Run("completion always carries a timestamp", func(t *testing.T) {
		var g GenerationState
		g.Start(now)
		g.Complete(now.Add(time.Minute))
		if g.Status != GenerationCompleted {
			t.Errorf("expected completed, got %s", g.Status)
		}
		if g.CompletedAt == nil {
			t.Error("expected a completion timestamp")
		}
	})

	t.Run("restart clears the previous terminal outcome", func(t *testing.T) {
		var g GenerationState
		g.Start(now)
		g.Fail(now.Add(time.Minute), "upstream error")
		g.Start(now.Add(time.Hour))
		if g.Status != GenerationInProgress {
			t.Errorf("expected in_progress, got %s", g.Status)
		}
		if g.Error != "" || g.CompletedAt != nil {
			t.Error("expected error and completion timestamp cleared on restart")
		}
	})

	t.Run("terminal", func(t *testing.T) {
		var g GenerationState
		if g.Terminal() {
			t.Error("zero state must not be terminal")
		}
		g.Start(now)
		if g.Terminal() {
			t.Error("in_progress must not be terminal")
		}
		g.Complete(now)
		if !g.Terminal() {
			t.Error("completed must be terminal")
		}
	})
}
