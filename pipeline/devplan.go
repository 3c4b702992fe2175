package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/draftforge/draftforge/llm"
	"github.com/draftforge/draftforge/store"
)

// planPayload is the shape the model returns for the cost plan.
type planPayload struct {
	HourlyRates map[string]float64 `json:"hourly_rates"`
	Breakdown   []struct {
		Role  string  `json:"role"`
		Hours float64 `json:"hours"`
	} `json:"breakdown"`
	Notes string `json:"notes"`
}

// runPlan appends a new development-plan version for the project. The
// plan singleton is created on first use; a plan is never edited, each
// run appends version N+1. The version key derives from the generation
// ID so a redelivered job re-appends nothing.
func (p *Pipeline) runPlan(ctx context.Context, job Job) error {
	proj, err := p.beginProject(ctx, job)
	if err != nil {
		return err
	}
	reqs, err := p.activeRequirements(ctx, job.ProjectID)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		return businessf("project %s has no active requirements to plan against", job.ProjectID)
	}

	prompt, err := renderPrompt("plan", planPromptData{Brief: proj.Brief, Requirements: reqs})
	if err != nil {
		return err
	}
	content, err := p.complete(ctx, StagePlan, prompt, true)
	if err != nil {
		return err
	}

	var payload planPayload
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return businessf("plan response contains no JSON object")
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return businessf("malformed plan response: %w", err)
	}
	if len(payload.Breakdown) == 0 {
		return businessf("model returned an empty cost breakdown")
	}

	plan, err := p.store.EnsurePlan(ctx, job.ProjectID)
	if err != nil {
		return err
	}

	breakdown := make([]store.CostLine, 0, len(payload.Breakdown))
	total := 0.0
	for _, line := range payload.Breakdown {
		cost := line.Hours * payload.HourlyRates[line.Role]
		breakdown = append(breakdown, store.CostLine{
			Role:  line.Role,
			Hours: line.Hours,
			Cost:  cost,
		})
		total += cost
	}

	version := &store.DevelopmentPlanVersion{
		ID:            store.PlanVersionEntityID(job.GenerationID),
		PlanID:        plan.ID,
		VersionNumber: plan.CurrentVersionNumber + 1,
		Breakdown:     breakdown,
		TotalCost:     total,
		Notes:         payload.Notes,
		CreatedBy:     pipelineActor,
	}
	if err := p.store.CreatePlanVersion(ctx, version); err != nil {
		if errors.Is(err, store.ErrExists) {
			// Redelivered job: reuse the version this generation already
			// appended so the singleton update stays idempotent.
			existing, gerr := p.store.GetPlanVersion(ctx, version.ID)
			if gerr != nil {
				return gerr
			}
			version = existing
		} else {
			return err
		}
	}

	if _, err := p.store.UpdatePlan(ctx, job.ProjectID, func(cur *store.DevelopmentPlan) error {
		if cur.CurrentVersionNumber < version.VersionNumber {
			cur.CurrentVersionNumber = version.VersionNumber
		}
		cur.HourlyRates = payload.HourlyRates
		return nil
	}); err != nil {
		return err
	}

	p.logger.Info("plan version appended",
		"project", job.ProjectID, "version", version.VersionNumber, "total_cost", version.TotalCost)

	proj.SetProgress(store.ArtifactPlan, 1, 1)
	return p.store.SaveProject(ctx, proj)
}

// activeRequirements returns the project's draft/active requirements,
// the set every downstream stage generates against.
func (p *Pipeline) activeRequirements(ctx context.Context, projectID string) ([]*store.Requirement, error) {
	reqs, err := p.store.ListRequirementsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	active := reqs[:0]
	for _, r := range reqs {
		if r.Lifecycle == store.LifecycleActive || r.Lifecycle == store.LifecycleDraft {
			active = append(active, r)
		}
	}
	return active, nil
}
