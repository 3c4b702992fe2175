package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/draftforge/draftforge/llm"
	"github.com/draftforge/draftforge/store"
)

// requirementItem is the shape the model returns per requirement. Parent
// is a 0-based index into the same array, or null.
type requirementItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Type        string `json:"type"`
	Parent      *int   `json:"parent"`
}

type requirementsPayload struct {
	Requirements []requirementItem `json:"requirements"`
}

// runRequirements regenerates the full requirement set for a project:
// archive the previous generation, create the new one, then resolve
// parent links in a second pass once every sibling has an identity.
func (p *Pipeline) runRequirements(ctx context.Context, job Job) error {
	proj, err := p.beginProject(ctx, job)
	if err != nil {
		return err
	}

	// Redelivered job: if this generation already produced requirements,
	// skip the model call entirely. A second call could answer differently
	// and leave extras alongside the first response's entities.
	existing, err := p.store.ListRequirementsByProject(ctx, job.ProjectID)
	if err != nil {
		return err
	}
	done := 0
	for _, r := range existing {
		if r.GenerationID == job.GenerationID {
			done++
		}
	}
	if done > 0 {
		p.logger.Info("requirements already generated, skipping",
			"project", job.ProjectID, "generation", job.GenerationID, "count", done)
		proj.SetProgress(store.ArtifactRequirements, done, done)
		return p.store.SaveProject(ctx, proj)
	}

	prompt, err := renderPrompt("requirements", requirementsPromptData{Brief: proj.Brief})
	if err != nil {
		return err
	}
	content, err := p.complete(ctx, StageRequirements, prompt, true)
	if err != nil {
		return err
	}

	var payload requirementsPayload
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return businessf("requirements response contains no JSON object")
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return businessf("malformed requirements response: %w", err)
	}
	if len(payload.Requirements) == 0 {
		return businessf("model returned no requirements")
	}

	if _, err := p.store.ArchiveProjectRequirements(ctx, job.ProjectID, job.GenerationID, pipelineActor); err != nil {
		return err
	}

	// First pass: materialize every sibling with a deterministic key so
	// indices have identities to resolve against.
	reqs := make([]*store.Requirement, len(payload.Requirements))
	for i, item := range payload.Requirements {
		title := item.Title
		if title == "" {
			title = "Untitled"
		}
		reqs[i] = &store.Requirement{
			ID:           store.RequirementEntityID(job.GenerationID, i),
			ProjectID:    job.ProjectID,
			GenerationID: job.GenerationID,
			Title:        title,
			Body:         item.Description,
			Category:     store.NormalizeCategory(item.Category),
			Type:         store.NormalizeRequirementType(item.Type),
			Lifecycle:    store.LifecycleActive,
		}
	}

	// Second pass: resolve parent indices. Out-of-range and
	// self-referential links are skipped, not failed; partial acceptance
	// is deliberate.
	for i, item := range payload.Requirements {
		if item.Parent == nil {
			continue
		}
		idx := *item.Parent
		if idx < 0 || idx >= len(reqs) || idx == i {
			p.logger.Debug("skipping unresolvable parent link",
				"project", job.ProjectID, "index", i, "parent", idx)
			continue
		}
		reqs[i].ParentID = reqs[idx].ID
	}

	created := 0
	for _, r := range reqs {
		if err := p.store.CreateRequirement(ctx, r); err != nil {
			if errors.Is(err, store.ErrExists) {
				continue // redelivered job, sibling already persisted
			}
			return err
		}
		created++
	}
	p.logger.Info("requirements generated",
		"project", job.ProjectID, "total", len(reqs), "created", created)

	proj.SetProgress(store.ArtifactRequirements, len(reqs), len(reqs))
	return p.store.SaveProject(ctx, proj)
}
