package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/draftforge/draftforge/llm"
	"github.com/draftforge/draftforge/store"
)

// storyItem is the shape the model returns per user story.
type storyItem struct {
	Role               string   `json:"role"`
	Action             string   `json:"action"`
	Benefit            string   `json:"benefit"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

type storiesPayload struct {
	Stories []storyItem `json:"stories"`
}

// runUserStories handles both variants of the user-story stage. Full
// runs generate stories for every active functional requirement of the
// project. Targeted runs regenerate one requirement's stories, or
// rewrite one story in place, depending on the target's entity type.
func (p *Pipeline) runUserStories(ctx context.Context, job Job) error {
	if job.Full {
		return p.storiesForProject(ctx, job)
	}

	id, err := store.ParseEntityID(job.TargetID)
	if err != nil {
		return businessf("invalid target %q: %w", job.TargetID, err)
	}
	switch id.Type {
	case store.EntityTypeRequirement:
		req, err := p.store.GetRequirement(ctx, job.TargetID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return businessf("requirement %s not found", job.TargetID)
			}
			return err
		}
		proj, err := p.store.GetProject(ctx, req.ProjectID)
		if err != nil {
			return err
		}
		if err := p.storiesForRequirement(ctx, job, proj, req); err != nil {
			// Targeted runs have no project-level failure path, so record
			// a business failure on the requirement's surviving stories.
			if IsBusiness(err) {
				if serr := p.failRequirementStories(ctx, req.ID, err.Error()); serr != nil {
					return serr
				}
			}
			return err
		}
		return nil
	case store.EntityTypeUserStory:
		return p.rewriteStory(ctx, job)
	default:
		return businessf("user-story stage cannot target a %s", id.Type)
	}
}

func (p *Pipeline) storiesForProject(ctx context.Context, job Job) error {
	proj, err := p.beginProject(ctx, job)
	if err != nil {
		return err
	}
	reqs, err := p.store.ListRequirementsByProject(ctx, job.ProjectID)
	if err != nil {
		return err
	}

	// Only functional requirements receive story children.
	total := 0
	for _, req := range reqs {
		if req.Lifecycle != store.LifecycleActive || req.Category != store.CategoryFunctional {
			continue
		}
		if err := p.storiesForRequirement(ctx, job, proj, req); err != nil {
			return err
		}
		stories, err := p.store.ListUserStoriesByRequirement(ctx, req.ID)
		if err != nil {
			return err
		}
		for _, st := range stories {
			if st.GenerationID == job.GenerationID {
				total++
			}
		}
	}

	proj.SetProgress(store.ArtifactUserStories, total, total)
	return p.store.SaveProject(ctx, proj)
}

// storiesForRequirement regenerates the stories under one requirement:
// one generation call, archive the requirement's prior stories, create
// the new set under deterministic keys.
func (p *Pipeline) storiesForRequirement(ctx context.Context, job Job, proj *store.Project, req *store.Requirement) error {
	// Redelivered job: stories from this generation already exist under
	// the requirement. Calling the model again could answer differently
	// and leave extras next to them.
	existing, err := p.store.ListUserStoriesByRequirement(ctx, req.ID)
	if err != nil {
		return err
	}
	for _, st := range existing {
		if st.GenerationID == job.GenerationID {
			p.logger.Info("stories already generated, skipping",
				"requirement", req.ID, "generation", job.GenerationID)
			return nil
		}
	}

	prompt, err := renderPrompt("userstories", userStoriesPromptData{
		Brief:       proj.Brief,
		Requirement: req,
		Feedback:    job.Feedback,
	})
	if err != nil {
		return err
	}
	content, err := p.complete(ctx, StageUserStories, prompt, true)
	if err != nil {
		return err
	}

	var payload storiesPayload
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return businessf("user-story response for %s contains no JSON object", req.ID)
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return businessf("malformed user-story response for %s: %w", req.ID, err)
	}
	if len(payload.Stories) == 0 {
		return businessf("model returned no stories for %s", req.ID)
	}

	if _, err := p.store.ArchiveRequirementStories(ctx, req.ID, job.GenerationID, pipelineActor); err != nil {
		return err
	}

	now := p.now()
	for i, item := range payload.Stories {
		st := &store.UserStory{
			ID:                 store.UserStoryEntityID(job.GenerationID, req.ID, i),
			ProjectID:          req.ProjectID,
			RequirementID:      req.ID,
			GenerationID:       job.GenerationID,
			Role:               item.Role,
			Action:             item.Action,
			Benefit:            item.Benefit,
			AcceptanceCriteria: item.AcceptanceCriteria,
			Lifecycle:          store.LifecycleActive,
		}
		st.Generation.Start(now)
		st.Generation.Complete(now)
		if err := p.store.CreateUserStory(ctx, st); err != nil {
			if errors.Is(err, store.ErrExists) {
				continue
			}
			return err
		}
	}
	return nil
}

// failRequirementStories marks every active story under a requirement
// as failed so the outcome of a targeted regeneration is visible on the
// entities instead of only in the logs.
func (p *Pipeline) failRequirementStories(ctx context.Context, reqID, cause string) error {
	stories, err := p.store.ListUserStoriesByRequirement(ctx, reqID)
	if err != nil {
		return err
	}
	now := p.now()
	for _, st := range stories {
		if st.Lifecycle != store.LifecycleActive {
			continue
		}
		if err := p.store.SetUserStoryState(ctx, st.ID, func(g *store.GenerationState) {
			g.Fail(now, cause)
		}); err != nil {
			return err
		}
	}
	return nil
}

// rewriteStory replaces one story's content in place: same identity,
// history snapshot of the prior state, version_number+1.
func (p *Pipeline) rewriteStory(ctx context.Context, job Job) error {
	st, err := p.store.GetUserStory(ctx, job.TargetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return businessf("user story %s not found", job.TargetID)
		}
		return err
	}
	if err := p.store.SetUserStoryState(ctx, st.ID, func(g *store.GenerationState) {
		g.Start(p.now())
	}); err != nil {
		return err
	}

	rewritten, rerr := p.rewrittenStory(ctx, st, job.Feedback)
	if rerr != nil {
		if IsBusiness(rerr) {
			cause := rerr.Error()
			if serr := p.store.SetUserStoryState(ctx, st.ID, func(g *store.GenerationState) {
				g.Fail(p.now(), cause)
			}); serr != nil {
				return serr
			}
		}
		return rerr
	}

	_, err = p.store.UpdateUserStory(ctx, st.ID, pipelineActor, func(cur *store.UserStory) error {
		cur.Role = rewritten.Role
		cur.Action = rewritten.Action
		cur.Benefit = rewritten.Benefit
		cur.AcceptanceCriteria = rewritten.AcceptanceCriteria
		cur.Generation.Complete(p.now())
		return nil
	})
	return err
}

func (p *Pipeline) rewrittenStory(ctx context.Context, st *store.UserStory, feedback string) (*storyItem, error) {
	prompt, err := renderPrompt("onestory", oneStoryPromptData{Story: st, Feedback: feedback})
	if err != nil {
		return nil, err
	}
	content, err := p.complete(ctx, StageUserStories, prompt, true)
	if err != nil {
		return nil, err
	}
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return nil, businessf("story rewrite response contains no JSON object")
	}
	var item storyItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return nil, businessf("malformed story rewrite response: %w", err)
	}
	if item.Action == "" {
		return nil, businessf("story rewrite response missing action")
	}
	return &item, nil
}
