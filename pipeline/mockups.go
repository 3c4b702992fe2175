package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/draftforge/draftforge/llm"
	"github.com/draftforge/draftforge/store"
)

// screenItem is the shape the model returns per mockup screen.
type screenItem struct {
	Name          string `json:"name"`
	RequirementID string `json:"requirement_id"`
	HTML          string `json:"html"`
}

type screensPayload struct {
	Screens []screenItem `json:"screens"`
}

// runMockups handles both variants of the terminal stage. A full run
// archives the prior mockup set and creates one screen per UI-relevant
// requirement from a single generation call. A targeted run rewrites one
// mockup in place, clearing its staleness flag.
func (p *Pipeline) runMockups(ctx context.Context, job Job) error {
	if job.Full {
		return p.mockupsForProject(ctx, job)
	}
	return p.rewriteMockup(ctx, job)
}

func (p *Pipeline) mockupsForProject(ctx context.Context, job Job) error {
	proj, err := p.beginProject(ctx, job)
	if err != nil {
		return err
	}
	// Redelivered job: if this generation already produced screens, skip
	// the model call. A divergent second response would leave extra
	// screens alongside the first one's.
	existing, err := p.store.ListMockupsByProject(ctx, job.ProjectID)
	if err != nil {
		return err
	}
	done := 0
	for _, m := range existing {
		if m.GenerationID == job.GenerationID {
			done++
		}
	}
	if done > 0 {
		p.logger.Info("mockups already generated, skipping",
			"project", job.ProjectID, "generation", job.GenerationID, "count", done)
		proj.SetProgress(store.ArtifactMockups, done, done)
		return p.store.SaveProject(ctx, proj)
	}

	reqs, err := p.activeRequirements(ctx, job.ProjectID)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		return businessf("project %s has no active requirements to mock up", job.ProjectID)
	}

	prompt, err := renderPrompt("mockups", mockupsPromptData{Brief: proj.Brief, Requirements: reqs})
	if err != nil {
		return err
	}
	content, err := p.complete(ctx, StageMockups, prompt, true)
	if err != nil {
		return err
	}

	var payload screensPayload
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return businessf("mockup response contains no JSON object")
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return businessf("malformed mockup response: %w", err)
	}
	if len(payload.Screens) == 0 {
		return businessf("model returned no mockup screens")
	}
	for i, screen := range payload.Screens {
		if err := validateMarkup(screen.HTML); err != nil {
			return businessf("screen %d markup: %w", i, err)
		}
	}

	if _, err := p.store.ArchiveProjectMockups(ctx, job.ProjectID, job.GenerationID, pipelineActor); err != nil {
		return err
	}

	known := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		known[r.ID] = true
	}

	now := p.now()
	for i, screen := range payload.Screens {
		name := screen.Name
		if name == "" {
			name = "Untitled"
		}
		// Screens claiming an unknown requirement keep their content and
		// lose the link, mirroring the parent-index leniency.
		reqID := screen.RequirementID
		if !known[reqID] {
			if reqID != "" {
				p.logger.Debug("dropping unknown mockup requirement link",
					"project", job.ProjectID, "requirement", reqID)
			}
			reqID = ""
		}
		m := &store.Mockup{
			ID:            store.MockupEntityID(job.GenerationID, i),
			ProjectID:     job.ProjectID,
			RequirementID: reqID,
			GenerationID:  job.GenerationID,
			Name:          name,
			HTML:          screen.HTML,
			PreviewImage:  previewImageURL(name),
			Lifecycle:     store.LifecycleActive,
		}
		m.Generation.Start(now)
		m.Generation.Complete(now)
		if err := p.store.CreateMockup(ctx, m); err != nil {
			if errors.Is(err, store.ErrExists) {
				continue
			}
			return err
		}
	}

	proj.SetProgress(store.ArtifactMockups, len(payload.Screens), len(payload.Screens))
	return p.store.SaveProject(ctx, proj)
}

// rewriteMockup replaces one mockup's content in place: same identity,
// history snapshot, version_number+1, staleness flag cleared.
func (p *Pipeline) rewriteMockup(ctx context.Context, job Job) error {
	m, err := p.store.GetMockup(ctx, job.TargetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return businessf("mockup %s not found", job.TargetID)
		}
		return err
	}
	if err := p.store.SetMockupState(ctx, m.ID, func(g *store.GenerationState) {
		g.Start(p.now())
	}); err != nil {
		return err
	}

	screen, rerr := p.rewrittenScreen(ctx, m, job.Feedback)
	if rerr != nil {
		if IsBusiness(rerr) {
			cause := rerr.Error()
			if serr := p.store.SetMockupState(ctx, m.ID, func(g *store.GenerationState) {
				g.Fail(p.now(), cause)
			}); serr != nil {
				return serr
			}
		}
		return rerr
	}

	_, err = p.store.UpdateMockup(ctx, m.ID, pipelineActor, func(cur *store.Mockup) error {
		if screen.Name != "" {
			cur.Name = screen.Name
			cur.PreviewImage = previewImageURL(screen.Name)
		}
		cur.HTML = screen.HTML
		cur.NeedsRegeneration = false
		cur.Generation.Complete(p.now())
		return nil
	})
	return err
}

func (p *Pipeline) rewrittenScreen(ctx context.Context, m *store.Mockup, feedback string) (*screenItem, error) {
	prompt, err := renderPrompt("onemockup", oneMockupPromptData{Mockup: m, Feedback: feedback})
	if err != nil {
		return nil, err
	}
	content, err := p.complete(ctx, StageMockups, prompt, true)
	if err != nil {
		return nil, err
	}
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return nil, businessf("mockup rewrite response contains no JSON object")
	}
	var screen screenItem
	if err := json.Unmarshal([]byte(raw), &screen); err != nil {
		return nil, businessf("malformed mockup rewrite response: %w", err)
	}
	if err := validateMarkup(screen.HTML); err != nil {
		return nil, businessf("rewritten markup: %w", err)
	}
	return &screen, nil
}

// validateMarkup gates generated markup on being non-empty, parseable
// HTML containing at least one element. The parser is forgiving;
// the checks catch the model answering with prose instead of a page.
func validateMarkup(markup string) error {
	trimmed := strings.TrimSpace(markup)
	if trimmed == "" {
		return errors.New("empty markup")
	}
	if !strings.Contains(trimmed, "<") {
		return errors.New("markup contains no elements")
	}
	if _, err := html.Parse(strings.NewReader(trimmed)); err != nil {
		return err
	}
	return nil
}

// previewImageURL returns a placeholder preview reference until a real
// renderer supplies one.
func previewImageURL(name string) string {
	return "https://placehold.co/600x400?text=" + url.QueryEscape(name)
}
