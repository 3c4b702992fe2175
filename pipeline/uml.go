package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/draftforge/draftforge/store"
)

// runDiagrams generates one UML diagram kind for the project. A full
// chain run fans out four of these jobs, one per kind; the fan-in back
// into the chain happens in advance, not here.
func (p *Pipeline) runDiagrams(ctx context.Context, job Job) error {
	proj, err := p.beginProject(ctx, job)
	if err != nil {
		return err
	}
	reqs, err := p.activeRequirements(ctx, job.ProjectID)
	if err != nil {
		return err
	}

	prompt, err := renderPrompt("diagram", diagramPromptData{
		Brief:        proj.Brief,
		Kind:         job.DiagramKind,
		Requirements: reqs,
	})
	if err != nil {
		return err
	}
	content, err := p.complete(ctx, StageDiagrams, prompt, false)
	if err != nil {
		return err
	}
	source := extractDiagramSource(content)
	if source == "" {
		return businessf("model returned no %s diagram source", job.DiagramKind)
	}

	// Link the diagram to the plan version of the same generation when
	// one exists; a standalone diagram run has none.
	planVersionID := ""
	if pv, err := p.store.GetPlanVersion(ctx, store.PlanVersionEntityID(job.GenerationID)); err == nil {
		planVersionID = pv.ID
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	now := p.now()
	d := &store.UmlDiagram{
		ID:            store.DiagramEntityID(job.GenerationID, job.DiagramKind),
		ProjectID:     job.ProjectID,
		PlanVersionID: planVersionID,
		GenerationID:  job.GenerationID,
		Kind:          job.DiagramKind,
		Source:        source,
	}
	d.Generation.Start(now)
	d.Generation.Complete(now)
	if err := p.store.CreateDiagram(ctx, d); err != nil && !errors.Is(err, store.ErrExists) {
		return err
	}

	diagrams, err := p.store.ListDiagramsByGeneration(ctx, job.GenerationID)
	if err != nil {
		return err
	}
	proj.SetProgress(store.ArtifactDiagrams, len(store.DiagramKinds), len(diagrams))
	return p.store.SaveProject(ctx, proj)
}

// extractDiagramSource pulls PlantUML out of a model response, stripping
// a markdown fence when present and trimming chatter around the
// @startuml block.
func extractDiagramSource(content string) string {
	s := strings.TrimSpace(content)
	if start := strings.Index(s, "```"); start >= 0 {
		rest := s[start+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			s = rest[:end]
		} else {
			s = rest
		}
		s = strings.TrimSpace(s)
	}
	if start := strings.Index(s, "@startuml"); start >= 0 {
		if end := strings.Index(s, "@enduml"); end > start {
			return strings.TrimSpace(s[start : end+len("@enduml")])
		}
		return ""
	}
	return s
}
