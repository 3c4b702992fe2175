package pipeline

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/draftforge/draftforge/store"
)

// Prompt construction is data-driven: one template per stage, rendered
// from the brief and already-persisted upstream entities. Wording is
// deliberately plain; the executors validate shape, not prose.

var promptTemplates = template.Must(template.New("prompts").Parse(`
{{define "brief" -}}
Project: {{.Name}}
Description: {{.Description}}
{{- if .TargetPlatform}}
Target platform: {{.TargetPlatform}}{{end}}
{{- if .Language}}
Language: {{.Language}}{{end}}
{{- if .TechnologyStack}}
Technology stack: {{.TechnologyStack}}{{end}}
{{- if .TargetUsers}}
Target users: {{.TargetUsers}}{{end}}
{{- if .Constraints}}
Constraints:
{{- range .Constraints}}
- {{.}}{{end}}{{end}}
{{- end}}

{{define "requirements" -}}
You are a requirements analyst. Based on the project brief below, produce
the software requirements.

{{template "brief" .Brief}}

Respond with a JSON object of the form:
{"requirements": [{"title": "...", "description": "...",
"category": "functional|non_functional|ui_ux|other",
"type": "feature|constraint|quality|interface|security|performance|other",
"parent": null}]}

"parent" may be the 0-based index of another requirement in the same
array when this requirement refines it, otherwise null.
{{- end}}

{{define "userstories" -}}
You are a product analyst. Write user stories for the requirement below.

{{template "brief" .Brief}}

Requirement: {{.Requirement.Title}}
{{.Requirement.Body}}
{{- if .Feedback}}

Reviewer feedback to address: {{.Feedback}}{{end}}

Respond with a JSON object of the form:
{"stories": [{"role": "...", "action": "...", "benefit": "...",
"acceptance_criteria": ["..."]}]}
{{- end}}

{{define "onestory" -}}
You are a product analyst. Rewrite the user story below.

Current story: As a {{.Story.Role}}, I want {{.Story.Action}}, so that {{.Story.Benefit}}.
Acceptance criteria:
{{- range .Story.AcceptanceCriteria}}
- {{.}}{{end}}
{{- if .Feedback}}

Reviewer feedback to address: {{.Feedback}}{{end}}

Respond with a JSON object of the form:
{"role": "...", "action": "...", "benefit": "...",
"acceptance_criteria": ["..."]}
{{- end}}

{{define "plan" -}}
You are an engineering estimator. Produce a development cost plan for the
project below.

{{template "brief" .Brief}}
{{- if .Brief.Budget}}
Preliminary budget: {{.Brief.Budget}}{{end}}
{{- if .Brief.Deadline}}
Deadline: {{.Brief.Deadline}}{{end}}

Requirements:
{{- range .Requirements}}
- [{{.Category}}] {{.Title}}{{end}}

Respond with a JSON object of the form:
{"hourly_rates": {"role": 0.0},
"breakdown": [{"role": "...", "hours": 0.0}],
"notes": "..."}
{{- end}}

{{define "diagram" -}}
You are a software architect. Produce a {{.Kind}} diagram in PlantUML for
the project below.

{{template "brief" .Brief}}

Requirements:
{{- range .Requirements}}
- [{{.Category}}] {{.Title}}{{end}}

Respond with only the PlantUML source, starting with @startuml and ending
with @enduml.
{{- end}}

{{define "mockups" -}}
You are a UI designer. Produce HTML mockups for the screens of the
project below, one screen per requirement where a screen makes sense.

{{template "brief" .Brief}}
{{- if .Brief.ColorScheme}}
Color scheme: {{.Brief.ColorScheme}}{{end}}

Requirements (use the id verbatim in requirement_id):
{{- range .Requirements}}
- id={{.ID}} [{{.Category}}] {{.Title}}{{end}}

Respond with a JSON object of the form:
{"screens": [{"name": "...", "requirement_id": "...",
"html": "<!DOCTYPE html>..."}]}
{{- end}}

{{define "onemockup" -}}
You are a UI designer. Rewrite the HTML mockup below, keeping it a
complete standalone page.

Screen: {{.Mockup.Name}}
{{- if .Feedback}}
Reviewer feedback to address: {{.Feedback}}{{end}}

Current HTML:
{{.Mockup.HTML}}

Respond with a JSON object of the form:
{"name": "...", "html": "<!DOCTYPE html>..."}
{{- end}}
`))

func renderPrompt(name string, data any) (string, error) {
	var sb strings.Builder
	if err := promptTemplates.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return strings.TrimSpace(sb.String()), nil
}

type requirementsPromptData struct {
	Brief store.Brief
}

type userStoriesPromptData struct {
	Brief       store.Brief
	Requirement *store.Requirement
	Feedback    string
}

type oneStoryPromptData struct {
	Story    *store.UserStory
	Feedback string
}

type planPromptData struct {
	Brief        store.Brief
	Requirements []*store.Requirement
}

type diagramPromptData struct {
	Brief        store.Brief
	Kind         store.DiagramKind
	Requirements []*store.Requirement
}

type mockupsPromptData struct {
	Brief        store.Brief
	Requirements []*store.Requirement
}

type oneMockupPromptData struct {
	Mockup   *store.Mockup
	Feedback string
}
