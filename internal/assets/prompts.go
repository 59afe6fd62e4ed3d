// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at compile time.
package assets

import (
	"bytes"
	_ "embed"
	"text/template"
)

// --- Static prompts (no dynamic data) ---

// TranscribePrompt asks the multimodal model to transcribe and translate a voice note.
//
//go:embed prompts/transcribe.txt
var TranscribePrompt string

// TranslateTanglishPrompt is the system prompt for code-switched Tamil/English input.
//
//go:embed prompts/translate-tanglish.txt
var TranslateTanglishPrompt string

// TranslateEnglishPrompt is the system prompt for cleaning up English input.
//
//go:embed prompts/translate-english.txt
var TranslateEnglishPrompt string

// DecisionSystemPrompt defines the verdict JSON schema and decision policy.
//
//go:embed prompts/decision-system.txt
var DecisionSystemPrompt string

// HouseAnalysisPrompt defines the house report JSON schema.
//
//go:embed prompts/house-analysis.txt
var HouseAnalysisPrompt string

// QualityCheckPrompt asks whether one photo is usable evidence.
//
//go:embed prompts/quality-check.txt
var QualityCheckPrompt string

// --- Dynamic prompt templates ---

//go:embed prompts/decision-user.txt
var decisionUserTemplate string

var decisionUserTmpl = template.Must(template.New("decision-user").Parse(decisionUserTemplate))

// DecisionData holds the dynamic data injected into the decision prompt.
type DecisionData struct {
	// HistoricalContext is the formatted retrieval block. Empty omits the section.
	HistoricalContext string
	Narrative         string
}

// RenderDecisionUserPrompt renders the user message for the decision stage.
func RenderDecisionUserPrompt(historicalContext, narrative string) string {
	var buf bytes.Buffer
	// Execution errors are not expected with this template; return whatever rendered.
	_ = decisionUserTmpl.Execute(&buf, DecisionData{
		HistoricalContext: historicalContext,
		Narrative:         narrative,
	})
	return buf.String()
}
