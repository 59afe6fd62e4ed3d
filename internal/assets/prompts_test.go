package assets

import (
	"strings"
	"testing"
)

func TestStaticPromptsEmbedded(t *testing.T) {
	prompts := map[string]string{
		"transcribe":         TranscribePrompt,
		"translate-tanglish": TranslateTanglishPrompt,
		"translate-english":  TranslateEnglishPrompt,
		"decision-system":    DecisionSystemPrompt,
		"house-analysis":     HouseAnalysisPrompt,
		"quality-check":      QualityCheckPrompt,
	}
	for name, p := range prompts {
		if strings.TrimSpace(p) == "" {
			t.Errorf("%s prompt is empty", name)
		}
	}
	if !strings.Contains(DecisionSystemPrompt, "JSON") {
		t.Error("decision prompt must ask for JSON")
	}
}

func TestRenderDecisionUserPrompt(t *testing.T) {
	tests := []struct {
		name        string
		context     string
		wantContext bool
	}{
		{name: "with context", context: "HISTORICAL CONTEXT - Similar Verified Cases:\nCase 1:", wantContext: true},
		{name: "sentinel context", context: "No similar historical cases found.", wantContext: true},
		{name: "no context", context: "", wantContext: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderDecisionUserPrompt(tt.context, "Text Comment:\nFamily has no income.")
			if !strings.Contains(got, "CURRENT CASE:\nText Comment:\nFamily has no income.") {
				t.Errorf("narrative missing from prompt:\n%s", got)
			}
			hasGuidance := strings.Contains(got, "Use the historical context above")
			if hasGuidance != tt.wantContext {
				t.Errorf("guidance present = %v, want %v", hasGuidance, tt.wantContext)
			}
			if tt.wantContext && !strings.HasPrefix(got, tt.context) {
				t.Errorf("prompt should start with context:\n%s", got)
			}
		})
	}
}
