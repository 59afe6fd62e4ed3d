package chat

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/scholarship-verification/internal/assets"
)

// ParseFailureSummary is the single summary point of an unparseable verdict.
const ParseFailureSummary = "Error parsing AI analysis."

// DecisionSynthesizer produces the recommendation from the merged narrative.
type DecisionSynthesizer struct {
	text TextCompleter
}

// NewDecisionSynthesizer creates a synthesizer on a text backend.
func NewDecisionSynthesizer(text TextCompleter) *DecisionSynthesizer {
	return &DecisionSynthesizer{text: text}
}

// Synthesize asks for a JSON verdict and normalizes it. A response that does
// not parse yields ON_HOLD with score 0 and a one-point summary, never an
// error. Backend failures are returned.
func (d *DecisionSynthesizer) Synthesize(ctx context.Context, narrative, historicalContext string) (Verdict, error) {
	if d.text == nil {
		return NeutralVerdict(), fmt.Errorf("decision: %w", ErrUnavailable)
	}

	raw, err := d.text.Complete(ctx, CompletionRequest{
		System:      assets.DecisionSystemPrompt,
		User:        assets.RenderDecisionUserPrompt(historicalContext, narrative),
		Temperature: 0.1,
		JSON:        true,
	})
	if err != nil {
		return NeutralVerdict(), fmt.Errorf("decision: %w", err)
	}

	v, err := decodeVerdict(raw)
	if err != nil {
		log.Warn().Err(err).Int("responseLength", len(raw)).Msg("Failed to parse decision response")
		return Verdict{
			Summary:  []string{ParseFailureSummary},
			Decision: DecisionOnHold,
			Score:    0,
		}, nil
	}

	log.Info().
		Str("decision", string(v.Decision)).
		Float64("score", v.Score).
		Msg("Decision synthesized")
	return v, nil
}
