package chat

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

// TextBackend runs text completions on a fast primary backend and falls back
// to the multimodal backend when the primary is unavailable or fails.
type TextBackend struct {
	primary  TextCompleter
	fallback Multimodal
}

var _ TextCompleter = (*TextBackend)(nil)

// NewTextBackend wires a primary and a fallback. Either may be nil; a
// missing backend is reported once here rather than on every call.
func NewTextBackend(primary TextCompleter, fallback Multimodal) *TextBackend {
	switch {
	case primary == nil && fallback == nil:
		log.Warn().Msg("No text backend configured, text stages will degrade")
	case primary == nil:
		log.Warn().Msg("Groq not configured, text completions fall back to Gemini")
	}
	return &TextBackend{primary: primary, fallback: fallback}
}

// Complete tries the primary, then the fallback. The fallback receives the
// system prompt and the user message as one single-turn prompt.
func (t *TextBackend) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	var primaryErr error
	if t.primary != nil {
		out, err := t.primary.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		primaryErr = err
		log.Warn().Err(err).Msg("Primary text backend failed, falling back to Gemini")
	}
	if t.fallback == nil {
		if primaryErr != nil {
			return "", primaryErr
		}
		return "", ErrUnavailable
	}

	temp := float32(req.Temperature)
	out, err := t.fallback.Generate(ctx, GenerateRequest{
		Prompt:      req.System + "\n\nTask: " + req.User,
		Temperature: &temp,
		JSON:        req.JSON,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
