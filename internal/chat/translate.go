package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/fpang/scholarship-verification/internal/assets"
)

// NoText marks a translation that ran on empty input.
const NoText = "no text"

// Translator rewrites volunteer comments as professional English.
type Translator struct {
	text TextCompleter
}

// NewTranslator creates a Translator on a text backend.
func NewTranslator(text TextCompleter) *Translator {
	return &Translator{text: text}
}

// Translate returns NoText for blank input without calling the backend.
// isTanglish selects the code-switched translation prompt.
func (t *Translator) Translate(ctx context.Context, text string, isTanglish bool) (string, error) {
	if strings.TrimSpace(text) == "" {
		return NoText, nil
	}
	if t.text == nil {
		return "", fmt.Errorf("translate: %w", ErrUnavailable)
	}

	system := assets.TranslateEnglishPrompt
	if isTanglish {
		system = assets.TranslateTanglishPrompt
	}
	out, err := t.text.Complete(ctx, CompletionRequest{
		System:      system,
		User:        "Convert this text:\n" + text,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	return strings.TrimSpace(out), nil
}
