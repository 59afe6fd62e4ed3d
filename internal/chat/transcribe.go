package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/scholarship-verification/internal/assets"
	"github.com/fpang/scholarship-verification/internal/media"
)

// Transcriber turns a voice note into English text.
type Transcriber struct {
	backend Multimodal
}

// NewTranscriber creates a Transcriber on the multimodal backend.
func NewTranscriber(backend Multimodal) *Transcriber {
	return &Transcriber{backend: backend}
}

// Transcribe uploads the recording and returns its English transcript. An
// empty path returns "" without calling the backend.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if strings.TrimSpace(audioPath) == "" {
		return "", nil
	}
	if t.backend == nil {
		return "", fmt.Errorf("transcribe: %w", ErrUnavailable)
	}

	mimeType, err := media.MIMETypeForPath(audioPath)
	if err != nil {
		mimeType = "audio/wav"
	}

	log.Info().Str("path", audioPath).Str("mimeType", mimeType).Msg("Transcribing audio")

	part, cleanup, err := t.backend.Upload(ctx, audioPath, mimeType)
	if err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}
	defer cleanup()

	out, err := t.backend.Generate(ctx, GenerateRequest{
		Prompt: assets.TranscribePrompt,
		Parts:  []*genai.Part{part},
	})
	if err != nil {
		return "", fmt.Errorf("transcribe audio: %w", err)
	}
	return strings.TrimSpace(out), nil
}
