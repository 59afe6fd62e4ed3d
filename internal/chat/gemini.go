package chat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/scholarship-verification/internal/metrics"
)

// GenerateRequest is one single-turn call to the multimodal backend.
type GenerateRequest struct {
	System      string
	Prompt      string
	Parts       []*genai.Part // uploaded media, placed before Prompt
	Temperature *float32
	JSON        bool // request application/json output
}

// Multimodal is the backend used for audio, images, and as the text fallback.
type Multimodal interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	// Upload sends a local file and returns a part referencing it plus a
	// cleanup func that deletes the remote copy. Cleanup is never nil.
	Upload(ctx context.Context, path, mimeType string) (*genai.Part, func(), error)
}

// Polling for uploaded files that are still being processed.
const (
	uploadPollingInterval = 2 * time.Second
	uploadTimeout         = 5 * time.Minute
)

// GeminiClient talks to the Gemini API. It owns the underlying genai client.
type GeminiClient struct {
	client *genai.Client
	model  string
	retry  RetryPolicy

	pollInterval time.Duration
}

var _ Multimodal = (*GeminiClient)(nil)

// NewGeminiClient creates a client for the Gemini Developer API. An empty
// key returns ErrUnavailable so hosts can run with the AI stages degraded.
func NewGeminiClient(ctx context.Context, apiKey, model string, retry RetryPolicy) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrUnavailable)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = GetModelName()
	}
	return &GeminiClient{client: client, model: model, retry: retry, pollInterval: uploadPollingInterval}, nil
}

// Client exposes the genai client so embedders can share its transport.
func (g *GeminiClient) Client() *genai.Client {
	return g.client
}

// Model returns the generation model name.
func (g *GeminiClient) Model() string {
	return g.model
}

// Generate sends one request, retrying transient errors per the retry policy.
func (g *GeminiClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	parts := make([]*genai.Part, 0, len(req.Parts)+1)
	parts = append(parts, req.Parts...)
	if req.Prompt != "" {
		parts = append(parts, genai.NewPartFromText(req.Prompt))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{Temperature: req.Temperature}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	start := time.Now()
	text, err := Retry(ctx, g.retry, "gemini.generate", func() (string, error) {
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
		if err != nil {
			return "", classify("gemini", err)
		}
		return resp.Text(), nil
	})

	m := metrics.New().
		Dimension("Backend", "gemini").
		Duration("BackendLatencyMs", start).
		Count("BackendCalls")
	if err != nil {
		m.Count("BackendErrors")
	}
	m.Flush()

	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	log.Debug().Str("model", g.model).Int("responseLength", len(text)).Msg("Gemini response received")
	return text, nil
}

// GenerateText is a single-turn text completion.
func (g *GeminiClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	return g.Generate(ctx, GenerateRequest{Prompt: prompt})
}

// Upload streams a file to the Files API and waits until it leaves the
// PROCESSING state.
func (g *GeminiClient) Upload(ctx context.Context, path, mimeType string) (*genai.Part, func(), error) {
	noop := func() {}

	f, err := os.Open(path)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	uploadStart := time.Now()
	file, err := g.client.Files.Upload(ctx, f, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: filepath.Base(path),
	})
	if err != nil {
		return nil, noop, fmt.Errorf("failed to upload file: %w", classify("gemini", err))
	}

	cleanup := func() {
		delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if _, err := g.client.Files.Delete(delCtx, file.Name, nil); err != nil {
			log.Warn().Err(err).Str("file", file.Name).Msg("Failed to delete uploaded file")
		}
	}

	deadline := time.Now().Add(uploadTimeout)
	for file.State == genai.FileStateProcessing {
		if time.Now().After(deadline) {
			cleanup()
			return nil, noop, fmt.Errorf("timeout waiting for file processing after %v", uploadTimeout)
		}
		select {
		case <-ctx.Done():
			cleanup()
			return nil, noop, ctx.Err()
		case <-time.After(g.pollInterval):
		}
		file, err = g.client.Files.Get(ctx, file.Name, nil)
		if err != nil {
			cleanup()
			return nil, noop, fmt.Errorf("failed to get file state: %w", err)
		}
	}
	if file.State == genai.FileStateFailed {
		cleanup()
		return nil, noop, fmt.Errorf("file processing failed: %s", filepath.Base(path))
	}

	metrics.New().
		Dimension("Operation", "upload").
		Duration("GeminiUploadMs", uploadStart).
		Metric("GeminiUploadBytes", float64(derefSize(file.SizeBytes)), metrics.UnitBytes).
		Flush()

	log.Debug().
		Str("name", file.Name).
		Str("mimeType", mimeType).
		Dur("uploadDuration", time.Since(uploadStart)).
		Msg("File uploaded")

	uploadedMime := file.MIMEType
	if strings.TrimSpace(uploadedMime) == "" {
		uploadedMime = mimeType
	}
	return genai.NewPartFromURI(file.URI, uploadedMime), cleanup, nil
}

func derefSize(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
