package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/fpang/scholarship-verification/internal/metrics"
)

// DefaultGroqBaseURL is Groq's OpenAI-compatible endpoint.
const DefaultGroqBaseURL = "https://api.groq.com/openai/v1/"

const groqRequestTimeout = 30 * time.Second

// CompletionRequest is a system + user chat completion.
type CompletionRequest struct {
	System      string
	User        string
	Temperature float64
	JSON        bool
}

// TextCompleter produces text from a chat completion request.
type TextCompleter interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// GroqClient calls Groq through the OpenAI-compatible chat API.
type GroqClient struct {
	client     openai.Client
	model      string
	configured bool
	retry      RetryPolicy
}

var _ TextCompleter = (*GroqClient)(nil)

// NewGroqClient builds a client. With an empty key the client is returned
// unconfigured and every Complete call fails with ErrUnavailable.
func NewGroqClient(apiKey, baseURL, model string, retry RetryPolicy) *GroqClient {
	if baseURL == "" {
		baseURL = DefaultGroqBaseURL
	}
	if model == "" {
		model = ModelGroqLlama33
	}
	g := &GroqClient{model: model, configured: apiKey != "", retry: retry}
	if g.configured {
		g.client = openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(baseURL),
			option.WithMaxRetries(0), // Retry owns retries
			option.WithRequestTimeout(groqRequestTimeout),
		)
	}
	return g
}

// Configured reports whether an API key was supplied.
func (g *GroqClient) Configured() bool {
	return g != nil && g.configured
}

// Complete runs one chat completion.
func (g *GroqClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if !g.Configured() {
		return "", fmt.Errorf("groq: %w", ErrUnavailable)
	}

	params := openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	start := time.Now()
	text, err := Retry(ctx, g.retry, "groq.complete", func() (string, error) {
		resp, err := g.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", classify("groq", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("groq returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})

	m := metrics.New().
		Dimension("Backend", "groq").
		Duration("BackendLatencyMs", start).
		Count("BackendCalls")
	if err != nil {
		m.Count("BackendErrors")
	}
	m.Flush()

	if err != nil {
		return "", fmt.Errorf("groq complete: %w", err)
	}
	return strings.TrimSpace(text), nil
}
