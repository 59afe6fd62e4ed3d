package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Embedder turns text into a fixed-dimension vector. Queries and stored
// cases must use the same Embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DefaultGeminiEmbeddingModel produces 768-dimension vectors.
const DefaultGeminiEmbeddingModel = "text-embedding-004"

// GeminiEmbedder embeds text through the Gemini API.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
}

var _ Embedder = (*GeminiEmbedder)(nil)

// NewGeminiEmbedder shares an existing genai client.
func NewGeminiEmbedder(client *genai.Client, model string) *GeminiEmbedder {
	if model == "" {
		model = DefaultGeminiEmbeddingModel
	}
	return &GeminiEmbedder{client: client, model: model}
}

// Embed returns the embedding of one text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"},
	)
	if err != nil {
		log.Error().Err(err).Str("model", e.model).Msg("Gemini EmbedContent failed")
		return nil, fmt.Errorf("EmbedContent: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("EmbedContent: empty embedding")
	}
	return resp.Embeddings[0].Values, nil
}

// DefaultBedrockEmbeddingModel is Amazon Titan Text Embeddings V2.
const DefaultBedrockEmbeddingModel = "amazon.titan-embed-text-v2:0"

type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions"`
	Normalize  bool   `json:"normalize"`
}

type titanEmbedResponse struct {
	Embedding           []float64 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// BedrockEmbedder embeds text with Amazon Titan on Bedrock.
type BedrockEmbedder struct {
	client     *bedrockruntime.Client
	modelID    string
	dimensions int
}

var _ Embedder = (*BedrockEmbedder)(nil)

// NewBedrockEmbedder creates a Titan embedder. dimensions is 256, 512, or 1024.
func NewBedrockEmbedder(client *bedrockruntime.Client, modelID string, dimensions int) *BedrockEmbedder {
	if modelID == "" {
		modelID = DefaultBedrockEmbeddingModel
	}
	if dimensions <= 0 {
		dimensions = 1024
	}
	return &BedrockEmbedder{client: client, modelID: modelID, dimensions: dimensions}
}

// Embed returns the normalized Titan embedding of one text.
func (e *BedrockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanEmbedRequest{
		InputText:  text,
		Dimensions: e.dimensions,
		Normalize:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	result, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		log.Error().Err(err).Str("modelId", e.modelID).Msg("Bedrock InvokeModel failed")
		return nil, fmt.Errorf("InvokeModel: %w", err)
	}

	var resp titanEmbedResponse
	if err := json.NewDecoder(bytes.NewReader(result.Body)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	embedding := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		embedding[i] = float32(v)
	}
	return embedding, nil
}
