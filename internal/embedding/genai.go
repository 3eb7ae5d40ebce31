package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/leafcheck/leafcheck/internal/chunk"
)

// GenAI is the Gemini-backed embedding provider.
//
// gemini-embedding-001 emits 3072 dimensions by default; OutputDimensionality
// truncates to the schema's fixed sizes (Matryoshka Representation Learning).
type GenAI struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGenAI creates a provider using the given genai client and embedder model.
func NewGenAI(client *genai.Client, model string, logger *slog.Logger) *GenAI {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenAI{client: client, model: model, logger: logger}
}

// EmbedText implements Provider.
func (g *GenAI) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return g.embed(ctx, text, chunk.TextDim)
}

// EmbedImage implements Provider. Image content reaches the embedder as a
// caption; the 512-dim profile matches the image chunk schema.
func (g *GenAI) EmbedImage(ctx context.Context, caption string) ([]float32, error) {
	return g.embed(ctx, caption, chunk.ImageDim)
}

func (g *GenAI) embed(ctx context.Context, text string, dim int32) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{OutputDimensionality: &dim})
	if err != nil {
		return nil, fmt.Errorf("embedding content: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp.Embeddings[0].Values, nil
}

// EmbedTextBatch implements Provider. At most MaxBatchSize inputs per call;
// the provider call is not retried on failure.
func (g *GenAI) EmbedTextBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: got %d inputs, max %d", ErrBatchTooLarge, len(texts), MaxBatchSize)
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		if t == "" {
			return nil, ErrEmptyInput
		}
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}

	dim := int32(chunk.TextDim)
	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents,
		&genai.EmbedContentConfig{OutputDimensionality: &dim})
	if err != nil {
		return nil, fmt.Errorf("embedding batch of %d: %w", len(texts), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmptyResponse, len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if len(e.Values) == 0 {
			return nil, ErrEmptyResponse
		}
		out[i] = e.Values
	}
	return out, nil
}
