package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// Grounder is the external search-grounding provider.
//
// Malformed or empty responses are treated as zero results, not errors:
// hints from search grounding are advisory.
type Grounder interface {
	Search(ctx context.Context, prompt string) ([]Candidate, error)
}

// GenAIGrounder implements Grounder using Gemini with the GoogleSearch tool.
type GenAIGrounder struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGenAIGrounder creates a grounder using the given client and model.
func NewGenAIGrounder(client *genai.Client, model string, logger *slog.Logger) *GenAIGrounder {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenAIGrounder{client: client, model: model, logger: logger}
}

// Search implements Grounder. URLs come from the grounding metadata of the
// generated response, not from the model text.
func (g *GenAIGrounder) Search(ctx context.Context, prompt string) ([]Candidate, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		})
	if err != nil {
		return nil, fmt.Errorf("search grounding call: %w", err)
	}

	var out []Candidate
	for _, cand := range resp.Candidates {
		if cand.GroundingMetadata == nil {
			continue
		}
		for _, gc := range cand.GroundingMetadata.GroundingChunks {
			if gc.Web == nil || gc.Web.URI == "" {
				continue
			}
			out = append(out, Candidate{URL: gc.Web.URI, Title: gc.Web.Title})
		}
	}

	if len(out) == 0 {
		g.logger.Debug("search grounding returned no web results", "model", g.model)
	}
	return out, nil
}
