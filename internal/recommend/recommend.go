// Package recommend glues retrieval planning, vector search, context
// assembly, generation and audit logging into one diagnosis pipeline. The
// generator itself is an external black box: this package supplies its
// evidence and records what it cites.
package recommend

import (
	"context"

	"github.com/leafcheck/leafcheck/internal/retrieval"
)

// Action is one recommended intervention.
type Action struct {
	Text   string `json:"text"`
	Timing string `json:"timing,omitempty"`
}

// CitedChunk links a recommendation to one evidence chunk it relied on.
type CitedChunk struct {
	ChunkID   string  `json:"chunkId"`
	Relevance float64 `json:"relevance"`
}

// Recommendation is one generated diagnosis with its evidence citations.
type Recommendation struct {
	ID            string       `json:"id"`
	InputID       string       `json:"inputId"`
	Diagnosis     string       `json:"diagnosis"`
	ConditionType string       `json:"conditionType"`
	Confidence    float64      `json:"confidence"`
	Actions       []Action     `json:"actions"`
	Sources       []CitedChunk `json:"sources"`
}

// Generator produces a recommendation from an input and its assembled
// evidence context.
type Generator interface {
	Generate(ctx context.Context, in retrieval.Input, evidence retrieval.Context) (Recommendation, error)
}
