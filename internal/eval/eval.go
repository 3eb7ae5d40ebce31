// Package eval scores recommendations against scenario fixtures and,
// optionally, an LLM faithfulness judge. Every scoring pass appends a new
// evaluation row, never overwriting earlier ones, so score trends survive
// repeated runs.
package eval

import (
	"encoding/json"
	"math"
	"time"
)

// NeutralFaithfulness is the default faithfulness score when the LLM judge
// is skipped.
const NeutralFaithfulness = 3

// Scores holds the six evaluation dimensions, each on a 1–5 integer scale.
type Scores struct {
	Accuracy           int `json:"accuracy"`
	Helpfulness        int `json:"helpfulness"`
	Faithfulness       int `json:"faithfulness"`
	Actionability      int `json:"actionability"`
	Completeness       int `json:"completeness"`
	RetrievalRelevance int `json:"retrievalRelevance"`
}

// Overall is the rounded mean of the six dimensions.
func (s Scores) Overall() int {
	sum := s.Accuracy + s.Helpfulness + s.Faithfulness +
		s.Actionability + s.Completeness + s.RetrievalRelevance
	return int(math.Round(float64(sum) / 6))
}

// Evaluation is one persisted scoring pass over a recommendation.
type Evaluation struct {
	ID               string
	RecommendationID string
	ScenarioID       string
	Scores           Scores
	Overall          int
	Issues           []string
	MissingEvidence  []string
	LLMJudgeOutput   json.RawMessage
	CreatedAt        time.Time
}

// clampScore forces a computed score onto the 1–5 scale.
func clampScore(v int) int {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}
