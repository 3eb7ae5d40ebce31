package eval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leafcheck/leafcheck/internal/audit"
	"github.com/leafcheck/leafcheck/internal/recommend"
	"github.com/leafcheck/leafcheck/internal/retrieval"
)

// Inserter appends one evaluation row.
type Inserter interface {
	Insert(ctx context.Context, e Evaluation) error
}

// Engine combines the rule scorer with the optional LLM judge and persists
// each pass as a new evaluation row.
type Engine struct {
	judge  Judge // nil skips the LLM judge entirely
	store  Inserter
	logger *slog.Logger
}

// NewEngine creates an evaluation engine. Pass a nil judge to run in
// rules-only mode, where faithfulness defaults to neutral.
func NewEngine(judge Judge, store Inserter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{judge: judge, store: store, logger: logger}
}

// Evaluate scores one recommendation and persists the result. A failing
// judge degrades to the neutral faithfulness score instead of failing the
// evaluation: one flaky judge call must not sink a batch run.
func (e *Engine) Evaluate(ctx context.Context, rec recommend.Recommendation,
	scenario *Scenario, auditEntry *audit.Entry, evidence []retrieval.ScoredChunk) (Evaluation, error) {

	rules := ScoreRecommendation(rec, scenario, auditEntry)

	result := Evaluation{
		RecommendationID: rec.ID,
		Scores:           rules.Scores,
		Issues:           rules.Issues,
		MissingEvidence:  rules.MissingEvidence,
		CreatedAt:        time.Now(),
	}
	if scenario != nil {
		result.ScenarioID = scenario.ID
	}

	if e.judge != nil {
		judged, err := e.judge.JudgeFaithfulness(ctx, rec, evidence)
		if err != nil {
			e.logger.Warn("faithfulness judge failed, using neutral score",
				"recommendation", rec.ID, "error", err)
			result.Scores.Faithfulness = NeutralFaithfulness
		} else {
			result.Scores.Faithfulness = judged.Score
			result.LLMJudgeOutput = judged.Raw
		}
	}

	result.Overall = result.Scores.Overall()

	if err := e.store.Insert(ctx, result); err != nil {
		return Evaluation{}, fmt.Errorf("persisting evaluation for %q: %w", rec.ID, err)
	}
	return result, nil
}
