package eval

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists evaluations in Postgres. Rows are append-only.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an evaluation store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert appends one evaluation row.
func (s *Store) Insert(ctx context.Context, e Evaluation) error {
	var scenarioID *string
	if e.ScenarioID != "" {
		scenarioID = &e.ScenarioID
	}
	issues := e.Issues
	if issues == nil {
		issues = []string{}
	}
	missing := e.MissingEvidence
	if missing == nil {
		missing = []string{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO evaluations
		  (recommendation_id, scenario_id, accuracy, helpfulness, faithfulness,
		   actionability, completeness, retrieval_relevance, overall,
		   issues, missing_evidence, llm_judge_output)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.RecommendationID, scenarioID,
		e.Scores.Accuracy, e.Scores.Helpfulness, e.Scores.Faithfulness,
		e.Scores.Actionability, e.Scores.Completeness, e.Scores.RetrievalRelevance,
		e.Overall, issues, missing, nullableJSON(e.LLMJudgeOutput))
	if err != nil {
		return fmt.Errorf("inserting evaluation for %q: %w", e.RecommendationID, err)
	}
	return nil
}

// ListByRecommendation returns a recommendation's evaluations, oldest first,
// for trend analysis across repeated runs.
func (s *Store) ListByRecommendation(ctx context.Context, recommendationID string) ([]Evaluation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, recommendation_id, COALESCE(scenario_id, ''),
		       accuracy, helpfulness, faithfulness, actionability,
		       completeness, retrieval_relevance, overall,
		       issues, missing_evidence, llm_judge_output, created_at
		FROM evaluations
		WHERE recommendation_id = $1
		ORDER BY created_at ASC`,
		recommendationID)
	if err != nil {
		return nil, fmt.Errorf("querying evaluations for %q: %w", recommendationID, err)
	}
	defer rows.Close()

	var out []Evaluation
	for rows.Next() {
		var e Evaluation
		err := rows.Scan(&e.ID, &e.RecommendationID, &e.ScenarioID,
			&e.Scores.Accuracy, &e.Scores.Helpfulness, &e.Scores.Faithfulness,
			&e.Scores.Actionability, &e.Scores.Completeness, &e.Scores.RetrievalRelevance,
			&e.Overall, &e.Issues, &e.MissingEvidence, &e.LLMJudgeOutput, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning evaluation row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
