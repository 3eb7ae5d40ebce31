package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leafcheck/leafcheck/internal/recommend"
)

// Revision is one regenerated diagnosis snapshot produced by the loop.
// Revisions are append-only and never overwrite the original recommendation.
type Revision struct {
	ID               string
	RecommendationID string
	RevisionIndex    int
	ForcedSourceIDs  []string
	Diagnosis        recommend.Recommendation
	CreatedAt        time.Time
}

// RevisionStore persists recommendation revisions in Postgres.
type RevisionStore struct {
	pool *pgxpool.Pool
}

// NewRevisionStore creates a revision store.
func NewRevisionStore(pool *pgxpool.Pool) *RevisionStore {
	return &RevisionStore{pool: pool}
}

// Insert appends one revision. (recommendation, index) pairs are unique, so
// replaying an iteration fails loudly instead of silently overwriting.
func (s *RevisionStore) Insert(ctx context.Context, r Revision) error {
	diagnosis, err := json.Marshal(r.Diagnosis)
	if err != nil {
		return fmt.Errorf("marshaling revision diagnosis: %w", err)
	}
	forced := r.ForcedSourceIDs
	if forced == nil {
		forced = []string{}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO recommendation_revisions
		  (recommendation_id, revision_index, forced_source_ids, diagnosis)
		VALUES ($1, $2, $3, $4)`,
		r.RecommendationID, r.RevisionIndex, forced, diagnosis)
	if err != nil {
		return fmt.Errorf("inserting revision %d for %q: %w", r.RevisionIndex, r.RecommendationID, err)
	}
	return nil
}

// ListByRecommendation returns a recommendation's revisions in order.
func (s *RevisionStore) ListByRecommendation(ctx context.Context, recommendationID string) ([]Revision, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, recommendation_id, revision_index, forced_source_ids, diagnosis, created_at
		FROM recommendation_revisions
		WHERE recommendation_id = $1
		ORDER BY revision_index ASC`,
		recommendationID)
	if err != nil {
		return nil, fmt.Errorf("querying revisions for %q: %w", recommendationID, err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var (
			r         Revision
			diagnosis []byte
		)
		err := rows.Scan(&r.ID, &r.RecommendationID, &r.RevisionIndex,
			&r.ForcedSourceIDs, &diagnosis, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning revision row: %w", err)
		}
		if err := json.Unmarshal(diagnosis, &r.Diagnosis); err != nil {
			return nil, fmt.Errorf("unmarshaling revision diagnosis: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
