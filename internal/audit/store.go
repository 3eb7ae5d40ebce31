package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists audit entries in Postgres. Missed chunks are computed at
// write time against the default relevance floor so reports never rescan the
// full candidate sets.
type Store struct {
	pool  *pgxpool.Pool
	floor float64
}

// NewStore creates an audit store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, floor: DefaultRelevanceFloor}
}

// Insert appends one audit entry.
func (s *Store) Insert(ctx context.Context, e Entry) error {
	plan, err := json.Marshal(e.Plan)
	if err != nil {
		return fmt.Errorf("marshaling plan: %w", err)
	}
	candidates, err := json.Marshal(candidatesOrEmpty(e.Candidates))
	if err != nil {
		return fmt.Errorf("marshaling candidates: %w", err)
	}
	missed, err := json.Marshal(candidatesOrEmpty(e.MissedChunks(s.floor)))
	if err != nil {
		return fmt.Errorf("marshaling missed chunks: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO retrieval_audits
		  (input_id, recommendation_id, plan, required_source_ids,
		   candidate_chunks, assembled_chunk_ids, used_chunk_ids, missed_chunks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.InputID, e.RecommendationID, plan, textArray(e.RequiredSourceIDs),
		candidates, textArray(e.AssembledChunkIDs), textArray(e.UsedChunkIDs), missed)
	if err != nil {
		return fmt.Errorf("inserting retrieval audit: %w", err)
	}
	return nil
}

// GetByRecommendation returns all audit entries for a recommendation, newest
// first. Multiple entries exist when revisions regenerated it.
func (s *Store) GetByRecommendation(ctx context.Context, recommendationID string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, input_id, recommendation_id, plan, required_source_ids,
		       candidate_chunks, assembled_chunk_ids, used_chunk_ids, created_at
		FROM retrieval_audits
		WHERE recommendation_id = $1
		ORDER BY created_at DESC`,
		recommendationID)
	if err != nil {
		return nil, fmt.Errorf("querying audits for %q: %w", recommendationID, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			plan       []byte
			candidates []byte
		)
		err := rows.Scan(&e.ID, &e.InputID, &e.RecommendationID, &plan,
			&e.RequiredSourceIDs, &candidates, &e.AssembledChunkIDs,
			&e.UsedChunkIDs, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		if err := json.Unmarshal(plan, &e.Plan); err != nil {
			return nil, fmt.Errorf("unmarshaling audit plan: %w", err)
		}
		if err := json.Unmarshal(candidates, &e.Candidates); err != nil {
			return nil, fmt.Errorf("unmarshaling audit candidates: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MostMissed aggregates missed chunks by source across all audits, most
// missed first. The admin report and the feedback loop both read it.
func (s *Store) MostMissed(ctx context.Context, limit int) ([]MissedSource, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m->>'sourceId' AS source_id,
		       COALESCE(max(s.title), '') AS title,
		       count(*) AS missed
		FROM retrieval_audits a
		CROSS JOIN LATERAL jsonb_array_elements(a.missed_chunks) AS m
		LEFT JOIN sources s ON s.id::text = m->>'sourceId'
		GROUP BY 1
		ORDER BY missed DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("querying most-missed sources: %w", err)
	}
	defer rows.Close()

	var out []MissedSource
	for rows.Next() {
		var m MissedSource
		if err := rows.Scan(&m.SourceID, &m.Title, &m.MissedCount); err != nil {
			return nil, fmt.Errorf("scanning missed-source row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func candidatesOrEmpty(c []Candidate) []Candidate {
	if c == nil {
		return []Candidate{}
	}
	return c
}

func textArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
