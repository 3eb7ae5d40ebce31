package chunk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Store persists text and image chunks and serves vector similarity search.
//
// Upserts are keyed by (source_id, chunk_index) so re-ingestion of a source
// is idempotent. Search is a pure read; it is safe to call concurrently.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a chunk store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// tableFor returns the backing table for a chunk variant.
func tableFor(kind Kind) string {
	if kind == KindImage {
		return "image_chunks"
	}
	return "text_chunks"
}

// Upsert inserts or updates a chunk keyed by (source_id, chunk_index).
// A nil embedding is stored as NULL; the chunk then exists for lookup but
// is invisible to vector search.
func (s *Store) Upsert(ctx context.Context, c Chunk) error {
	if c.Embedding != nil && len(c.Embedding) != c.Dimension() {
		return fmt.Errorf("%w: %s chunk has %d dims, want %d",
			ErrDimensionMismatch, c.Kind, len(c.Embedding), c.Dimension())
	}

	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling chunk metadata: %w", err)
	}

	var embedding *pgvector.Vector
	if c.Embedding != nil {
		v := pgvector.NewVector(c.Embedding)
		embedding = &v
	}

	if c.Kind == KindImage {
		_, err = s.pool.Exec(ctx, `
			INSERT INTO image_chunks (source_id, chunk_index, caption, image_url, embedding, metadata)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (source_id, chunk_index) DO UPDATE SET
				caption = EXCLUDED.caption,
				image_url = EXCLUDED.image_url,
				embedding = EXCLUDED.embedding,
				metadata = EXCLUDED.metadata`,
			c.SourceID, c.Index, c.Content, c.ImageURL, embedding, metadata)
	} else {
		_, err = s.pool.Exec(ctx, `
			INSERT INTO text_chunks (source_id, chunk_index, content, embedding, metadata)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (source_id, chunk_index) DO UPDATE SET
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding,
				metadata = EXCLUDED.metadata`,
			c.SourceID, c.Index, c.Content, embedding, metadata)
	}
	if err != nil {
		return fmt.Errorf("upserting %s chunk %d of source %s: %w", c.Kind, c.Index, c.SourceID, err)
	}
	return nil
}

// DeleteFrom removes chunks of the given kind whose index is at or beyond
// fromIndex. Re-ingestion calls this after upserting so a document that
// shrank does not leave stale trailing chunks behind.
func (s *Store) DeleteFrom(ctx context.Context, kind Kind, sourceID string, fromIndex int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE source_id = $1 AND chunk_index >= $2`, tableFor(kind)),
		sourceID, fromIndex)
	if err != nil {
		return 0, fmt.Errorf("deleting stale %s chunks of source %s: %w", kind, sourceID, err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Debug("deleted stale chunks", "source", sourceID, "kind", kind, "count", n)
		return n, nil
	}
	return 0, nil
}

// CountBySource returns the total number of chunks (both variants) owned by
// the source.
func (s *Store) CountBySource(ctx context.Context, sourceID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM text_chunks WHERE source_id = $1)
		     + (SELECT COUNT(*) FROM image_chunks WHERE source_id = $1)`,
		sourceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// SearchSimilar returns the top-limit chunks of the given kind whose cosine
// similarity to the query embedding is at least threshold, ordered by
// descending similarity. The query embedding must match the variant's fixed
// dimensionality. Chunks without an embedding are never returned.
func (s *Store) SearchSimilar(ctx context.Context, kind Kind, query []float32, limit int, threshold float64) ([]Result, error) {
	wantDim := TextDim
	if kind == KindImage {
		wantDim = ImageDim
	}
	if len(query) != wantDim {
		return nil, fmt.Errorf("%w: query has %d dims, want %d for %s search",
			ErrDimensionMismatch, len(query), wantDim, kind)
	}
	if limit <= 0 {
		limit = 10
	}

	qv := pgvector.NewVector(query)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT c.id, c.source_id, c.chunk_index, %s, c.metadata,
		       c.embedding <=> $1 AS distance,
		       s.title, COALESCE(s.url, ''), s.source_type,
		       COALESCE(s.metadata->>'institution', '')
		FROM %s c
		JOIN sources s ON s.id = c.source_id
		WHERE c.embedding IS NOT NULL
		  AND c.embedding <=> $1 <= $2
		ORDER BY distance ASC
		LIMIT $3`,
		contentColumns(kind), tableFor(kind)),
		qv, maxDistance(threshold), limit)
	if err != nil {
		return nil, fmt.Errorf("searching %s chunks: %w", kind, err)
	}
	defer rows.Close()

	return collectResults(rows, kind)
}

// SearchBySources returns all chunks of the given kind owned by the listed
// sources, with similarity computed against the query embedding where an
// embedding exists (similarity 0 otherwise). No threshold applies: this is
// the unconditional lookup backing the required-source guarantee.
func (s *Store) SearchBySources(ctx context.Context, kind Kind, query []float32, sourceIDs []string) ([]Result, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	wantDim := TextDim
	if kind == KindImage {
		wantDim = ImageDim
	}
	if len(query) != wantDim {
		return nil, fmt.Errorf("%w: query has %d dims, want %d for %s lookup",
			ErrDimensionMismatch, len(query), wantDim, kind)
	}

	qv := pgvector.NewVector(query)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT c.id, c.source_id, c.chunk_index, %s, c.metadata,
		       COALESCE(c.embedding <=> $1, 2.0) AS distance,
		       s.title, COALESCE(s.url, ''), s.source_type,
		       COALESCE(s.metadata->>'institution', '')
		FROM %s c
		JOIN sources s ON s.id = c.source_id
		WHERE c.source_id = ANY($2)
		ORDER BY distance ASC`,
		contentColumns(kind), tableFor(kind)),
		qv, sourceIDs)
	if err != nil {
		return nil, fmt.Errorf("looking up %s chunks by source: %w", kind, err)
	}
	defer rows.Close()

	return collectResults(rows, kind)
}

// GetByIDs returns the chunks with the given ids (both variants searched).
// Missing ids are silently skipped.
func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_id, chunk_index, content, '' AS image_url, 'text' AS kind, metadata
		FROM text_chunks WHERE id = ANY($1)
		UNION ALL
		SELECT id, source_id, chunk_index, caption, image_url, 'image', metadata
		FROM image_chunks WHERE id = ANY($1)`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("getting chunks by id: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var (
			c        Chunk
			kind     string
			metadata []byte
		)
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Index, &c.Content, &c.ImageURL, &kind, &metadata); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		c.Kind = Kind(kind)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling chunk metadata: %w", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func contentColumns(kind Kind) string {
	if kind == KindImage {
		return "c.caption, c.image_url"
	}
	return "c.content, '' AS image_url"
}

func collectResults(rows pgx.Rows, kind Kind) ([]Result, error) {
	var out []Result
	for rows.Next() {
		var (
			r        Result
			metadata []byte
			distance float64
		)
		err := rows.Scan(&r.Chunk.ID, &r.Chunk.SourceID, &r.Chunk.Index,
			&r.Chunk.Content, &r.Chunk.ImageURL, &metadata, &distance,
			&r.Source.Title, &r.Source.URL, &r.Source.Type, &r.Source.Institution)
		if err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		r.Chunk.Kind = kind
		r.Similarity = Similarity(distance)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &r.Chunk.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling chunk metadata: %w", err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	return out, nil
}
