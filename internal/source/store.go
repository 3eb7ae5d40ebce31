package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// sourceColumns is the canonical select list shared by all queries.
const sourceColumns = `id, COALESCE(url, ''), title, source_type, status, priority,
	freshness_hours, last_scraped_at, chunks_count, COALESCE(error_message, ''), tags, metadata`

// Store is the PostgreSQL-backed source registry.
// It implements Registry plus the lifecycle operations the ingestion and
// discovery workers need (upsert, claim, complete, fail).
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Upsert inserts a source, or on URL conflict resets the existing row to
// pending so it is picked up by the next ingestion cycle. Returns the
// stored source (with its database-assigned ID).
func (s *Store) Upsert(ctx context.Context, src Source) (Source, error) {
	metadata, err := json.Marshal(src.Metadata)
	if err != nil {
		return Source{}, fmt.Errorf("marshaling source metadata: %w", err)
	}
	if src.Tags == nil {
		src.Tags = []string{}
	}
	if src.FreshnessHours <= 0 {
		src.FreshnessHours = 168
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO sources (url, title, source_type, status, priority, freshness_hours, tags, metadata)
		VALUES (NULLIF($1, ''), $2, $3, 'pending', $4, $5, $6, $7)
		ON CONFLICT (url) DO UPDATE SET
			title = EXCLUDED.title,
			source_type = EXCLUDED.source_type,
			status = 'pending',
			error_message = NULL,
			updated_at = now()
		RETURNING `+sourceColumns,
		src.URL, src.Title, string(src.Type), string(src.Priority), src.FreshnessHours, src.Tags, metadata)

	return scanSource(row)
}

// Get returns the source with the given id.
func (s *Store) Get(ctx context.Context, id string) (Source, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)
	src, err := scanSource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Source{}, ErrNotFound
	}
	return src, err
}

// ListDue implements Registry. Ordering: priority high < medium < low, then
// oldest last_scraped_at first with never-scraped rows first.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]Source, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+sourceColumns+`
		FROM sources
		WHERE status <> 'archived'
		  AND (last_scraped_at IS NULL
		       OR last_scraped_at <= $1 - make_interval(hours => freshness_hours))
		ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END,
		         last_scraped_at ASC NULLS FIRST
		LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("listing due sources: %w", err)
	}
	defer rows.Close()

	return collectSources(rows)
}

// MarkProcessed implements Registry.
func (s *Store) MarkProcessed(ctx context.Context, id string, processedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET last_scraped_at = $2, updated_at = now() WHERE id = $1`,
		id, processedAt)
	if err != nil {
		return fmt.Errorf("marking source processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimDue atomically selects up to limit due sources and marks them running.
// Uses FOR UPDATE SKIP LOCKED so two overlapping ingestion runs never claim
// the same source.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Source, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	rows, err := s.pool.Query(ctx, `
		UPDATE sources SET status = 'running', updated_at = now()
		WHERE id IN (
			SELECT id FROM sources
			WHERE status NOT IN ('archived', 'running')
			  AND (last_scraped_at IS NULL
			       OR last_scraped_at <= $1 - make_interval(hours => freshness_hours))
			ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END,
			         last_scraped_at ASC NULLS FIRST
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+sourceColumns,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming due sources: %w", err)
	}
	defer rows.Close()

	return collectSources(rows)
}

// Complete marks an ingestion cycle as finished.
func (s *Store) Complete(ctx context.Context, id string, chunksCount int, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sources
		SET status = 'completed', chunks_count = $2, last_scraped_at = $3,
		    error_message = NULL, updated_at = now()
		WHERE id = $1`,
		id, chunksCount, at)
	if err != nil {
		return fmt.Errorf("completing source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail marks the source as errored with a message. Prior chunks are retained.
func (s *Store) Fail(ctx context.Context, id string, message string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sources
		SET status = 'error', error_message = $2, last_scraped_at = $3, updated_at = now()
		WHERE id = $1`,
		id, message, at)
	if err != nil {
		return fmt.Errorf("failing source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByTitle returns sources whose titles match the given fragment,
// case-insensitively. Used by the source hint resolver.
func (s *Store) FindByTitle(ctx context.Context, fragment string, limit int) ([]Source, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM sources
		 WHERE title ILIKE '%' || $1 || '%' AND status <> 'archived'
		 ORDER BY chunks_count DESC
		 LIMIT $2`,
		fragment, limit)
	if err != nil {
		return nil, fmt.Errorf("finding sources by title: %w", err)
	}
	defer rows.Close()

	return collectSources(rows)
}

func scanSource(row pgx.Row) (Source, error) {
	var (
		src      Source
		srcType  string
		status   string
		priority string
		metadata []byte
	)
	err := row.Scan(&src.ID, &src.URL, &src.Title, &srcType, &status, &priority,
		&src.FreshnessHours, &src.LastScrapedAt, &src.ChunksCount, &src.ErrorMessage,
		&src.Tags, &metadata)
	if err != nil {
		return Source{}, err
	}
	src.Type = Type(srcType)
	src.Status = Status(status)
	src.Priority = Priority(priority)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &src.Metadata); err != nil {
			return Source{}, fmt.Errorf("unmarshaling source metadata: %w", err)
		}
	}
	return src, nil
}

func collectSources(rows pgx.Rows) ([]Source, error) {
	var out []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning source row: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating source rows: %w", err)
	}
	return out, nil
}
