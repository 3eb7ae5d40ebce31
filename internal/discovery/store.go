package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the PostgreSQL-backed discovery cell table.
//
// Claiming uses FOR UPDATE SKIP LOCKED so two overlapping discovery runs
// never process the same cell.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a cell store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Seed inserts every (topic × region) combination that does not already
// exist. Seeding twice is a no-op; returns the number of new cells.
func (s *Store) Seed(ctx context.Context, topics, regions []string) (int, error) {
	inserted := 0
	for _, topic := range topics {
		for _, region := range regions {
			tag, err := s.pool.Exec(ctx, `
				INSERT INTO discovery_cells (topic, region)
				VALUES ($1, $2)
				ON CONFLICT (topic, region) DO NOTHING`,
				topic, region)
			if err != nil {
				return inserted, fmt.Errorf("seeding cell (%s, %s): %w", topic, region, err)
			}
			inserted += int(tag.RowsAffected())
		}
	}
	return inserted, nil
}

// ResetStale moves completed cells whose last discovery predates the
// rediscovery interval back to pending. Returns the number of reset cells.
func (s *Store) ResetStale(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE discovery_cells
		SET status = 'pending'
		WHERE status = 'completed' AND last_discovered_at < $1`,
		now.Add(-RediscoveryInterval))
	if err != nil {
		return 0, fmt.Errorf("resetting stale cells: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Claim atomically selects up to limit cells in {pending, error}, oldest
// first, and marks them running.
func (s *Store) Claim(ctx context.Context, limit int) ([]Cell, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx, `
		UPDATE discovery_cells
		SET status = 'running'
		WHERE (topic, region) IN (
			SELECT topic, region FROM discovery_cells
			WHERE status IN ('pending', 'error')
			ORDER BY last_discovered_at ASC NULLS FIRST
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING topic, region, status, sources_found, COALESCE(error_message, ''), last_discovered_at`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("claiming cells: %w", err)
	}
	defer rows.Close()

	var cells []Cell
	for rows.Next() {
		var c Cell
		var status string
		if err := rows.Scan(&c.Topic, &c.Region, &status, &c.SourcesFound, &c.ErrorMessage, &c.LastDiscoveredAt); err != nil {
			return nil, fmt.Errorf("scanning cell row: %w", err)
		}
		c.Status = CellStatus(status)
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

// Complete marks a cell's run as finished with the number of sources found.
func (s *Store) Complete(ctx context.Context, topic, region string, sourcesFound int, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE discovery_cells
		SET status = 'completed', sources_found = $3, error_message = NULL, last_discovered_at = $4
		WHERE topic = $1 AND region = $2`,
		topic, region, sourcesFound, at)
	if err != nil {
		return fmt.Errorf("completing cell (%s, %s): %w", topic, region, err)
	}
	return nil
}

// Fail marks a cell's run as errored. Other cells in the batch proceed.
func (s *Store) Fail(ctx context.Context, topic, region, message string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE discovery_cells
		SET status = 'error', error_message = $3, last_discovered_at = $4
		WHERE topic = $1 AND region = $2`,
		topic, region, message, at)
	if err != nil {
		return fmt.Errorf("failing cell (%s, %s): %w", topic, region, err)
	}
	return nil
}

// Count returns the total number of cells.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM discovery_cells`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cells: %w", err)
	}
	return n, nil
}
