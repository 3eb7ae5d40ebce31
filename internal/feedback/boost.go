package feedback

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MaxBoost caps any source's persisted boost weight.
const MaxBoost = 0.25

// BoostStore persists source boost weights in Postgres.
type BoostStore struct {
	pool *pgxpool.Pool
}

// NewBoostStore creates a boost store.
func NewBoostStore(pool *pgxpool.Pool) *BoostStore {
	return &BoostStore{pool: pool}
}

// All returns the full boost table.
func (s *BoostStore) All(ctx context.Context) (map[string]float64, error) {
	rows, err := s.pool.Query(ctx, `SELECT source_id, boost FROM source_boosts`)
	if err != nil {
		return nil, fmt.Errorf("querying source boosts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			id    string
			boost float64
		)
		if err := rows.Scan(&id, &boost); err != nil {
			return nil, fmt.Errorf("scanning boost row: %w", err)
		}
		out[id] = boost
	}
	return out, rows.Err()
}

// Increase raises a source's boost by delta, capped at MaxBoost. Repeated
// increases are monotonic and never exceed the cap.
func (s *BoostStore) Increase(ctx context.Context, sourceID string, delta float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO source_boosts (source_id, boost, updated_at)
		VALUES ($1, LEAST($2::double precision, $3), now())
		ON CONFLICT (source_id) DO UPDATE
		SET boost = LEAST(source_boosts.boost + $2, $3), updated_at = now()`,
		sourceID, delta, MaxBoost)
	if err != nil {
		return fmt.Errorf("increasing boost for source %q: %w", sourceID, err)
	}
	return nil
}

// MemoryBoosts is the in-memory boost table used by tests and dev setups.
type MemoryBoosts struct {
	mu     sync.Mutex
	boosts map[string]float64
}

// NewMemoryBoosts creates an empty in-memory boost table.
func NewMemoryBoosts() *MemoryBoosts {
	return &MemoryBoosts{boosts: make(map[string]float64)}
}

// All implements the same contract as BoostStore.All.
func (m *MemoryBoosts) All(ctx context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.boosts))
	for k, v := range m.boosts {
		out[k] = v
	}
	return out, nil
}

// Increase implements the same monotonic-cap contract as BoostStore.Increase.
func (m *MemoryBoosts) Increase(ctx context.Context, sourceID string, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.boosts[sourceID] + delta
	if b > MaxBoost {
		b = MaxBoost
	}
	m.boosts[sourceID] = b
	return nil
}
