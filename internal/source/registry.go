package source

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound indicates the source does not exist in the registry.
var ErrNotFound = errors.New("source not found")

// Registry lists due sources and records processing timestamps.
//
// Both implementations (MemoryRegistry and Store) honor the same contract:
// due sources ordered by priority (high, medium, low), then by staleness
// (oldest LastScrapedAt first, never-scraped first), capped at limit.
// Registry implementations never mutate chunks.
type Registry interface {
	// ListDue returns sources eligible for ingestion at now, ordered by
	// priority then staleness, at most limit rows (DefaultBatchLimit if <= 0).
	ListDue(ctx context.Context, now time.Time, limit int) ([]Source, error)

	// MarkProcessed updates the source's LastScrapedAt.
	MarkProcessed(ctx context.Context, id string, processedAt time.Time) error
}

// MemoryRegistry is an in-memory Registry for tests and local development.
// Safe for concurrent use.
type MemoryRegistry struct {
	mu      sync.RWMutex
	sources map[string]*Source
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sources: make(map[string]*Source)}
}

// Add inserts or replaces a source.
func (r *MemoryRegistry) Add(src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := src
	r.sources[src.ID] = &cp
}

// Get returns a copy of the source with the given id.
func (r *MemoryRegistry) Get(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	if !ok {
		return Source{}, false
	}
	return *src, true
}

// ListDue implements Registry.
func (r *MemoryRegistry) ListDue(_ context.Context, now time.Time, limit int) ([]Source, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	r.mu.RLock()
	var due []Source
	for _, src := range r.sources {
		if src.Status == StatusArchived {
			continue
		}
		if src.Due(now) {
			due = append(due, *src)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(due, func(i, j int) bool {
		if pi, pj := due[i].Priority.rank(), due[j].Priority.rank(); pi != pj {
			return pi < pj
		}
		// Never-scraped sources sort before everything else.
		si, sj := due[i].LastScrapedAt, due[j].LastScrapedAt
		switch {
		case si == nil && sj == nil:
			return due[i].ID < due[j].ID // stable tiebreak
		case si == nil:
			return true
		case sj == nil:
			return false
		default:
			return si.Before(*sj)
		}
	})

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// MarkProcessed implements Registry.
func (r *MemoryRegistry) MarkProcessed(_ context.Context, id string, processedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.sources[id]
	if !ok {
		return ErrNotFound
	}
	t := processedAt
	src.LastScrapedAt = &t
	return nil
}
