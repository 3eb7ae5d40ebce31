// Package audit records the evidence trail of each retrieval: every chunk
// considered, the subset assembled into context, and the subset the
// generator actually cited. Missed chunks are the primary feedback-loop
// signal.
package audit

import (
	"time"

	"github.com/leafcheck/leafcheck/internal/retrieval"
)

// DefaultRelevanceFloor is the minimum similarity for a candidate to count
// as "missed" when uncited.
const DefaultRelevanceFloor = 0.55

// Candidate is one chunk considered during retrieval.
type Candidate struct {
	ChunkID    string  `json:"chunkId"`
	SourceID   string  `json:"sourceId"`
	Kind       string  `json:"kind"`
	Similarity float64 `json:"similarity"`
}

// Entry is one retrieval's audit record. Entries are append-only: a new
// generation produces a new entry, never an update.
type Entry struct {
	ID                string
	InputID           string
	RecommendationID  string
	Plan              retrieval.Plan
	RequiredSourceIDs []string
	Candidates        []Candidate
	AssembledChunkIDs []string
	UsedChunkIDs      []string
	CreatedAt         time.Time
}

// Normalize enforces the containment invariant: used chunk ids that do not
// appear among the candidates are dropped, so citations always resolve to
// chunks that existed in the considered set.
func (e *Entry) Normalize() {
	known := make(map[string]bool, len(e.Candidates))
	for _, c := range e.Candidates {
		known[c.ChunkID] = true
	}
	kept := e.UsedChunkIDs[:0]
	for _, id := range e.UsedChunkIDs {
		if known[id] {
			kept = append(kept, id)
		}
	}
	e.UsedChunkIDs = kept
}

// MissedChunks returns candidates at or above the relevance floor that were
// never cited. Never includes any id present in UsedChunkIDs.
func (e *Entry) MissedChunks(floor float64) []Candidate {
	used := make(map[string]bool, len(e.UsedChunkIDs))
	for _, id := range e.UsedChunkIDs {
		used[id] = true
	}
	var missed []Candidate
	for _, c := range e.Candidates {
		if c.Similarity >= floor && !used[c.ChunkID] {
			missed = append(missed, c)
		}
	}
	return missed
}

// MissedSource aggregates how often a source's chunks were retrieved but
// never cited, across audits. Feeds the "most-missed sources" report.
type MissedSource struct {
	SourceID    string
	Title       string
	MissedCount int
}
