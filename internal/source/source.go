// Package source tracks ingestible documents and their freshness.
//
// A Source is a document origin (URL or synthetic) from which evidence chunks
// are derived. Sources become "due" for re-ingestion once their freshness
// interval has elapsed since the last scrape. The Registry interface exposes
// the due-listing contract with two interchangeable implementations: an
// in-memory registry for tests and a PostgreSQL-backed registry.
package source

import (
	"time"
)

// Type categorizes where a source document comes from.
type Type string

const (
	TypeGovernment          Type = "government"
	TypeUniversityExtension Type = "university-extension"
	TypeResearchPaper       Type = "research-paper"
	TypeOther               Type = "other"
)

// Status is the ingestion lifecycle state of a source.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusArchived  Status = "archived"
)

// Priority orders sources within a due batch.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// rank maps priorities to sort order: high before medium before low.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// DefaultBatchLimit caps one due-source batch.
const DefaultBatchLimit = 100

// Source is a document origin.
//
// A source with Status == StatusError retains its prior chunks; ingestion
// failure never rolls back previously stored evidence.
type Source struct {
	ID             string
	URL            string // empty for synthetic sources
	Title          string
	Type           Type
	Status         Status
	Priority       Priority
	FreshnessHours int
	LastScrapedAt  *time.Time // nil = never scraped
	ChunksCount    int
	ErrorMessage   string
	Tags           []string
	Metadata       map[string]string
}

// Due reports whether the source is eligible for (re-)ingestion at now.
// The boundary is inclusive: exactly FreshnessHours since the last scrape
// counts as due.
func (s *Source) Due(now time.Time) bool {
	if s.LastScrapedAt == nil {
		return true
	}
	return now.Sub(*s.LastScrapedAt) >= time.Duration(s.FreshnessHours)*time.Hour
}
