// Package discovery keeps the (topic × region) source-discovery matrix
// populated and advancing.
//
// Each DiscoveryCell is one (topic, region) pair. Cells are seeded
// idempotently, claimed under row locking so concurrent runs never
// double-process a cell, and re-enter pending after the rediscovery
// interval elapses.
package discovery

import "time"

// RediscoveryInterval is how long a completed cell stays settled before it
// re-enters the pending pool.
const RediscoveryInterval = 90 * 24 * time.Hour

// MaxSourcesPerCell caps how many discovered URLs one cell run registers.
const MaxSourcesPerCell = 8

// CellStatus is the discovery lifecycle state of a cell.
type CellStatus string

const (
	CellPending   CellStatus = "pending"
	CellRunning   CellStatus = "running"
	CellCompleted CellStatus = "completed"
	CellError     CellStatus = "error"
)

// Cell is one (topic, region) pair awaiting or holding discovery results.
type Cell struct {
	Topic            string
	Region           string
	Status           CellStatus
	SourcesFound     int
	ErrorMessage     string
	LastDiscoveredAt *time.Time
}

// Candidate is one URL returned by the search-grounding provider.
type Candidate struct {
	URL   string
	Title string
}
