package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/leafcheck/leafcheck/internal/source"
)

var tracer = otel.Tracer("leafcheck/discovery")

// transientRedirectDomains are search-result hosts that redirect elsewhere;
// registering them as sources would ingest interstitial pages.
var transientRedirectDomains = []string{
	"google.com",
	"googleusercontent.com",
	"vertexaisearch.cloud.google.com",
	"bing.com",
	"duckduckgo.com",
}

// CellStore is the subset of the discovery cell table the worker needs.
// Defined by the consumer so tests can supply an in-memory fake.
type CellStore interface {
	Seed(ctx context.Context, topics, regions []string) (int, error)
	ResetStale(ctx context.Context, now time.Time) (int, error)
	Claim(ctx context.Context, limit int) ([]Cell, error)
	Complete(ctx context.Context, topic, region string, sourcesFound int, at time.Time) error
	Fail(ctx context.Context, topic, region, message string, at time.Time) error
}

// SourceRegistrar registers discovered URLs for ingestion. Upserting a
// source resets it to pending, which is what enqueues it for the next
// ingestion batch.
type SourceRegistrar interface {
	Upsert(ctx context.Context, src source.Source) (source.Source, error)
}

// Worker advances the discovery matrix one batch at a time.
//
// Worker instances are stateless across runs; correctness under concurrent
// invocation relies on CellStore's claim semantics.
type Worker struct {
	cells    CellStore
	sources  SourceRegistrar
	grounder Grounder
	topics   []string
	regions  []string
	batch    int
	logger   *slog.Logger
}

// RunStats summarizes one discovery run.
type RunStats struct {
	Seeded       int
	Reset        int
	Claimed      int
	Completed    int
	Failed       int
	SourcesFound int
}

// NewWorker creates a discovery worker for the given topic/region matrix.
func NewWorker(cells CellStore, sources SourceRegistrar, grounder Grounder,
	topics, regions []string, batch int, logger *slog.Logger) *Worker {
	if batch <= 0 {
		batch = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cells:    cells,
		sources:  sources,
		grounder: grounder,
		topics:   topics,
		regions:  regions,
		batch:    batch,
		logger:   logger,
	}
}

// Run executes one scheduled discovery pass: seed, reset stale cells, claim
// a batch, discover each cell. Per-cell failures are recorded on the cell
// and do not abort the batch.
func (w *Worker) Run(ctx context.Context, now time.Time) (RunStats, error) {
	ctx, span := tracer.Start(ctx, "discovery.batch")
	defer span.End()

	var stats RunStats

	seeded, err := w.cells.Seed(ctx, w.topics, w.regions)
	if err != nil {
		span.RecordError(err)
		return stats, fmt.Errorf("seeding discovery cells: %w", err)
	}
	stats.Seeded = seeded

	reset, err := w.cells.ResetStale(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("resetting stale cells: %w", err)
	}
	stats.Reset = reset

	cells, err := w.cells.Claim(ctx, w.batch)
	if err != nil {
		return stats, fmt.Errorf("claiming cells: %w", err)
	}
	stats.Claimed = len(cells)

	for _, cell := range cells {
		found, err := w.discoverCell(ctx, cell)
		if err != nil {
			w.logger.Warn("cell discovery failed",
				"topic", cell.Topic, "region", cell.Region, "error", err)
			if failErr := w.cells.Fail(ctx, cell.Topic, cell.Region, err.Error(), now); failErr != nil {
				w.logger.Error("recording cell failure", "error", failErr)
			}
			stats.Failed++
			continue
		}
		if err := w.cells.Complete(ctx, cell.Topic, cell.Region, found, now); err != nil {
			w.logger.Error("recording cell completion", "error", err)
		}
		stats.Completed++
		stats.SourcesFound += found
	}

	span.SetAttributes(
		attribute.Int("discovery.claimed", stats.Claimed),
		attribute.Int("discovery.completed", stats.Completed),
		attribute.Int("discovery.failed", stats.Failed),
		attribute.Int("discovery.sources_found", stats.SourcesFound),
	)
	w.logger.Info("discovery run finished",
		"seeded", stats.Seeded, "reset", stats.Reset, "claimed", stats.Claimed,
		"completed", stats.Completed, "failed", stats.Failed, "sources", stats.SourcesFound)
	return stats, nil
}

// discoverCell queries the grounding provider for one cell and registers the
// resulting sources. Returns the number of sources registered.
func (w *Worker) discoverCell(ctx context.Context, cell Cell) (int, error) {
	prompt := fmt.Sprintf(
		"Find authoritative agronomy references about %s for growers in %s. "+
			"Prefer government agencies, university extension services, and peer-reviewed research.",
		cell.Topic, cell.Region)

	candidates, err := w.grounder.Search(ctx, prompt)
	if err != nil {
		return 0, fmt.Errorf("search grounding: %w", err)
	}

	candidates = filterCandidates(candidates)
	if len(candidates) > MaxSourcesPerCell {
		candidates = candidates[:MaxSourcesPerCell]
	}

	registered := 0
	for _, c := range candidates {
		src := source.Source{
			URL:      c.URL,
			Title:    c.Title,
			Type:     InferSourceType(c.URL, c.Title),
			Priority: source.PriorityMedium,
			Tags:     []string{cell.Topic, cell.Region},
		}
		if _, err := w.sources.Upsert(ctx, src); err != nil {
			return registered, fmt.Errorf("registering source %q: %w", c.URL, err)
		}
		registered++
	}
	return registered, nil
}

// filterCandidates deduplicates URLs and drops transient redirect domains
// and unparsable URLs.
func filterCandidates(candidates []Candidate) []Candidate {
	seen := make(map[string]bool, len(candidates))
	var out []Candidate

	for _, c := range candidates {
		u, err := url.Parse(c.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		host := strings.ToLower(u.Hostname())
		if isTransientRedirect(host) {
			continue
		}
		norm := u.Scheme + "://" + host + u.Path
		if seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, c)
	}
	return out
}

func isTransientRedirect(host string) bool {
	for _, d := range transientRedirectDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// InferSourceType guesses a source's type from its URL and title.
//
// This substring heuristic is a known approximation kept for compatibility
// with historical classifications; it can misclassify (e.g. a .gov blog).
func InferSourceType(rawURL, title string) source.Type {
	lowered := strings.ToLower(rawURL)
	loweredTitle := strings.ToLower(title)

	if u, err := url.Parse(rawURL); err == nil {
		host := strings.ToLower(u.Hostname())
		if strings.HasSuffix(host, ".gov") || strings.Contains(host, ".gov.") {
			return source.TypeGovernment
		}
		if strings.HasSuffix(host, ".edu") || strings.Contains(host, ".edu.") {
			return source.TypeUniversityExtension
		}
	}
	if strings.Contains(lowered, "extension") || strings.Contains(loweredTitle, "extension") {
		return source.TypeUniversityExtension
	}
	return source.TypeResearchPaper
}
