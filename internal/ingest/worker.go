package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/leafcheck/leafcheck/internal/chunk"
	"github.com/leafcheck/leafcheck/internal/embedding"
	"github.com/leafcheck/leafcheck/internal/source"
)

var tracer = otel.Tracer("leafcheck/ingest")

// interBatchDelay spaces image embedding groups to respect provider limits.
const interBatchDelay = 250 * time.Millisecond

// SourceClaimer is the slice of the source store the worker needs.
type SourceClaimer interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]source.Source, error)
	Complete(ctx context.Context, id string, chunksCount int, at time.Time) error
	Fail(ctx context.Context, id string, message string, at time.Time) error
}

// ChunkWriter persists chunks.
type ChunkWriter interface {
	Upsert(ctx context.Context, c chunk.Chunk) error
	DeleteFrom(ctx context.Context, kind chunk.Kind, sourceID string, fromIndex int) (int64, error)
	CountBySource(ctx context.Context, sourceID string) (int, error)
}

// DocumentFetcher retrieves one URL.
type DocumentFetcher interface {
	Fetch(ctx context.Context, url string) (Document, error)
}

// Config tunes one ingestion worker.
type Config struct {
	BatchLimit      int // max claimed sources per run
	MinSectionChars int
	ChunkChars      int
	ImageFanout     int // concurrent image chunk upserts
}

// Worker ingests due sources: fetch, section, chunk, embed, upsert.
//
// One failing source is marked error and the batch continues; there is no
// transaction spanning the whole batch.
type Worker struct {
	sources  SourceClaimer
	chunks   ChunkWriter
	fetcher  DocumentFetcher
	pdf      PDFParser
	embedder embedding.Provider
	cfg      Config
	logger   *slog.Logger
}

// RunStats summarizes one ingestion run.
type RunStats struct {
	Claimed   int
	Completed int
	Empty     int
	Failed    int
	Chunks    int
}

// NewWorker creates an ingestion worker.
func NewWorker(sources SourceClaimer, chunks ChunkWriter, fetcher DocumentFetcher,
	pdf PDFParser, embedder embedding.Provider, cfg Config, logger *slog.Logger) *Worker {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = source.DefaultBatchLimit
	}
	if cfg.MinSectionChars <= 0 {
		cfg.MinSectionChars = MinSectionChars
	}
	if cfg.ChunkChars <= 0 {
		cfg.ChunkChars = DefaultChunkChars
	}
	if cfg.ImageFanout <= 0 {
		cfg.ImageFanout = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		sources:  sources,
		chunks:   chunks,
		fetcher:  fetcher,
		pdf:      pdf,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run claims one batch of due sources and ingests each. Sources are never
// left running: every claimed source ends completed or error.
func (w *Worker) Run(ctx context.Context, now time.Time) (RunStats, error) {
	ctx, span := tracer.Start(ctx, "ingest.batch")
	defer span.End()

	var stats RunStats

	claimed, err := w.sources.ClaimDue(ctx, now, w.cfg.BatchLimit)
	if err != nil {
		span.RecordError(err)
		return stats, fmt.Errorf("claiming due sources: %w", err)
	}
	stats.Claimed = len(claimed)

	for _, src := range claimed {
		n, empty, err := w.ingestSource(ctx, src)
		if err != nil {
			w.logger.Warn("source ingestion failed", "source", src.ID, "url", src.URL, "error", err)
			if failErr := w.sources.Fail(ctx, src.ID, err.Error(), now); failErr != nil {
				w.logger.Error("recording source failure", "source", src.ID, "error", failErr)
			}
			stats.Failed++
			continue
		}
		if err := w.sources.Complete(ctx, src.ID, n, now); err != nil {
			w.logger.Error("recording source completion", "source", src.ID, "error", err)
		}
		if empty {
			stats.Empty++
		} else {
			stats.Completed++
		}
		stats.Chunks += n
	}

	span.SetAttributes(
		attribute.Int("ingest.claimed", stats.Claimed),
		attribute.Int("ingest.completed", stats.Completed),
		attribute.Int("ingest.failed", stats.Failed),
		attribute.Int("ingest.chunks", stats.Chunks),
	)
	w.logger.Info("ingestion run finished",
		"claimed", stats.Claimed, "completed", stats.Completed,
		"empty", stats.Empty, "failed", stats.Failed, "chunks", stats.Chunks)
	return stats, nil
}

// ingestSource processes one source end to end. Returns the source's chunk
// count and whether the origin served an empty (bot-blocked) response.
func (w *Worker) ingestSource(ctx context.Context, src source.Source) (int, bool, error) {
	if src.URL == "" {
		// Synthetic sources have no URL to fetch; their chunks are managed
		// elsewhere. Keep the existing count.
		n, err := w.chunks.CountBySource(ctx, src.ID)
		return n, false, err
	}

	doc, err := w.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return 0, false, fmt.Errorf("fetch: %w", err)
	}
	if doc.Empty {
		// Blocked by the origin: not an error, keep prior chunks and retry
		// next freshness cycle.
		n, err := w.chunks.CountBySource(ctx, src.ID)
		return n, true, err
	}

	var sections []Section
	if doc.IsPDF() {
		markdown, err := w.pdf.Parse(ctx, doc.Body)
		if err != nil {
			return 0, false, fmt.Errorf("pdf parse: %w", err)
		}
		sections = SectionMarkdown(markdown, w.cfg.MinSectionChars)
	} else {
		_, sections, err = SectionHTML(doc.Body, src.URL, w.cfg.MinSectionChars)
		if err != nil {
			return 0, false, fmt.Errorf("html sectioning: %w", err)
		}
	}

	if err := w.upsertTextChunks(ctx, src, sections); err != nil {
		return 0, false, err
	}

	// PDFs carry no extractable images; an empty slice still prunes image
	// chunks left over from an earlier ingestion.
	var images []Image
	if !doc.IsPDF() {
		images = ExtractImages(doc.Body, src.URL)
	}
	if err := w.upsertImageChunks(ctx, src, images); err != nil {
		return 0, false, err
	}

	n, err := w.chunks.CountBySource(ctx, src.ID)
	if err != nil {
		return 0, false, fmt.Errorf("counting chunks: %w", err)
	}
	return n, false, nil
}

// upsertTextChunks splits sections into chunk texts, embeds them in batches,
// and upserts keyed by (source, position). A failed embedding batch stores
// its chunks without embeddings rather than aborting the source.
func (w *Worker) upsertTextChunks(ctx context.Context, src source.Source, sections []Section) error {
	var texts []string
	var headings []string
	for _, sec := range sections {
		for _, text := range SplitSection(sec, w.cfg.ChunkChars) {
			texts = append(texts, text)
			headings = append(headings, sec.Heading)
		}
	}

	for start := 0; start < len(texts); start += embedding.MaxBatchSize {
		end := min(start+embedding.MaxBatchSize, len(texts))
		batch := texts[start:end]

		vectors, err := w.embedder.EmbedTextBatch(ctx, batch)
		if err != nil {
			w.logger.Warn("text embedding batch failed, storing chunks without embeddings",
				"source", src.ID, "batch_start", start, "error", err)
			vectors = make([][]float32, len(batch))
		}

		for i, text := range batch {
			c := chunk.Chunk{
				SourceID:  src.ID,
				Kind:      chunk.KindText,
				Index:     start + i,
				Content:   text,
				Embedding: vectors[i],
				Metadata:  map[string]string{"heading": headings[start+i]},
			}
			if err := w.chunks.Upsert(ctx, c); err != nil {
				return fmt.Errorf("upserting text chunk %d: %w", start+i, err)
			}
		}
	}

	// A document that shrank leaves stale trailing indexes behind otherwise.
	if _, err := w.chunks.DeleteFrom(ctx, chunk.KindText, src.ID, len(texts)); err != nil {
		return err
	}
	return nil
}

// upsertImageChunks embeds and stores image captions with bounded fan-out
// and a short delay between groups to respect provider rate limits.
func (w *Worker) upsertImageChunks(ctx context.Context, src source.Source, images []Image) error {
	for start := 0; start < len(images); start += w.cfg.ImageFanout {
		end := min(start+w.cfg.ImageFanout, len(images))
		group := images[start:end]

		var wg sync.WaitGroup
		errs := make([]error, len(group))

		for i, img := range group {
			wg.Add(1)
			go func(i int, img Image) {
				defer wg.Done()

				vec, err := w.embedder.EmbedImage(ctx, img.Caption)
				if err != nil {
					// Per-chunk tolerance: store without embedding.
					w.logger.Warn("image embedding failed, storing caption without embedding",
						"source", src.ID, "image", img.URL, "error", err)
					vec = nil
				}

				errs[i] = w.chunks.Upsert(ctx, chunk.Chunk{
					SourceID:  src.ID,
					Kind:      chunk.KindImage,
					Index:     start + i,
					Content:   img.Caption,
					ImageURL:  img.URL,
					Embedding: vec,
				})
			}(i, img)
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				return fmt.Errorf("upserting image chunk: %w", err)
			}
		}

		if end < len(images) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interBatchDelay):
			}
		}
	}

	if _, err := w.chunks.DeleteFrom(ctx, chunk.KindImage, src.ID, len(images)); err != nil {
		return err
	}
	return nil
}
