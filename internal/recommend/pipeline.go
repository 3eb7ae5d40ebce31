package recommend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/leafcheck/leafcheck/internal/audit"
	"github.com/leafcheck/leafcheck/internal/chunk"
	"github.com/leafcheck/leafcheck/internal/embedding"
	"github.com/leafcheck/leafcheck/internal/retrieval"
)

// Searcher is the vector search slice of the chunk store.
type Searcher interface {
	SearchSimilar(ctx context.Context, kind chunk.Kind, query []float32, limit int, threshold float64) ([]chunk.Result, error)
}

// BoostReader loads the persisted source boost table.
type BoostReader interface {
	All(ctx context.Context) (map[string]float64, error)
}

// AuditLogger records retrieval evidence trails without blocking delivery.
type AuditLogger interface {
	Log(e audit.Entry)
}

// Request is one diagnosis request. ImageQuery optionally carries a 512-dim
// embedding of an input photo. ForcedSourceIDs and ExtraBoosts are set by
// the feedback loop when revising a poor recommendation.
type Request struct {
	Input           retrieval.Input
	ImageQuery      []float32
	ForcedSourceIDs []string
	ExtraBoosts     map[string]float64
}

// Result carries the recommendation and the retrieval artifacts that
// produced it.
type Result struct {
	Recommendation Recommendation
	Plan           retrieval.Plan
	Context        retrieval.Context
}

// Config tunes the pipeline's retrieval stage.
type Config struct {
	TopK            int
	SimilarityFloor float64
}

// Pipeline runs plan → hints → search → assemble → generate → audit.
type Pipeline struct {
	embedder  embedding.Provider
	searcher  Searcher
	hints     *retrieval.HintResolver
	assembler *retrieval.Assembler
	boosts    BoostReader
	generator Generator
	audits    AuditLogger
	cfg       Config
	logger    *slog.Logger
}

// NewPipeline wires a diagnosis pipeline.
func NewPipeline(embedder embedding.Provider, searcher Searcher, hints *retrieval.HintResolver,
	assembler *retrieval.Assembler, boosts BoostReader, generator Generator,
	audits AuditLogger, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.TopK <= 0 {
		cfg.TopK = 8
	}
	if cfg.SimilarityFloor <= 0 {
		cfg.SimilarityFloor = audit.DefaultRelevanceFloor
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		embedder:  embedder,
		searcher:  searcher,
		hints:     hints,
		assembler: assembler,
		boosts:    boosts,
		generator: generator,
		audits:    audits,
		cfg:       cfg,
		logger:    logger,
	}
}

// Diagnose runs one request through the full pipeline.
//
// An empty assembled context is a hard failure: retrieval.ErrNoEvidence
// propagates and generation never runs. Audit logging is fire-and-forget
// and cannot fail the request.
func (p *Pipeline) Diagnose(ctx context.Context, req Request) (Result, error) {
	plan := retrieval.BuildPlan(req.Input)

	resolved, err := p.hints.Resolve(ctx, plan.TitleHints)
	if err != nil {
		return Result{}, fmt.Errorf("resolving source hints: %w", err)
	}

	queryVec, err := p.embedder.EmbedText(ctx, plan.Query)
	if err != nil {
		return Result{}, fmt.Errorf("embedding query: %w", err)
	}

	textCands, err := p.searcher.SearchSimilar(ctx, chunk.KindText, queryVec, p.cfg.TopK, p.cfg.SimilarityFloor)
	if err != nil {
		return Result{}, fmt.Errorf("searching text chunks: %w", err)
	}

	var imageCands []chunk.Result
	if len(req.ImageQuery) > 0 {
		imageCands, err = p.searcher.SearchSimilar(ctx, chunk.KindImage, req.ImageQuery, p.cfg.TopK, p.cfg.SimilarityFloor)
		if err != nil {
			return Result{}, fmt.Errorf("searching image chunks: %w", err)
		}
	}

	boosts, err := p.mergeBoosts(ctx, resolved.Boosts, req.ExtraBoosts)
	if err != nil {
		return Result{}, err
	}
	required := mergeIDs(resolved.RequiredSourceIDs, req.ForcedSourceIDs)

	evidence, err := p.assembler.Assemble(ctx, retrieval.AssembleRequest{
		TextCandidates:    textCands,
		ImageCandidates:   imageCands,
		RequiredSourceIDs: required,
		Boosts:            boosts,
		TextQuery:         queryVec,
		ImageQuery:        req.ImageQuery,
	})
	if err != nil {
		return Result{}, err
	}

	rec, err := p.generator.Generate(ctx, req.Input, evidence)
	if err != nil {
		return Result{}, fmt.Errorf("generating recommendation: %w", err)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.InputID = req.Input.ID

	p.audits.Log(buildAuditEntry(req.Input.ID, rec, plan, required, textCands, imageCands, evidence))

	return Result{Recommendation: rec, Plan: plan, Context: evidence}, nil
}

func (p *Pipeline) mergeBoosts(ctx context.Context, hint, extra map[string]float64) (map[string]float64, error) {
	persisted, err := p.boosts.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading source boosts: %w", err)
	}

	merged := make(map[string]float64, len(persisted)+len(hint)+len(extra))
	for id, b := range persisted {
		merged[id] += b
	}
	for id, b := range hint {
		merged[id] += b
	}
	for id, b := range extra {
		merged[id] += b
	}
	return merged, nil
}

func mergeIDs(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

func buildAuditEntry(inputID string, rec Recommendation, plan retrieval.Plan,
	required []string, text, images []chunk.Result, evidence retrieval.Context) audit.Entry {
	candidates := make([]audit.Candidate, 0, len(text)+len(images))
	seen := make(map[string]bool)
	for _, r := range append(append([]chunk.Result{}, text...), images...) {
		seen[r.Chunk.ID] = true
		candidates = append(candidates, audit.Candidate{
			ChunkID:    r.Chunk.ID,
			SourceID:   r.Chunk.SourceID,
			Kind:       string(r.Chunk.Kind),
			Similarity: r.Similarity,
		})
	}

	assembled := make([]string, 0, len(evidence.Chunks))
	for _, sc := range evidence.Chunks {
		assembled = append(assembled, sc.Chunk.ID)
		// Required-source chunks enter via the unconditional lookup, so they
		// may not appear among the search candidates. They were still
		// considered, and their citations must resolve.
		if !seen[sc.Chunk.ID] {
			seen[sc.Chunk.ID] = true
			candidates = append(candidates, audit.Candidate{
				ChunkID:    sc.Chunk.ID,
				SourceID:   sc.Chunk.SourceID,
				Kind:       string(sc.Chunk.Kind),
				Similarity: sc.Similarity,
			})
		}
	}

	used := make([]string, 0, len(rec.Sources))
	for _, s := range rec.Sources {
		used = append(used, s.ChunkID)
	}

	return audit.Entry{
		InputID:           inputID,
		RecommendationID:  rec.ID,
		Plan:              plan,
		RequiredSourceIDs: required,
		Candidates:        candidates,
		AssembledChunkIDs: assembled,
		UsedChunkIDs:      used,
	}
}
