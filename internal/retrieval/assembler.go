package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/leafcheck/leafcheck/internal/chunk"
)

// ErrNoEvidence indicates the assembled context holds zero chunks.
// Recommendation generation must not proceed past it.
var ErrNoEvidence = errors.New("no relevant knowledge found")

// DefaultTokenBudget caps assembled context size.
const DefaultTokenBudget = 6000

// RequiredLookup fetches every chunk of the given sources unconditionally,
// regardless of similarity rank.
type RequiredLookup interface {
	SearchBySources(ctx context.Context, kind chunk.Kind, query []float32, sourceIDs []string) ([]chunk.Result, error)
}

// ScoredChunk is one context entry: a search result with its boosted score
// and whether it came from a required source.
type ScoredChunk struct {
	chunk.Result
	Score    float64
	Required bool
}

// Context is the assembled evidence handed to the generator.
type Context struct {
	Chunks      []ScoredChunk
	TotalChunks int
	TotalTokens int
}

// AssembleRequest carries one assembly's inputs. ImageQuery may be nil when
// the request has no image embedding; required image chunks are then skipped.
type AssembleRequest struct {
	TextCandidates    []chunk.Result
	ImageCandidates   []chunk.Result
	RequiredSourceIDs []string
	Boosts            map[string]float64
	TextQuery         []float32
	ImageQuery        []float32
}

// Assembler builds token-bounded context from search candidates.
// It is read-only and safe for concurrent use.
type Assembler struct {
	required    RequiredLookup
	tokenBudget int
	logger      *slog.Logger
}

// NewAssembler creates a context assembler.
func NewAssembler(required RequiredLookup, tokenBudget int, logger *slog.Logger) *Assembler {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{required: required, tokenBudget: tokenBudget, logger: logger}
}

// Assemble merges text and image candidates, applies source boosts, and
// accumulates chunks into a context up to the token budget.
//
// Chunks of required sources are fetched by a separate unconditional lookup
// and placed first: once added they are never dropped, even when the budget
// is already spent. Everything else fills the remaining budget in descending
// boosted-score order. Returns ErrNoEvidence when nothing qualifies.
func (a *Assembler) Assemble(ctx context.Context, req AssembleRequest) (Context, error) {
	requiredSet := make(map[string]bool, len(req.RequiredSourceIDs))
	for _, id := range req.RequiredSourceIDs {
		requiredSet[id] = true
	}

	included := make(map[string]bool) // chunk ids already in context
	var out Context

	add := func(sc ScoredChunk) {
		if sc.Chunk.ID != "" && included[sc.Chunk.ID] {
			return
		}
		included[sc.Chunk.ID] = true
		out.Chunks = append(out.Chunks, sc)
		out.TotalTokens += estimateTokens(sc.Chunk.Content)
	}

	requiredResults, err := a.lookupRequired(ctx, req)
	if err != nil {
		return Context{}, err
	}
	for _, r := range requiredResults {
		add(ScoredChunk{Result: r, Score: boostedScore(r, req.Boosts), Required: true})
	}

	ranked := rankCandidates(req.TextCandidates, req.ImageCandidates, req.Boosts)
	for _, sc := range ranked {
		if out.TotalTokens >= a.tokenBudget {
			break
		}
		if requiredSet[sc.Chunk.SourceID] {
			// Already covered by the unconditional lookup.
			continue
		}
		add(sc)
	}

	out.TotalChunks = len(out.Chunks)
	if out.TotalChunks == 0 {
		return Context{}, ErrNoEvidence
	}

	a.logger.Debug("context assembled",
		"chunks", out.TotalChunks, "tokens", out.TotalTokens,
		"required_sources", len(req.RequiredSourceIDs))
	return out, nil
}

func (a *Assembler) lookupRequired(ctx context.Context, req AssembleRequest) ([]chunk.Result, error) {
	if len(req.RequiredSourceIDs) == 0 {
		return nil, nil
	}

	var out []chunk.Result
	if len(req.TextQuery) > 0 {
		text, err := a.required.SearchBySources(ctx, chunk.KindText, req.TextQuery, req.RequiredSourceIDs)
		if err != nil {
			return nil, fmt.Errorf("looking up required text chunks: %w", err)
		}
		out = append(out, text...)
	}
	if len(req.ImageQuery) > 0 {
		images, err := a.required.SearchBySources(ctx, chunk.KindImage, req.ImageQuery, req.RequiredSourceIDs)
		if err != nil {
			return nil, fmt.Errorf("looking up required image chunks: %w", err)
		}
		out = append(out, images...)
	}
	return out, nil
}

// rankCandidates merges both candidate lists, deduplicates by chunk id
// keeping the higher boosted score, and sorts by score descending with
// chunk id as a stable tiebreak.
func rankCandidates(text, images []chunk.Result, boosts map[string]float64) []ScoredChunk {
	byID := make(map[string]ScoredChunk)
	for _, r := range append(append([]chunk.Result{}, text...), images...) {
		sc := ScoredChunk{Result: r, Score: boostedScore(r, boosts)}
		if prev, ok := byID[r.Chunk.ID]; ok && prev.Score >= sc.Score {
			continue
		}
		byID[r.Chunk.ID] = sc
	}

	out := make([]ScoredChunk, 0, len(byID))
	for _, sc := range byID {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	return out
}

// boostedScore applies the source's additive boost, clamped so a boosted
// score never exceeds 1.
func boostedScore(r chunk.Result, boosts map[string]float64) float64 {
	score := r.Similarity + boosts[r.Chunk.SourceID]
	if score > 1 {
		return 1
	}
	return score
}

// estimateTokens approximates token count as one token per four characters.
func estimateTokens(content string) int {
	return len(content) / 4
}
