package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leafcheck/leafcheck/internal/source"
)

// HintBoost is the moderate ranking boost a hint-matched source receives.
const HintBoost = 0.1

// maxMatchesPerHint bounds how many sources one fuzzy hint can pull in.
const maxMatchesPerHint = 3

// TitleMatcher finds sources whose titles contain a fragment.
type TitleMatcher interface {
	FindByTitle(ctx context.Context, fragment string, limit int) ([]source.Source, error)
}

// ResolvedHints is the outcome of resolving title hints against the source
// registry: which sources become required and which get a ranking boost.
type ResolvedHints struct {
	RequiredSourceIDs []string
	Boosts            map[string]float64
}

// HintResolver turns advisory title hints into required-source IDs.
type HintResolver struct {
	matcher TitleMatcher
	logger  *slog.Logger
}

// NewHintResolver creates a resolver backed by the given title matcher.
func NewHintResolver(matcher TitleMatcher, logger *slog.Logger) *HintResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &HintResolver{matcher: matcher, logger: logger}
}

// Resolve matches each hint against source titles. Matched sources become
// required and receive HintBoost. Hints that match nothing are silently
// dropped: hints are advisory, not contractual. Lookup errors fail the whole
// resolution since a partial required set would be misleading.
func (r *HintResolver) Resolve(ctx context.Context, hints []string) (ResolvedHints, error) {
	resolved := ResolvedHints{Boosts: make(map[string]float64)}
	seen := make(map[string]bool)

	for _, hint := range hints {
		matches, err := r.matcher.FindByTitle(ctx, hint, maxMatchesPerHint)
		if err != nil {
			return ResolvedHints{}, fmt.Errorf("resolving hint %q: %w", hint, err)
		}
		if len(matches) == 0 {
			r.logger.Debug("title hint matched no sources", "hint", hint)
			continue
		}
		for _, src := range matches {
			if seen[src.ID] {
				continue
			}
			seen[src.ID] = true
			resolved.RequiredSourceIDs = append(resolved.RequiredSourceIDs, src.ID)
			resolved.Boosts[src.ID] = HintBoost
		}
	}
	return resolved, nil
}
