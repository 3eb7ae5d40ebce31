package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/leafcheck/leafcheck/internal/audit"
	"github.com/leafcheck/leafcheck/internal/eval"
	"github.com/leafcheck/leafcheck/internal/recommend"
	"github.com/leafcheck/leafcheck/internal/retrieval"
)

// GapType classifies why a recommendation underperformed.
type GapType string

const (
	// GapRetrievalNoSources: nothing relevant went uncited; the corpus
	// itself needs expansion. Not eligible for automatic revision.
	GapRetrievalNoSources GapType = "retrieval_gap_no_sources"
	// GapRetrievalMissedSources: relevant chunks were retrieved but never
	// cited. Eligible for a forced-source revision.
	GapRetrievalMissedSources GapType = "retrieval_gap_missed_sources"
	// GapPromptUnfaithful: low faithfulness; needs prompt tuning, not
	// different evidence.
	GapPromptUnfaithful GapType = "prompt_gap_unfaithful"
	GapAccuracy         GapType = "accuracy_gap"
	GapHelpfulness      GapType = "helpfulness_gap"
)

// Outcome is the loop's terminal state.
type Outcome string

const (
	OutcomeTargetsMet    Outcome = "targets_met"
	OutcomeHardPlateau   Outcome = "hard_plateau"
	OutcomeMaxIterations Outcome = "max_iterations"
)

// Loop tuning defaults and revision constants.
const (
	DefaultMaxIterations     = 5
	DefaultTargetAccuracy    = 4.0
	DefaultTargetHelpfulness = 4.0
	DefaultBottomN           = 3

	maxForcedSources = 3
	// ForcedBoost is the heavy boost applied to each forced source during a
	// revision's retrieval.
	ForcedBoost = 0.2
	// boostStep is the permanent increment applied when a forced source
	// measurably improved a revision.
	boostStep = 0.05

	revisionTokenEstimate = 2000
)

// Diagnoser runs one request through the recommendation pipeline.
type Diagnoser interface {
	Diagnose(ctx context.Context, req recommend.Request) (recommend.Result, error)
}

// Evaluator scores one recommendation.
type Evaluator interface {
	Evaluate(ctx context.Context, rec recommend.Recommendation, scenario *eval.Scenario,
		auditEntry *audit.Entry, evidence []retrieval.ScoredChunk) (eval.Evaluation, error)
}

// AuditReader loads persisted audit entries.
type AuditReader interface {
	GetByRecommendation(ctx context.Context, recommendationID string) ([]audit.Entry, error)
}

// AuditFlusher drains pending async audit writes so reads observe them.
type AuditFlusher interface {
	Wait()
}

// RevisionInserter persists revision snapshots.
type RevisionInserter interface {
	Insert(ctx context.Context, r Revision) error
}

// BoostWriter applies permanent boost increases.
type BoostWriter interface {
	Increase(ctx context.Context, sourceID string, delta float64) error
}

// Config tunes one loop run.
type Config struct {
	MaxIterations     int
	TargetAccuracy    float64
	TargetHelpfulness float64
	BottomN           int
	RelevanceFloor    float64
}

// IterationStats summarizes one loop iteration.
type IterationStats struct {
	Accuracy    float64
	Helpfulness float64
	Attempted   int
	Improved    int
}

// RunResult is the loop's outcome plus its final report.
type RunResult struct {
	Outcome    Outcome
	Iterations []IterationStats
	Plateaued  bool
	Report     eval.Report
}

// Loop drives the evaluate → revise → boost cycle. All LLM-backed work is
// strictly sequential and token-gated.
type Loop struct {
	pipeline  Diagnoser
	engine    Evaluator
	audits    AuditReader
	flush     AuditFlusher
	revisions RevisionInserter
	boosts    BoostWriter
	gate      *TokenGate
	cfg       Config
	logger    *slog.Logger
}

// NewLoop wires a feedback loop driver.
func NewLoop(pipeline Diagnoser, engine Evaluator, audits AuditReader, flush AuditFlusher,
	revisions RevisionInserter, boosts BoostWriter, gate *TokenGate, cfg Config, logger *slog.Logger) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.TargetAccuracy <= 0 {
		cfg.TargetAccuracy = DefaultTargetAccuracy
	}
	if cfg.TargetHelpfulness <= 0 {
		cfg.TargetHelpfulness = DefaultTargetHelpfulness
	}
	if cfg.BottomN <= 0 {
		cfg.BottomN = DefaultBottomN
	}
	if cfg.RelevanceFloor <= 0 {
		cfg.RelevanceFloor = audit.DefaultRelevanceFloor
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		pipeline:  pipeline,
		engine:    engine,
		audits:    audits,
		flush:     flush,
		revisions: revisions,
		boosts:    boosts,
		gate:      gate,
		cfg:       cfg,
		logger:    logger,
	}
}

// item tracks one scenario's current recommendation through the loop.
type item struct {
	scenario   eval.Scenario
	result     recommend.Result
	evaluation eval.Evaluation
	missed     []audit.Candidate
	gap        GapType
	revisions  int
}

// Run executes the loop over the given scenarios until targets are met, a
// hard plateau is detected, or MaxIterations is exhausted.
func (l *Loop) Run(ctx context.Context, scenarios []eval.Scenario) (RunResult, error) {
	items, err := l.generateAll(ctx, scenarios)
	if err != nil {
		return RunResult{}, err
	}

	var res RunResult
	var prev IterationStats
	attempted, improved := 0, 0

	for iter := 1; iter <= l.cfg.MaxIterations; iter++ {
		if err := l.evaluateAll(ctx, items); err != nil {
			return RunResult{}, err
		}
		stats := aggregate(items)
		stats.Attempted, stats.Improved = attempted, improved
		res.Iterations = append(res.Iterations, stats)

		l.logger.Info("loop iteration evaluated",
			"iteration", iter, "accuracy", stats.Accuracy, "helpfulness", stats.Helpfulness)

		if stats.Accuracy >= l.cfg.TargetAccuracy && stats.Helpfulness >= l.cfg.TargetHelpfulness {
			res.Outcome = OutcomeTargetsMet
			break
		}

		if iter > 1 && stats.Accuracy <= prev.Accuracy && stats.Helpfulness <= prev.Helpfulness {
			res.Plateaued = true
			l.logger.Warn("loop plateau: no aggregate improvement over previous iteration")
			if attempted > 0 && improved == 0 {
				// Revisions were tried, none helped, accuracy is flat.
				// Human action required.
				res.Outcome = OutcomeHardPlateau
				break
			}
		}
		prev = stats

		if iter == l.cfg.MaxIterations {
			res.Outcome = OutcomeMaxIterations
			break
		}

		attempted, improved = 0, 0
		for _, it := range l.selectBottom(items) {
			it.gap = l.classify(it)
			if it.gap != GapRetrievalMissedSources {
				l.logger.Info("skipping revision",
					"scenario", it.scenario.ID, "gap", string(it.gap))
				continue
			}
			attempted++
			ok, err := l.revise(ctx, it)
			if err != nil {
				// Per-item isolation: a failed revision counts as a
				// non-improving one.
				l.logger.Warn("revision failed", "scenario", it.scenario.ID, "error", err)
				continue
			}
			if ok {
				improved++
			}
		}
	}

	if res.Outcome == "" {
		res.Outcome = OutcomeMaxIterations
	}
	res.Report = l.buildReport(items, len(res.Iterations))
	return res, nil
}

func (l *Loop) generateAll(ctx context.Context, scenarios []eval.Scenario) ([]*item, error) {
	var items []*item
	for _, sc := range scenarios {
		res, err := l.pipeline.Diagnose(ctx, recommend.Request{Input: sc.Input()})
		if err != nil {
			l.logger.Warn("initial generation failed, scenario skipped",
				"scenario", sc.ID, "error", err)
			continue
		}
		items = append(items, &item{scenario: sc, result: res})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no recommendations generated from %d scenarios", len(scenarios))
	}
	return items, nil
}

func (l *Loop) evaluateAll(ctx context.Context, items []*item) error {
	l.flush.Wait()

	for _, it := range items {
		entry, err := l.latestAudit(ctx, it.result.Recommendation.ID)
		if err != nil {
			return err
		}
		if entry != nil {
			it.missed = entry.MissedChunks(l.cfg.RelevanceFloor)
		} else {
			it.missed = nil
		}

		ev, err := l.engine.Evaluate(ctx, it.result.Recommendation, &it.scenario, entry, it.result.Context.Chunks)
		if err != nil {
			return fmt.Errorf("evaluating scenario %q: %w", it.scenario.ID, err)
		}
		it.evaluation = ev
	}
	return nil
}

func (l *Loop) latestAudit(ctx context.Context, recommendationID string) (*audit.Entry, error) {
	entries, err := l.audits.GetByRecommendation(ctx, recommendationID)
	if err != nil {
		return nil, fmt.Errorf("loading audit for %q: %w", recommendationID, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// selectBottom picks up to BottomN items below target, worst first.
func (l *Loop) selectBottom(items []*item) []*item {
	var below []*item
	for _, it := range items {
		acc := float64(it.evaluation.Scores.Accuracy)
		help := float64(it.evaluation.Scores.Helpfulness)
		if acc < l.cfg.TargetAccuracy || help < l.cfg.TargetHelpfulness {
			below = append(below, it)
		}
	}
	sort.SliceStable(below, func(i, j int) bool {
		si := below[i].evaluation.Scores.Accuracy + below[i].evaluation.Scores.Helpfulness
		sj := below[j].evaluation.Scores.Accuracy + below[j].evaluation.Scores.Helpfulness
		return si < sj
	})
	if len(below) > l.cfg.BottomN {
		below = below[:l.cfg.BottomN]
	}
	return below
}

func (l *Loop) classify(it *item) GapType {
	switch {
	case it.evaluation.Scores.Faithfulness <= 2:
		return GapPromptUnfaithful
	case len(it.missed) > 0:
		return GapRetrievalMissedSources
	case it.evaluation.Scores.RetrievalRelevance <= 2:
		return GapRetrievalNoSources
	case float64(it.evaluation.Scores.Accuracy) < l.cfg.TargetAccuracy:
		return GapAccuracy
	default:
		return GapHelpfulness
	}
}

// revise regenerates one item with its top missed sources forced into the
// required set. Returns whether the revision improved accuracy or
// helpfulness; improvements promote the forced sources' persisted boosts
// and replace the item's current recommendation.
func (l *Loop) revise(ctx context.Context, it *item) (bool, error) {
	forced := topMissedSources(it.missed, maxForcedSources)
	extraBoosts := make(map[string]float64, len(forced))
	for _, id := range forced {
		extraBoosts[id] = ForcedBoost
	}

	if err := l.gate.Acquire(ctx, revisionTokenEstimate); err != nil {
		return false, fmt.Errorf("waiting for revision token budget: %w", err)
	}

	res, err := l.pipeline.Diagnose(ctx, recommend.Request{
		Input:           it.scenario.Input(),
		ForcedSourceIDs: forced,
		ExtraBoosts:     extraBoosts,
	})
	l.gate.Record(revisionTokenEstimate, revisionTokenEstimate+estimateRecommendationTokens(res.Recommendation))
	if err != nil {
		return false, err
	}

	it.revisions++
	err = l.revisions.Insert(ctx, Revision{
		RecommendationID: it.result.Recommendation.ID,
		RevisionIndex:    it.revisions,
		ForcedSourceIDs:  forced,
		Diagnosis:        res.Recommendation,
	})
	if err != nil {
		return false, err
	}

	l.flush.Wait()
	entry, err := l.latestAudit(ctx, res.Recommendation.ID)
	if err != nil {
		return false, err
	}
	newEval, err := l.engine.Evaluate(ctx, res.Recommendation, &it.scenario, entry, res.Context.Chunks)
	if err != nil {
		return false, err
	}

	// Single-sample comparison: judge noise can sneak a boost through, a
	// known approximation carried over deliberately.
	improvedScores := newEval.Scores.Accuracy > it.evaluation.Scores.Accuracy ||
		newEval.Scores.Helpfulness > it.evaluation.Scores.Helpfulness
	if !improvedScores {
		return false, nil
	}

	for _, id := range forced {
		if err := l.boosts.Increase(ctx, id, boostStep); err != nil {
			return false, fmt.Errorf("boosting source %q: %w", id, err)
		}
	}
	it.result = res
	it.evaluation = newEval
	if entry != nil {
		it.missed = entry.MissedChunks(l.cfg.RelevanceFloor)
	}
	return true, nil
}

func (l *Loop) buildReport(items []*item, iterations int) eval.Report {
	report := eval.Report{Iterations: iterations}
	for _, it := range items {
		report.Items = append(report.Items, eval.ReportItem{
			ScenarioID:       it.scenario.ID,
			Crop:             it.scenario.Crop,
			Region:           it.scenario.Region,
			RecommendationID: it.result.Recommendation.ID,
			Scores:           it.evaluation.Scores,
			Overall:          it.evaluation.Overall,
			Issues:           it.evaluation.Issues,
		})
	}
	report.Aggregate()
	return report
}

// topMissedSources returns up to n distinct source ids from the missed
// candidates, highest similarity first.
func topMissedSources(missed []audit.Candidate, n int) []string {
	sorted := append([]audit.Candidate{}, missed...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Similarity > sorted[j].Similarity
	})

	seen := make(map[string]bool)
	var out []string
	for _, c := range sorted {
		if seen[c.SourceID] {
			continue
		}
		seen[c.SourceID] = true
		out = append(out, c.SourceID)
		if len(out) == n {
			break
		}
	}
	return out
}

func aggregate(items []*item) IterationStats {
	var stats IterationStats
	for _, it := range items {
		stats.Accuracy += float64(it.evaluation.Scores.Accuracy)
		stats.Helpfulness += float64(it.evaluation.Scores.Helpfulness)
	}
	n := float64(len(items))
	stats.Accuracy /= n
	stats.Helpfulness /= n
	return stats
}

func estimateRecommendationTokens(rec recommend.Recommendation) int {
	n := len(rec.Diagnosis)
	for _, a := range rec.Actions {
		n += len(a.Text) + len(a.Timing)
	}
	return n / 4
}
