package eval

import (
	"math"
	"strings"

	"github.com/leafcheck/leafcheck/internal/audit"
	"github.com/leafcheck/leafcheck/internal/recommend"
)

// Issue tags attached by the rule scorer.
const (
	IssueDiagnosisMismatch = "diagnosis-mismatch"
	IssueProhibitedPhrase  = "prohibited-phrase"
	IssueNoActions         = "no-actions"
	IssueNoTiming          = "no-timing"
	IssueNoCitations       = "no-citations"
)

// RuleResult is the synchronous, rule-based part of an evaluation.
// Faithfulness is filled in separately by the judge.
type RuleResult struct {
	Scores          Scores
	Issues          []string
	MissingEvidence []string
}

// ScoreRecommendation derives the five rule-based dimension scores. The
// scenario and audit entry are both optional: without a scenario, accuracy
// and helpfulness sit at neutral; without an audit, retrieval relevance does.
// The transformation is deterministic.
func ScoreRecommendation(rec recommend.Recommendation, scenario *Scenario, auditEntry *audit.Entry) RuleResult {
	var res RuleResult

	res.Scores.Faithfulness = NeutralFaithfulness
	res.scoreAccuracy(rec, scenario)
	res.scoreHelpfulness(rec, scenario)
	res.scoreActionability(rec)
	res.scoreCompleteness(rec, scenario)
	res.scoreRetrievalRelevance(rec, auditEntry)

	return res
}

func (r *RuleResult) scoreAccuracy(rec recommend.Recommendation, scenario *Scenario) {
	if scenario == nil || scenario.ExpectedDiagnosis == "" {
		r.Scores.Accuracy = 3
		return
	}

	diagnosis := strings.ToLower(rec.Diagnosis)
	switch {
	case strings.Contains(diagnosis, strings.ToLower(scenario.ExpectedDiagnosis)):
		r.Scores.Accuracy = 5
	case scenario.ExpectedConditionType != "" &&
		strings.EqualFold(rec.ConditionType, scenario.ExpectedConditionType):
		// Right class of problem, wrong specific diagnosis.
		r.Scores.Accuracy = 3
		r.addIssue(IssueDiagnosisMismatch)
	default:
		r.Scores.Accuracy = 1
		r.addIssue(IssueDiagnosisMismatch)
	}
}

func (r *RuleResult) scoreHelpfulness(rec recommend.Recommendation, scenario *Scenario) {
	if scenario == nil || len(scenario.MustInclude) == 0 {
		r.Scores.Helpfulness = 3
		return
	}

	text := recommendationText(rec)
	matched := 0
	for _, phrase := range scenario.MustInclude {
		if strings.Contains(text, strings.ToLower(phrase)) {
			matched++
		}
	}
	ratio := float64(matched) / float64(len(scenario.MustInclude))
	r.Scores.Helpfulness = clampScore(1 + int(math.Round(4*ratio)))

	for _, phrase := range scenario.ShouldAvoid {
		if strings.Contains(text, strings.ToLower(phrase)) {
			r.addIssue(IssueProhibitedPhrase)
			if r.Scores.Helpfulness > 2 {
				r.Scores.Helpfulness = 2
			}
			break
		}
	}
}

func (r *RuleResult) scoreActionability(rec recommend.Recommendation) {
	if len(rec.Actions) == 0 {
		r.Scores.Actionability = 1
		r.addIssue(IssueNoActions)
		return
	}

	timed := 0
	for _, a := range rec.Actions {
		if strings.TrimSpace(a.Timing) != "" {
			timed++
		}
	}
	switch {
	case timed == len(rec.Actions):
		r.Scores.Actionability = 5
	case timed > 0:
		r.Scores.Actionability = 3
	default:
		r.Scores.Actionability = 2
		r.addIssue(IssueNoTiming)
	}
}

func (r *RuleResult) scoreCompleteness(rec recommend.Recommendation, scenario *Scenario) {
	if scenario == nil || len(scenario.MustInclude) == 0 {
		r.Scores.Completeness = 3
		return
	}

	text := recommendationText(rec)
	for _, phrase := range scenario.MustInclude {
		if !strings.Contains(text, strings.ToLower(phrase)) {
			r.MissingEvidence = append(r.MissingEvidence, phrase)
		}
	}
	r.Scores.Completeness = clampScore(5 - len(r.MissingEvidence))
}

func (r *RuleResult) scoreRetrievalRelevance(rec recommend.Recommendation, auditEntry *audit.Entry) {
	if auditEntry == nil || len(auditEntry.Candidates) == 0 {
		r.Scores.RetrievalRelevance = 3
		return
	}
	if len(auditEntry.UsedChunkIDs) == 0 {
		r.Scores.RetrievalRelevance = 1
		r.addIssue(IssueNoCitations)
		return
	}

	ratio := float64(len(auditEntry.UsedChunkIDs)) / float64(len(auditEntry.Candidates))
	r.Scores.RetrievalRelevance = clampScore(1 + int(math.Round(4*ratio)))
}

func (r *RuleResult) addIssue(tag string) {
	for _, t := range r.Issues {
		if t == tag {
			return
		}
	}
	r.Issues = append(r.Issues, tag)
}

// recommendationText flattens a recommendation into one lowercase string for
// phrase matching.
func recommendationText(rec recommend.Recommendation) string {
	var sb strings.Builder
	sb.WriteString(rec.Diagnosis)
	for _, a := range rec.Actions {
		sb.WriteString(" ")
		sb.WriteString(a.Text)
		sb.WriteString(" ")
		sb.WriteString(a.Timing)
	}
	return strings.ToLower(sb.String())
}
