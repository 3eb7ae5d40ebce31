package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/leafcheck/leafcheck/internal/audit"
)

// ReportItem is one scored scenario in a run report.
type ReportItem struct {
	ScenarioID       string   `json:"scenarioId"`
	Crop             string   `json:"crop"`
	Region           string   `json:"region"`
	RecommendationID string   `json:"recommendationId"`
	Scores           Scores   `json:"scores"`
	Overall          int      `json:"overall"`
	Issues           []string `json:"issues,omitempty"`
}

// Aggregates are run-level mean scores.
type Aggregates struct {
	Accuracy    float64 `json:"accuracy"`
	Helpfulness float64 `json:"helpfulness"`
	Overall     float64 `json:"overall"`
}

// Report is one evaluation or feedback-loop run's result artifact. It is an
// operational convenience, not a stable API.
type Report struct {
	GeneratedAt   time.Time            `json:"generatedAt"`
	Iterations    int                  `json:"iterations,omitempty"`
	Items         []ReportItem         `json:"items"`
	Aggregates    Aggregates           `json:"aggregates"`
	MissedSources []audit.MissedSource `json:"topMissedSources,omitempty"`
}

// Aggregate recomputes the report's mean scores from its items.
func (r *Report) Aggregate() {
	if len(r.Items) == 0 {
		r.Aggregates = Aggregates{}
		return
	}
	var acc, help, overall float64
	for _, it := range r.Items {
		acc += float64(it.Scores.Accuracy)
		help += float64(it.Scores.Helpfulness)
		overall += float64(it.Overall)
	}
	n := float64(len(r.Items))
	r.Aggregates = Aggregates{Accuracy: acc / n, Helpfulness: help / n, Overall: overall / n}
}

// WriteReports writes the timestamped JSON result file and its Markdown
// summary into dir, guarded by a file lock so concurrent runs never
// interleave writes. Returns the two paths.
func WriteReports(dir string, r Report) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating results dir %q: %w", dir, err)
	}

	lock := flock.New(filepath.Join(dir, ".results.lock"))
	if err := lock.Lock(); err != nil {
		return "", "", fmt.Errorf("locking results dir: %w", err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now()
	}
	stamp := r.GeneratedAt.Format("20060102_150405")
	jsonPath := filepath.Join(dir, "eval_"+stamp+".json")
	mdPath := filepath.Join(dir, "eval_"+stamp+".md")

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshaling report: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("writing %q: %w", jsonPath, err)
	}
	if err := os.WriteFile(mdPath, []byte(renderMarkdown(r)), 0o644); err != nil {
		return "", "", fmt.Errorf("writing %q: %w", mdPath, err)
	}
	return jsonPath, mdPath, nil
}

func renderMarkdown(r Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Evaluation Report - %s\n\n", r.GeneratedAt.Format("2006-01-02 15:04"))
	if r.Iterations > 0 {
		fmt.Fprintf(&sb, "Feedback loop iterations: %d\n\n", r.Iterations)
	}

	fmt.Fprintf(&sb, "## Aggregates\n\n")
	fmt.Fprintf(&sb, "| Dimension | Mean |\n|---|---|\n")
	fmt.Fprintf(&sb, "| Accuracy | %.2f |\n", r.Aggregates.Accuracy)
	fmt.Fprintf(&sb, "| Helpfulness | %.2f |\n", r.Aggregates.Helpfulness)
	fmt.Fprintf(&sb, "| Overall | %.2f |\n\n", r.Aggregates.Overall)

	writeBreakdown(&sb, "Per crop", r.Items, func(it ReportItem) string { return it.Crop })
	writeBreakdown(&sb, "Per region", r.Items, func(it ReportItem) string { return it.Region })

	if freq := issueFrequency(r.Items); len(freq) > 0 {
		fmt.Fprintf(&sb, "## Issue tags\n\n")
		for _, f := range freq {
			fmt.Fprintf(&sb, "- `%s`: %d\n", f.tag, f.count)
		}
		sb.WriteString("\n")
	}

	if len(r.MissedSources) > 0 {
		fmt.Fprintf(&sb, "## Top missed sources\n\n")
		for _, m := range r.MissedSources {
			title := m.Title
			if title == "" {
				title = m.SourceID
			}
			fmt.Fprintf(&sb, "- %s: missed %d times\n", title, m.MissedCount)
		}
		sb.WriteString("\n")
	}

	writeActionItems(&sb, r)
	return sb.String()
}

func writeBreakdown(sb *strings.Builder, title string, items []ReportItem, key func(ReportItem) string) {
	type agg struct {
		sum   int
		count int
	}
	groups := make(map[string]*agg)
	for _, it := range items {
		k := key(it)
		if k == "" {
			continue
		}
		if groups[k] == nil {
			groups[k] = &agg{}
		}
		groups[k].sum += it.Overall
		groups[k].count++
	}
	if len(groups) == 0 {
		return
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(sb, "## %s\n\n", title)
	for _, k := range keys {
		g := groups[k]
		fmt.Fprintf(sb, "- %s: %.2f (%d scenarios)\n", k, float64(g.sum)/float64(g.count), g.count)
	}
	sb.WriteString("\n")
}

type tagCount struct {
	tag   string
	count int
}

func issueFrequency(items []ReportItem) []tagCount {
	counts := make(map[string]int)
	for _, it := range items {
		for _, tag := range it.Issues {
			counts[tag]++
		}
	}
	out := make([]tagCount, 0, len(counts))
	for tag, n := range counts {
		out = append(out, tagCount{tag, n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].tag < out[j].tag
	})
	return out
}

func writeActionItems(sb *strings.Builder, r Report) {
	var actions []string
	for _, f := range issueFrequency(r.Items) {
		switch f.tag {
		case IssueNoCitations:
			actions = append(actions, "Generator rarely cites retrieved evidence; review prompt citation instructions.")
		case IssueDiagnosisMismatch:
			actions = append(actions, "Diagnosis mismatches present; check coverage for the affected crops.")
		case IssueProhibitedPhrase:
			actions = append(actions, "Prohibited phrases appearing in output; tighten generation guardrails.")
		}
	}
	if len(r.MissedSources) > 0 {
		actions = append(actions, "High-similarity sources going uncited; consider boosting or corpus cleanup.")
	}
	if len(actions) == 0 {
		return
	}
	fmt.Fprintf(sb, "## Action items\n\n")
	for _, a := range actions {
		fmt.Fprintf(sb, "- %s\n", a)
	}
}
