// Package retrieval turns diagnosis requests into search plans and assembles
// token-bounded evidence context from vector search candidates.
package retrieval

import (
	"fmt"
	"sort"
	"strings"
)

// Input is one heterogeneous diagnosis request: free text plus whatever
// structured fields the caller has.
type Input struct {
	ID          string
	Description string
	Crop        string
	Location    string
	GrowthStage string
	InputType   string // text | image | lab-report
	LabValues   map[string]float64
}

// Plan is the derived retrieval plan for one input. Plans are ephemeral and
// only persisted inside the retrieval audit.
type Plan struct {
	Query      string   `json:"query"`
	TopicTags  []string `json:"topicTags"`
	TitleHints []string `json:"titleHints"`
}

// Lab value boundaries used by the planning rules.
const (
	phAcidic     = 5.5
	phAlkaline   = 7.5
	nitrogenLow  = 20.0 // ppm
	phosphorusLo = 15.0 // ppm
	potassiumLow = 100.0 // ppm
)

// symptomRules map description keywords to topic tags and title hints.
var symptomRules = []struct {
	keyword string
	tag     string
	hint    string
}{
	{"yellow", "chlorosis", ""},
	{"chloro", "chlorosis", ""},
	{"spot", "leaf-spot", "disease management"},
	{"lesion", "leaf-spot", "disease management"},
	{"wilt", "wilting", "water management"},
	{"stunt", "stunted-growth", ""},
	{"purpl", "phosphorus-deficiency", "phosphorus management"},
	{"necro", "necrosis", ""},
	{"curl", "leaf-curl", ""},
}

// BuildPlan derives a search plan from one input. The transformation is
// purely rule based and idempotent: the same input always yields the same
// plan, with tags and hints in a stable order.
func BuildPlan(in Input) Plan {
	var parts []string
	tags := map[string]bool{}
	hints := map[string]bool{}

	if in.Crop != "" {
		parts = append(parts, in.Crop)
		tags[strings.ToLower(in.Crop)] = true
	}
	if in.GrowthStage != "" {
		parts = append(parts, in.GrowthStage+" stage")
	}
	if in.Description != "" {
		parts = append(parts, in.Description)
	}
	if in.Location != "" {
		parts = append(parts, "in "+in.Location)
	}
	if in.InputType != "" {
		tags[strings.ToLower(in.InputType)] = true
	}

	desc := strings.ToLower(in.Description)
	for _, rule := range symptomRules {
		if strings.Contains(desc, rule.keyword) {
			tags[rule.tag] = true
			if rule.hint != "" {
				hints[rule.hint] = true
			}
		}
	}

	if len(in.LabValues) > 0 {
		tags["soil-analysis"] = true
		parts = append(parts, labQueryTerms(in.LabValues, tags, hints)...)
	}

	return Plan{
		Query:      strings.Join(parts, " "),
		TopicTags:  sortedKeys(tags),
		TitleHints: sortedKeys(hints),
	}
}

// labQueryTerms applies the lab-value rules, mutating tags and hints, and
// returns extra query terms. Keys are matched case-insensitively so "pH" and
// "ph" behave the same.
func labQueryTerms(lab map[string]float64, tags, hints map[string]bool) []string {
	values := make(map[string]float64, len(lab))
	for k, v := range lab {
		values[strings.ToLower(k)] = v
	}

	var terms []string
	if ph, ok := values["ph"]; ok {
		switch {
		case ph < phAcidic:
			tags["soil-acidity"] = true
			hints["soil amendment"] = true
			terms = append(terms, fmt.Sprintf("acidic soil pH %.1f", ph))
		case ph > phAlkaline:
			tags["soil-alkalinity"] = true
			hints["soil amendment"] = true
			terms = append(terms, fmt.Sprintf("alkaline soil pH %.1f", ph))
		}
	}
	if n, ok := values["nitrogen"]; ok && n < nitrogenLow {
		tags["nitrogen-deficiency"] = true
		hints["nitrogen management"] = true
		terms = append(terms, "low nitrogen")
	}
	if p, ok := values["phosphorus"]; ok && p < phosphorusLo {
		tags["phosphorus-deficiency"] = true
		hints["phosphorus management"] = true
		terms = append(terms, "low phosphorus")
	}
	if k, ok := values["potassium"]; ok && k < potassiumLow {
		tags["potassium-deficiency"] = true
		hints["potassium management"] = true
		terms = append(terms, "low potassium")
	}
	return terms
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
