package retrieval

import (
	"reflect"
	"strings"
	"testing"
)

func TestBuildPlanIsDeterministic(t *testing.T) {
	in := Input{
		Description: "Yellowing leaves with brown spots",
		Crop:        "Tomato",
		Location:    "Nakuru",
		GrowthStage: "flowering",
		InputType:   "text",
		LabValues:   map[string]float64{"pH": 5.1, "nitrogen": 12},
	}

	first := BuildPlan(in)
	for i := 0; i < 5; i++ {
		if got := BuildPlan(in); !reflect.DeepEqual(got, first) {
			t.Fatalf("BuildPlan() not deterministic: run %d = %+v, first = %+v", i, got, first)
		}
	}
}

func TestBuildPlanLowPH(t *testing.T) {
	plan := BuildPlan(Input{
		Crop:      "maize",
		LabValues: map[string]float64{"ph": 4.9},
	})

	if !hasString(plan.TopicTags, "soil-acidity") {
		t.Errorf("TopicTags = %v, want soil-acidity", plan.TopicTags)
	}
	if !hasString(plan.TitleHints, "soil amendment") {
		t.Errorf("TitleHints = %v, want soil amendment", plan.TitleHints)
	}
	if !strings.Contains(plan.Query, "acidic soil pH 4.9") {
		t.Errorf("Query = %q, want acidic soil terms", plan.Query)
	}
}

func TestBuildPlanNeutralPHAddsNothing(t *testing.T) {
	plan := BuildPlan(Input{Crop: "maize", LabValues: map[string]float64{"ph": 6.5}})

	if hasString(plan.TopicTags, "soil-acidity") || hasString(plan.TopicTags, "soil-alkalinity") {
		t.Errorf("TopicTags = %v, want no pH tags for neutral soil", plan.TopicTags)
	}
	if !hasString(plan.TopicTags, "soil-analysis") {
		t.Errorf("TopicTags = %v, want soil-analysis when lab values present", plan.TopicTags)
	}
}

func TestBuildPlanSymptomRules(t *testing.T) {
	tests := []struct {
		description string
		wantTag     string
		wantHint    string
	}{
		{"yellowing between the veins", "chlorosis", ""},
		{"dark spots on the lower leaves", "leaf-spot", "disease management"},
		{"plants wilting at midday", "wilting", "water management"},
		{"purpling on the leaf undersides", "phosphorus-deficiency", "phosphorus management"},
	}
	for _, tt := range tests {
		t.Run(tt.wantTag, func(t *testing.T) {
			plan := BuildPlan(Input{Description: tt.description})
			if !hasString(plan.TopicTags, tt.wantTag) {
				t.Errorf("TopicTags = %v, want %q", plan.TopicTags, tt.wantTag)
			}
			if tt.wantHint != "" && !hasString(plan.TitleHints, tt.wantHint) {
				t.Errorf("TitleHints = %v, want %q", plan.TitleHints, tt.wantHint)
			}
		})
	}
}

func TestBuildPlanQueryComposition(t *testing.T) {
	plan := BuildPlan(Input{
		Description: "stunted seedlings",
		Crop:        "beans",
		Location:    "Eldoret",
		GrowthStage: "vegetative",
	})

	for _, part := range []string{"beans", "vegetative stage", "stunted seedlings", "in Eldoret"} {
		if !strings.Contains(plan.Query, part) {
			t.Errorf("Query = %q, missing %q", plan.Query, part)
		}
	}
	if !hasString(plan.TopicTags, "beans") {
		t.Errorf("TopicTags = %v, want crop tag", plan.TopicTags)
	}
}

func hasString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
