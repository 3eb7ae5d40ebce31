package eval

import (
	"path/filepath"
	"testing"
)

func TestLoadScenarios(t *testing.T) {
	scenarios, err := LoadScenarios(filepath.Join("testdata", "scenarios.json"))
	if err != nil {
		t.Fatalf("LoadScenarios() error = %v", err)
	}
	if len(scenarios) != 2 {
		t.Fatalf("len(scenarios) = %d, want 2", len(scenarios))
	}

	sc := scenarios[0]
	if sc.ID != "tomato-mg-nakuru" {
		t.Errorf("ID = %q", sc.ID)
	}
	if sc.LabValues["potassium"] != 310 {
		t.Errorf("LabValues = %v", sc.LabValues)
	}

	in := sc.Input()
	if in.ID != sc.ID || in.Crop != "tomato" || in.Location != "Nakuru" || in.InputType != "text" {
		t.Errorf("Input() = %+v", in)
	}
}

func TestLoadScenariosMissingFile(t *testing.T) {
	if _, err := LoadScenarios(filepath.Join("testdata", "nope.json")); err == nil {
		t.Fatal("LoadScenarios() error = nil for missing file")
	}
}
