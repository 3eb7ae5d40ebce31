package eval

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/leafcheck/leafcheck/internal/retrieval"
)

// Scenario is one test fixture: an input with its expected diagnosis and
// phrase lists.
type Scenario struct {
	ID                    string             `json:"id"`
	Crop                  string             `json:"crop"`
	Region                string             `json:"region"`
	GrowthStage           string             `json:"growthStage"`
	Description           string             `json:"description"`
	LabValues             map[string]float64 `json:"labValues,omitempty"`
	ExpectedDiagnosis     string             `json:"expectedDiagnosis"`
	ExpectedConditionType string             `json:"expectedConditionType"`
	MustInclude           []string           `json:"mustInclude"`
	ShouldAvoid           []string           `json:"shouldAvoid"`
}

// Input converts the scenario into a pipeline input.
func (s Scenario) Input() retrieval.Input {
	return retrieval.Input{
		ID:          s.ID,
		Description: s.Description,
		Crop:        s.Crop,
		Location:    s.Region,
		GrowthStage: s.GrowthStage,
		InputType:   "text",
		LabValues:   s.LabValues,
	}
}

// LoadScenarios reads scenario fixtures from a JSON file.
func LoadScenarios(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenarios from %q: %w", path, err)
	}
	var scenarios []Scenario
	if err := json.Unmarshal(data, &scenarios); err != nil {
		return nil, fmt.Errorf("parsing scenarios from %q: %w", path, err)
	}
	for i, s := range scenarios {
		if s.ID == "" {
			return nil, fmt.Errorf("scenario %d in %q has no id", i, path)
		}
	}
	return scenarios, nil
}
