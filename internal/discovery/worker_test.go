package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leafcheck/leafcheck/internal/log"
	"github.com/leafcheck/leafcheck/internal/source"
)

// fakeCellStore is an in-memory CellStore for worker tests.
type fakeCellStore struct {
	mu    sync.Mutex
	cells map[[2]string]*Cell
}

func newFakeCellStore() *fakeCellStore {
	return &fakeCellStore{cells: make(map[[2]string]*Cell)}
}

func (f *fakeCellStore) Seed(_ context.Context, topics, regions []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inserted := 0
	for _, t := range topics {
		for _, r := range regions {
			key := [2]string{t, r}
			if _, ok := f.cells[key]; !ok {
				f.cells[key] = &Cell{Topic: t, Region: r, Status: CellPending}
				inserted++
			}
		}
	}
	return inserted, nil
}

func (f *fakeCellStore) ResetStale(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reset := 0
	for _, c := range f.cells {
		if c.Status == CellCompleted && c.LastDiscoveredAt != nil &&
			c.LastDiscoveredAt.Before(now.Add(-RediscoveryInterval)) {
			c.Status = CellPending
			reset++
		}
	}
	return reset, nil
}

func (f *fakeCellStore) Claim(_ context.Context, limit int) ([]Cell, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var claimed []Cell
	for _, c := range f.cells {
		if len(claimed) >= limit {
			break
		}
		if c.Status == CellPending || c.Status == CellError {
			c.Status = CellRunning
			claimed = append(claimed, *c)
		}
	}
	return claimed, nil
}

func (f *fakeCellStore) Complete(_ context.Context, topic, region string, found int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.cells[[2]string{topic, region}]
	c.Status = CellCompleted
	c.SourcesFound = found
	c.LastDiscoveredAt = &at
	return nil
}

func (f *fakeCellStore) Fail(_ context.Context, topic, region, msg string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.cells[[2]string{topic, region}]
	c.Status = CellError
	c.ErrorMessage = msg
	c.LastDiscoveredAt = &at
	return nil
}

// fakeRegistrar records upserted sources.
type fakeRegistrar struct {
	mu      sync.Mutex
	sources []source.Source
	err     error
}

func (f *fakeRegistrar) Upsert(_ context.Context, src source.Source) (source.Source, error) {
	if f.err != nil {
		return source.Source{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	src.ID = src.URL
	f.sources = append(f.sources, src)
	return src, nil
}

// fakeGrounder returns fixed candidates, or an error for specific prompts.
type fakeGrounder struct {
	candidates []Candidate
	failFor    string
}

func (f *fakeGrounder) Search(_ context.Context, prompt string) ([]Candidate, error) {
	if f.failFor != "" && strings.Contains(prompt, f.failFor) {
		return nil, errors.New("grounding unavailable")
	}
	return f.candidates, nil
}

func TestSeed_Idempotent(t *testing.T) {
	ctx := context.Background()
	cells := newFakeCellStore()

	topics := []string{"nitrogen deficiency", "leaf blight"}
	regions := []string{"midwest", "pacific-northwest"}

	first, err := cells.Seed(ctx, topics, regions)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if first != 4 {
		t.Errorf("first seed inserted %d, want 4", first)
	}

	second, err := cells.Seed(ctx, topics, regions)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if second != 0 {
		t.Errorf("second seed inserted %d, want 0", second)
	}
	if len(cells.cells) != 4 {
		t.Errorf("cell count = %d, want 4 (no duplicates)", len(cells.cells))
	}
}

func TestWorker_Run_RegistersFilteredSources(t *testing.T) {
	ctx := context.Background()
	cells := newFakeCellStore()
	reg := &fakeRegistrar{}
	grounder := &fakeGrounder{candidates: []Candidate{
		{URL: "https://extension.umn.edu/corn/nitrogen", Title: "Corn nitrogen guide"},
		{URL: "https://www.usda.gov/topics/soil", Title: "Soil health"},
		{URL: "https://vertexaisearch.cloud.google.com/redirect?x=1", Title: "redirect"},
		{URL: "https://extension.umn.edu/corn/nitrogen", Title: "duplicate"},
		{URL: "not a url", Title: "garbage"},
	}}

	w := NewWorker(cells, reg, grounder, []string{"nitrogen"}, []string{"midwest"}, 10, log.NewNop())
	stats, err := w.Run(ctx, time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.Completed != 1 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want 1 completed, 0 failed", stats)
	}
	if len(reg.sources) != 2 {
		t.Fatalf("registered %d sources, want 2 (dedupe + redirect + garbage filtered)", len(reg.sources))
	}
	if reg.sources[0].Type != source.TypeUniversityExtension {
		t.Errorf("first source type = %s, want university-extension", reg.sources[0].Type)
	}
	if reg.sources[1].Type != source.TypeGovernment {
		t.Errorf("second source type = %s, want government", reg.sources[1].Type)
	}
}

func TestWorker_Run_PerCellFailureIsolated(t *testing.T) {
	ctx := context.Background()
	cells := newFakeCellStore()
	reg := &fakeRegistrar{}
	grounder := &fakeGrounder{
		candidates: []Candidate{{URL: "https://www.ars.usda.gov/research", Title: "research"}},
		failFor:    "leaf blight",
	}

	w := NewWorker(cells, reg, grounder,
		[]string{"nitrogen", "leaf blight"}, []string{"midwest"}, 10, log.NewNop())
	stats, err := w.Run(ctx, time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.Completed != 1 {
		t.Errorf("completed = %d, want 1", stats.Completed)
	}
	if stats.Failed != 1 {
		t.Errorf("failed = %d, want 1", stats.Failed)
	}

	failed := cells.cells[[2]string{"leaf blight", "midwest"}]
	if failed.Status != CellError || failed.ErrorMessage == "" {
		t.Errorf("failing cell not recorded: %+v", failed)
	}
}

func TestWorker_Run_CapsSourcesPerCell(t *testing.T) {
	ctx := context.Background()
	cells := newFakeCellStore()
	reg := &fakeRegistrar{}

	var many []Candidate
	for i := 0; i < 20; i++ {
		many = append(many, Candidate{
			URL:   "https://extension.edu/guide/" + string(rune('a'+i)),
			Title: "guide",
		})
	}
	grounder := &fakeGrounder{candidates: many}

	w := NewWorker(cells, reg, grounder, []string{"t"}, []string{"r"}, 10, log.NewNop())
	if _, err := w.Run(ctx, time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(reg.sources) != MaxSourcesPerCell {
		t.Errorf("registered %d sources, want cap %d", len(reg.sources), MaxSourcesPerCell)
	}
}

func TestInferSourceType(t *testing.T) {
	tests := []struct {
		url, title string
		want       source.Type
	}{
		{"https://www.usda.gov/x", "", source.TypeGovernment},
		{"https://agriculture.gov.au/x", "", source.TypeGovernment},
		{"https://extension.umn.edu/x", "", source.TypeUniversityExtension},
		{"https://example.org/x", "County Extension bulletin", source.TypeUniversityExtension},
		{"https://journals.example.org/x", "Field trial results", source.TypeResearchPaper},
	}
	for _, tt := range tests {
		if got := InferSourceType(tt.url, tt.title); got != tt.want {
			t.Errorf("InferSourceType(%q, %q) = %s, want %s", tt.url, tt.title, got, tt.want)
		}
	}
}
