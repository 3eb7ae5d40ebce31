package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leafcheck/leafcheck/internal/testutil"
)

func TestStore_UpsertAndGet_Integration(t *testing.T) {
	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(tdb.Pool, testutil.DiscardLogger())

	src, err := store.Upsert(ctx, Source{
		URL:            "https://extension.example.edu/tomato-blight",
		Title:          "Managing Tomato Blight",
		Type:           TypeUniversityExtension,
		Priority:       PriorityHigh,
		FreshnessHours: 168,
		Tags:           []string{"tomato", "blight"},
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if src.ID == "" {
		t.Fatal("Upsert() returned empty id")
	}
	if src.Status != StatusPending {
		t.Errorf("new source status = %q, want %q", src.Status, StatusPending)
	}

	got, err := store.Get(ctx, src.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != "Managing Tomato Blight" {
		t.Errorf("Get() title = %q", got.Title)
	}
	if got.LastScrapedAt != nil {
		t.Errorf("new source LastScrapedAt = %v, want nil", got.LastScrapedAt)
	}

	// Upserting the same URL updates in place, no duplicate row.
	again, err := store.Upsert(ctx, Source{
		URL:      "https://extension.example.edu/tomato-blight",
		Title:    "Managing Tomato Blight (rev 2)",
		Type:     TypeUniversityExtension,
		Priority: PriorityMedium,
	})
	if err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	if again.ID != src.ID {
		t.Errorf("upsert created new row: id %s != %s", again.ID, src.ID)
	}
	if again.Title != "Managing Tomato Blight (rev 2)" {
		t.Errorf("upsert did not update title: %q", again.Title)
	}
}

func TestStore_Get_NotFound_Integration(t *testing.T) {
	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := NewStore(tdb.Pool, testutil.DiscardLogger())
	_, err := store.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestStore_ClaimDue_Integration(t *testing.T) {
	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(tdb.Pool, testutil.DiscardLogger())
	now := time.Now().UTC()

	low, err := store.Upsert(ctx, Source{
		URL:      "https://example.org/low",
		Title:    "Low Priority",
		Type:     TypeOther,
		Priority: PriorityLow,
	})
	if err != nil {
		t.Fatalf("Upsert(low) error = %v", err)
	}
	high, err := store.Upsert(ctx, Source{
		URL:      "https://example.org/high",
		Title:    "High Priority",
		Type:     TypeGovernment,
		Priority: PriorityHigh,
	})
	if err != nil {
		t.Fatalf("Upsert(high) error = %v", err)
	}

	// A source scraped inside its freshness window is not due.
	fresh, err := store.Upsert(ctx, Source{
		URL:            "https://example.org/fresh",
		Title:          "Fresh",
		Type:           TypeOther,
		Priority:       PriorityHigh,
		FreshnessHours: 168,
	})
	if err != nil {
		t.Fatalf("Upsert(fresh) error = %v", err)
	}
	if err := store.Complete(ctx, fresh.ID, 3, now.Add(-time.Hour)); err != nil {
		t.Fatalf("Complete(fresh) error = %v", err)
	}

	claimed, err := store.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("ClaimDue() error = %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("ClaimDue() returned %d sources, want 2", len(claimed))
	}
	if claimed[0].ID != high.ID {
		t.Errorf("claimed[0] = %s, want high-priority source %s", claimed[0].ID, high.ID)
	}
	if claimed[1].ID != low.ID {
		t.Errorf("claimed[1] = %s, want low-priority source %s", claimed[1].ID, low.ID)
	}
	for _, c := range claimed {
		if c.Status != StatusRunning {
			t.Errorf("claimed source %s status = %q, want running", c.ID, c.Status)
		}
	}

	// A second claim finds nothing: the batch is already running.
	second, err := store.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("second ClaimDue() error = %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second ClaimDue() returned %d sources, want 0", len(second))
	}
}

func TestStore_CompleteAndFail_Integration(t *testing.T) {
	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(tdb.Pool, testutil.DiscardLogger())
	now := time.Now().UTC().Truncate(time.Second)

	src, err := store.Upsert(ctx, Source{
		URL:      "https://example.org/doc",
		Title:    "Doc",
		Type:     TypeResearchPaper,
		Priority: PriorityMedium,
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := store.Complete(ctx, src.ID, 12, now); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	got, err := store.Get(ctx, src.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusCompleted || got.ChunksCount != 12 {
		t.Errorf("after Complete: status=%q chunks=%d, want completed/12", got.Status, got.ChunksCount)
	}
	if got.LastScrapedAt == nil || !got.LastScrapedAt.Equal(now) {
		t.Errorf("after Complete: LastScrapedAt = %v, want %v", got.LastScrapedAt, now)
	}

	if err := store.Fail(ctx, src.ID, "fetch timed out", now.Add(time.Hour)); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	got, err = store.Get(ctx, src.ID)
	if err != nil {
		t.Fatalf("Get() after Fail error = %v", err)
	}
	if got.Status != StatusError {
		t.Errorf("after Fail: status = %q, want error", got.Status)
	}
	if got.ErrorMessage != "fetch timed out" {
		t.Errorf("after Fail: error message = %q", got.ErrorMessage)
	}
	// Failure never rolls back previously stored chunks.
	if got.ChunksCount != 12 {
		t.Errorf("after Fail: chunks = %d, want 12", got.ChunksCount)
	}
}

func TestStore_FindByTitle_Integration(t *testing.T) {
	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(tdb.Pool, testutil.DiscardLogger())

	for _, title := range []string{
		"Nitrogen Management in Maize",
		"Maize Streak Virus Factsheet",
		"Irrigation Scheduling for Tomato",
	} {
		if _, err := store.Upsert(ctx, Source{
			URL:      "https://example.org/" + title,
			Title:    title,
			Type:     TypeOther,
			Priority: PriorityMedium,
		}); err != nil {
			t.Fatalf("Upsert(%q) error = %v", title, err)
		}
	}

	got, err := store.FindByTitle(ctx, "maize", 10)
	if err != nil {
		t.Fatalf("FindByTitle() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("FindByTitle(maize) returned %d sources, want 2", len(got))
	}

	none, err := store.FindByTitle(ctx, "sorghum", 10)
	if err != nil {
		t.Fatalf("FindByTitle(sorghum) error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("FindByTitle(sorghum) returned %d sources, want 0", len(none))
	}
}
