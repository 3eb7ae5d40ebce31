package chunk

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leafcheck/leafcheck/internal/testutil"
)

// unitVec returns a unit vector of the given dimensionality with a 1 at
// axis. Unit basis vectors give exact cosine similarities: identical axes
// are 1.0, distinct axes are 0.5 under the [0,1] mapping.
func unitVec(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func insertTestSource(t *testing.T, pool *pgxpool.Pool, title string) string {
	t.Helper()
	var id string
	err := pool.QueryRow(context.Background(), `
		INSERT INTO sources (url, title, source_type, priority)
		VALUES ($1, $2, 'university-extension', 'medium')
		RETURNING id`,
		"https://example.org/"+title, title).Scan(&id)
	if err != nil {
		t.Fatalf("inserting test source: %v", err)
	}
	return id
}

func TestStore_UpsertAndCount_Integration(t *testing.T) {
	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(tdb.Pool, testutil.DiscardLogger())
	sourceID := insertTestSource(t, tdb.Pool, "Leaf Spot Guide")

	chunks := []Chunk{
		{SourceID: sourceID, Kind: KindText, Index: 0, Content: "Leaf spot overview.", Embedding: unitVec(TextDim, 0)},
		{SourceID: sourceID, Kind: KindText, Index: 1, Content: "Treatment options.", Embedding: unitVec(TextDim, 1)},
		{SourceID: sourceID, Kind: KindImage, Index: 0, Content: "Necrotic lesions on tomato leaf", ImageURL: "https://example.org/lesion.jpg", Embedding: unitVec(ImageDim, 0)},
	}
	for _, c := range chunks {
		if err := store.Upsert(ctx, c); err != nil {
			t.Fatalf("Upsert(%s/%d) error = %v", c.Kind, c.Index, err)
		}
	}

	n, err := store.CountBySource(ctx, sourceID)
	if err != nil {
		t.Fatalf("CountBySource() error = %v", err)
	}
	if n != 3 {
		t.Errorf("CountBySource() = %d, want 3", n)
	}

	// Re-upserting the same (source, index) replaces, not duplicates.
	if err := store.Upsert(ctx, Chunk{
		SourceID: sourceID, Kind: KindText, Index: 0,
		Content: "Leaf spot overview, revised.", Embedding: unitVec(TextDim, 0),
	}); err != nil {
		t.Fatalf("re-Upsert error = %v", err)
	}
	n, err = store.CountBySource(ctx, sourceID)
	if err != nil {
		t.Fatalf("CountBySource() after re-upsert error = %v", err)
	}
	if n != 3 {
		t.Errorf("CountBySource() after re-upsert = %d, want 3", n)
	}
}

func TestStore_DeleteFrom_Integration(t *testing.T) {
	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(tdb.Pool, testutil.DiscardLogger())
	sourceID := insertTestSource(t, tdb.Pool, "Shrinking Guide")
	otherID := insertTestSource(t, tdb.Pool, "Unrelated Guide")

	for i := 0; i < 5; i++ {
		if err := store.Upsert(ctx, Chunk{
			SourceID: sourceID, Kind: KindText, Index: i, Content: "section",
		}); err != nil {
			t.Fatalf("Upsert(%d) error = %v", i, err)
		}
	}
	if err := store.Upsert(ctx, Chunk{
		SourceID: sourceID, Kind: KindImage, Index: 0, Content: "caption",
	}); err != nil {
		t.Fatalf("Upsert(image) error = %v", err)
	}
	if err := store.Upsert(ctx, Chunk{
		SourceID: otherID, Kind: KindText, Index: 4, Content: "keep me",
	}); err != nil {
		t.Fatalf("Upsert(other) error = %v", err)
	}

	deleted, err := store.DeleteFrom(ctx, KindText, sourceID, 2)
	if err != nil {
		t.Fatalf("DeleteFrom() error = %v", err)
	}
	if deleted != 3 {
		t.Errorf("DeleteFrom() = %d, want 3", deleted)
	}

	// Only text chunks at indexes 0 and 1 plus the image chunk remain.
	n, err := store.CountBySource(ctx, sourceID)
	if err != nil {
		t.Fatalf("CountBySource() error = %v", err)
	}
	if n != 3 {
		t.Errorf("CountBySource() = %d, want 3", n)
	}

	// Other sources and re-deletes are untouched.
	if n, _ := store.CountBySource(ctx, otherID); n != 1 {
		t.Errorf("other source chunks = %d, want 1", n)
	}
	deleted, err = store.DeleteFrom(ctx, KindText, sourceID, 2)
	if err != nil {
		t.Fatalf("second DeleteFrom() error = %v", err)
	}
	if deleted != 0 {
		t.Errorf("second DeleteFrom() = %d, want 0", deleted)
	}
}

func TestStore_Upsert_DimensionMismatch_Integration(t *testing.T) {
	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := NewStore(tdb.Pool, testutil.DiscardLogger())
	sourceID := insertTestSource(t, tdb.Pool, "Mismatch")

	err := store.Upsert(context.Background(), Chunk{
		SourceID: sourceID, Kind: KindText, Index: 0,
		Content: "bad", Embedding: unitVec(ImageDim, 0),
	})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("Upsert() error = %v, want ErrDimensionMismatch", err)
	}
}

func TestStore_SearchSimilar_Integration(t *testing.T) {
	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(tdb.Pool, testutil.DiscardLogger())
	sourceID := insertTestSource(t, tdb.Pool, "Soil Acidity Handbook")

	// Chunk 0 matches the query exactly, chunk 1 is orthogonal (similarity
	// 0.5), chunk 2 has no embedding and must stay invisible.
	for _, c := range []Chunk{
		{SourceID: sourceID, Kind: KindText, Index: 0, Content: "Lime application rates.", Embedding: unitVec(TextDim, 0)},
		{SourceID: sourceID, Kind: KindText, Index: 1, Content: "Composting basics.", Embedding: unitVec(TextDim, 5)},
		{SourceID: sourceID, Kind: KindText, Index: 2, Content: "Unembedded chunk."},
	} {
		if err := store.Upsert(ctx, c); err != nil {
			t.Fatalf("Upsert(%d) error = %v", c.Index, err)
		}
	}

	results, err := store.SearchSimilar(ctx, KindText, unitVec(TextDim, 0), 10, 0.9)
	if err != nil {
		t.Fatalf("SearchSimilar() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("SearchSimilar(threshold 0.9) returned %d results, want 1", len(results))
	}
	r := results[0]
	if r.Chunk.Content != "Lime application rates." {
		t.Errorf("top result content = %q", r.Chunk.Content)
	}
	if r.Similarity < 0.999 {
		t.Errorf("exact match similarity = %f, want ~1.0", r.Similarity)
	}
	if r.Source.Title != "Soil Acidity Handbook" {
		t.Errorf("result source title = %q", r.Source.Title)
	}

	// Lowering the threshold brings in the orthogonal chunk but never the
	// unembedded one.
	results, err = store.SearchSimilar(ctx, KindText, unitVec(TextDim, 0), 10, 0.4)
	if err != nil {
		t.Fatalf("SearchSimilar(0.4) error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("SearchSimilar(threshold 0.4) returned %d results, want 2", len(results))
	}
	if results[0].Similarity < results[1].Similarity {
		t.Error("results not ordered by descending similarity")
	}

	// Wrong-dimension queries fail before touching the database.
	if _, err := store.SearchSimilar(ctx, KindText, unitVec(ImageDim, 0), 10, 0.5); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("SearchSimilar(512-dim text query) error = %v, want ErrDimensionMismatch", err)
	}
}

func TestStore_SearchBySources_Integration(t *testing.T) {
	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(tdb.Pool, testutil.DiscardLogger())
	wanted := insertTestSource(t, tdb.Pool, "Required Source")
	other := insertTestSource(t, tdb.Pool, "Other Source")

	for _, c := range []Chunk{
		{SourceID: wanted, Kind: KindText, Index: 0, Content: "From the required source.", Embedding: unitVec(TextDim, 0)},
		{SourceID: other, Kind: KindText, Index: 0, Content: "From somewhere else.", Embedding: unitVec(TextDim, 0)},
	} {
		if err := store.Upsert(ctx, c); err != nil {
			t.Fatalf("Upsert error = %v", err)
		}
	}

	results, err := store.SearchBySources(ctx, KindText, unitVec(TextDim, 0), []string{wanted})
	if err != nil {
		t.Fatalf("SearchBySources() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("SearchBySources() returned %d results, want 1", len(results))
	}
	if results[0].Chunk.SourceID != wanted {
		t.Errorf("result source = %s, want %s", results[0].Chunk.SourceID, wanted)
	}
}

func TestStore_GetByIDs_Integration(t *testing.T) {
	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(tdb.Pool, testutil.DiscardLogger())
	sourceID := insertTestSource(t, tdb.Pool, "Lookup Source")

	if err := store.Upsert(ctx, Chunk{
		SourceID: sourceID, Kind: KindText, Index: 0,
		Content: "Lookup me.", Embedding: unitVec(TextDim, 0),
	}); err != nil {
		t.Fatalf("Upsert error = %v", err)
	}

	all, err := store.SearchBySources(ctx, KindText, unitVec(TextDim, 0), []string{sourceID})
	if err != nil || len(all) != 1 {
		t.Fatalf("seeding lookup: results=%d err=%v", len(all), err)
	}
	id := all[0].Chunk.ID

	got, err := store.GetByIDs(ctx, []string{id, "00000000-0000-0000-0000-000000000000"})
	if err != nil {
		t.Fatalf("GetByIDs() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("GetByIDs() returned %d chunks, want 1 (unknown ids skipped)", len(got))
	}
	if got[0].Content != "Lookup me." {
		t.Errorf("GetByIDs() content = %q", got[0].Content)
	}
}
