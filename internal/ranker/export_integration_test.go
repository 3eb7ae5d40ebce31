package ranker

import (
	"bytes"
	"context"
	"encoding/csv"
	"strconv"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leafcheck/leafcheck/internal/audit"
	"github.com/leafcheck/leafcheck/internal/feedback"
	"github.com/leafcheck/leafcheck/internal/retrieval"
	"github.com/leafcheck/leafcheck/internal/testutil"
)

func insertChunk(t *testing.T, pool *pgxpool.Pool, sourceID, content string, index int) string {
	t.Helper()
	var id string
	err := pool.QueryRow(context.Background(), `
		INSERT INTO text_chunks (source_id, chunk_index, content)
		VALUES ($1, $2, $3) RETURNING id`,
		sourceID, index, content).Scan(&id)
	if err != nil {
		t.Fatalf("inserting chunk: %v", err)
	}
	return id
}

func TestExporter_Export_Integration(t *testing.T) {
	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	pool := tdb.Pool

	var sourceID string
	err := pool.QueryRow(ctx, `
		INSERT INTO sources (url, title, source_type, chunks_count)
		VALUES ('https://agency.gov/maize', 'Maize Nutrition', 'government', 2)
		RETURNING id`).Scan(&sourceID)
	if err != nil {
		t.Fatalf("inserting source: %v", err)
	}

	cited := insertChunk(t, pool, sourceID, "Zinc deficiency in maize shows white bands", 0)
	uncited := insertChunk(t, pool, sourceID, "Irrigation scheduling basics", 1)

	if err := feedback.NewBoostStore(pool).Increase(ctx, sourceID, 0.1); err != nil {
		t.Fatalf("setting boost: %v", err)
	}

	auditStore := audit.NewStore(pool)
	entry := audit.Entry{
		InputID:          "in-1",
		RecommendationID: "rec-1",
		Plan:             retrieval.Plan{Query: "maize zinc deficiency", TopicTags: []string{"maize"}},
		Candidates: []audit.Candidate{
			{ChunkID: cited, SourceID: sourceID, Kind: "text", Similarity: 0.9},
			{ChunkID: uncited, SourceID: sourceID, Kind: "text", Similarity: 0.6},
		},
		AssembledChunkIDs: []string{cited, uncited},
		UsedChunkIDs:      []string{cited},
	}
	if err := auditStore.Insert(ctx, entry); err != nil {
		t.Fatalf("inserting audit: %v", err)
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO evaluations
		  (recommendation_id, accuracy, helpfulness, faithfulness,
		   actionability, completeness, retrieval_relevance, overall)
		VALUES ('rec-1', 5, 4, 5, 4, 4, 5, 5)`)
	if err != nil {
		t.Fatalf("inserting evaluation: %v", err)
	}

	var buf bytes.Buffer
	stats, err := NewExporter(pool, testutil.DiscardLogger()).Export(ctx, &buf)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if stats.Audits != 1 || stats.Rows != 2 {
		t.Errorf("stats = %+v, want 1 audit with 2 rows", stats)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parsing csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("csv records = %d, want header plus 2 rows", len(records))
	}
	if got := records[0][0]; got != "qid" {
		t.Errorf("header[0] = %q, want qid", got)
	}
	if len(records[0]) != len(featureColumns) {
		t.Errorf("header columns = %d, want %d", len(records[0]), len(featureColumns))
	}

	// Rows are ordered by similarity: the cited chunk comes first and the
	// positive evaluation grades it 2.
	if label := records[1][1]; label != strconv.Itoa(LabelPositive) {
		t.Errorf("cited chunk label = %s, want %d", label, LabelPositive)
	}
	if label := records[2][1]; label != strconv.Itoa(LabelNotCited) {
		t.Errorf("uncited chunk label = %s, want %d", label, LabelNotCited)
	}

	sim, err := strconv.ParseFloat(records[1][2], 64)
	if err != nil || sim != 0.9 {
		t.Errorf("f0_similarity = %s, want 0.9", records[1][2])
	}
	boost, err := strconv.ParseFloat(records[1][5], 64)
	if err != nil || boost != 0.1 {
		t.Errorf("f3_source_boost = %s, want 0.1", records[1][5])
	}
	authority, err := strconv.ParseFloat(records[1][4], 64)
	if err != nil || authority != 1.0 {
		t.Errorf("f2_authority = %s, want 1.0", records[1][4])
	}
}
