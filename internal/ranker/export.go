// Package ranker exports retrieval feedback as training data for the
// offline LambdaRank reranker. Each retrieval audit becomes one query
// group; every candidate chunk becomes one labeled feature row.
package ranker

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leafcheck/leafcheck/internal/audit"
	"github.com/leafcheck/leafcheck/internal/retrieval"
	"github.com/leafcheck/leafcheck/internal/source"
)

// positiveOverall is the evaluation overall score at which a citation
// counts as positive feedback rather than merely relevant.
const positiveOverall = 4

// Labels for the ordinal relevance grades.
const (
	LabelNotCited = 0
	LabelCited    = 1
	LabelPositive = 2
)

// featureColumns is the CSV header. Column order is a contract with the
// training script and the serving reranker; never reorder.
var featureColumns = []string{
	"qid",
	"label",
	"f0_similarity",
	"f1_rank_score",
	"f2_authority",
	"f3_source_boost",
	"f4_crop_match",
	"f5_term_density",
	"f6_chunk_pos",
}

// Row is one labeled candidate within a query group.
type Row struct {
	QID         string
	Label       int
	Similarity  float64
	RankScore   float64
	Authority   float64
	SourceBoost float64
	CropMatch   float64
	TermDensity float64
	ChunkPos    float64
}

// Stats summarizes one export run.
type Stats struct {
	Audits int
	Rows   int
}

// Exporter reads audits, evaluations, chunks, and boosts and assembles
// feature rows.
type Exporter struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewExporter creates an exporter backed by the given pool.
func NewExporter(pool *pgxpool.Pool, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{pool: pool, logger: logger}
}

// ChunkInfo is the per-chunk context needed for feature computation.
type ChunkInfo struct {
	Content  string
	Index    int
	SourceID string
}

// SourceInfo is the per-source context needed for feature computation.
type SourceInfo struct {
	Type        source.Type
	Boost       float64
	ChunksCount int
}

type auditRecord struct {
	ID               string
	RecommendationID string
	Plan             retrieval.Plan
	Candidates       []audit.Candidate
	Used             []string
}

// Export writes the full training CSV to w. Header first, then one row per
// candidate, grouped by audit.
func (e *Exporter) Export(ctx context.Context, w io.Writer) (Stats, error) {
	var stats Stats

	audits, err := e.loadAudits(ctx)
	if err != nil {
		return stats, err
	}
	if len(audits) == 0 {
		return stats, nil
	}

	overall, err := e.loadOverallScores(ctx)
	if err != nil {
		return stats, err
	}
	sources, err := e.loadSources(ctx)
	if err != nil {
		return stats, err
	}
	chunks, err := e.loadChunks(ctx, audits)
	if err != nil {
		return stats, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(featureColumns); err != nil {
		return stats, fmt.Errorf("writing header: %w", err)
	}

	for _, a := range audits {
		rows := BuildRows(a.ID, a.Plan, a.Candidates, a.Used,
			overall[a.RecommendationID], sources, chunks)
		if len(rows) == 0 {
			continue
		}
		for _, r := range rows {
			if err := cw.Write(r.record()); err != nil {
				return stats, fmt.Errorf("writing row: %w", err)
			}
		}
		stats.Audits++
		stats.Rows += len(rows)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return stats, fmt.Errorf("flushing csv: %w", err)
	}

	e.logger.Info("training data exported", "audits", stats.Audits, "rows", stats.Rows)
	return stats, nil
}

func (r Row) record() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	return []string{
		r.QID,
		strconv.Itoa(r.Label),
		f(r.Similarity),
		f(r.RankScore),
		f(r.Authority),
		f(r.SourceBoost),
		f(r.CropMatch),
		f(r.TermDensity),
		f(r.ChunkPos),
	}
}

// BuildRows computes one labeled row per candidate. overallScore is the
// best evaluation overall for the audit's recommendation, or 0 when it was
// never evaluated. Candidates whose chunk no longer exists are skipped.
func BuildRows(qid string, plan retrieval.Plan, candidates []audit.Candidate,
	used []string, overallScore int, sources map[string]SourceInfo,
	chunks map[string]ChunkInfo) []Row {

	ranked := make([]audit.Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Similarity > ranked[j].Similarity
	})

	cited := make(map[string]bool, len(used))
	for _, id := range used {
		cited[id] = true
	}

	rows := make([]Row, 0, len(ranked))
	for rank, c := range ranked {
		info, ok := chunks[c.ChunkID]
		if !ok {
			continue
		}
		src := sources[c.SourceID]

		label := LabelNotCited
		if cited[c.ChunkID] {
			label = LabelCited
			if overallScore >= positiveOverall {
				label = LabelPositive
			}
		}

		rows = append(rows, Row{
			QID:         qid,
			Label:       label,
			Similarity:  c.Similarity,
			RankScore:   1.0 / float64(rank+1),
			Authority:   authorityWeight(src.Type),
			SourceBoost: src.Boost,
			CropMatch:   cropMatch(plan.TopicTags, info.Content),
			TermDensity: termDensity(plan.Query, info.Content),
			ChunkPos:    chunkPosition(info.Index, src.ChunksCount),
		})
	}
	return rows
}

// authorityWeight maps the source type taxonomy onto a fixed [0,1] scale.
func authorityWeight(t source.Type) float64 {
	switch t {
	case source.TypeGovernment:
		return 1.0
	case source.TypeUniversityExtension:
		return 0.8
	case source.TypeResearchPaper:
		return 0.6
	default:
		return 0.3
	}
}

// cropMatch is 1 when any planned topic tag occurs in the chunk content.
func cropMatch(tags []string, content string) float64 {
	lowered := strings.ToLower(content)
	for _, tag := range tags {
		if tag != "" && strings.Contains(lowered, strings.ToLower(tag)) {
			return 1
		}
	}
	return 0
}

// termDensity is the fraction of unique query terms present in the content.
func termDensity(query, content string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		seen[t] = true
	}
	lowered := strings.ToLower(content)
	matched := 0
	for t := range seen {
		if strings.Contains(lowered, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(seen))
}

// chunkPosition normalizes the chunk's index by its source's chunk count.
// Early chunks of a document score near 0, trailing chunks near 1.
func chunkPosition(index, total int) float64 {
	if total <= 1 {
		return 0
	}
	return float64(index) / float64(total-1)
}

func (e *Exporter) loadAudits(ctx context.Context) ([]auditRecord, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT id, recommendation_id, plan, candidate_chunks, used_chunk_ids
		FROM retrieval_audits
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("loading audits: %w", err)
	}
	defer rows.Close()

	var out []auditRecord
	for rows.Next() {
		var a auditRecord
		var planJSON, candidatesJSON []byte
		if err := rows.Scan(&a.ID, &a.RecommendationID, &planJSON, &candidatesJSON, &a.Used); err != nil {
			return nil, fmt.Errorf("scanning audit: %w", err)
		}
		if err := json.Unmarshal(planJSON, &a.Plan); err != nil {
			return nil, fmt.Errorf("decoding plan of audit %s: %w", a.ID, err)
		}
		if err := json.Unmarshal(candidatesJSON, &a.Candidates); err != nil {
			return nil, fmt.Errorf("decoding candidates of audit %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// loadOverallScores returns the best overall evaluation per recommendation.
func (e *Exporter) loadOverallScores(ctx context.Context) (map[string]int, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT recommendation_id, MAX(overall)
		FROM evaluations
		GROUP BY recommendation_id`)
	if err != nil {
		return nil, fmt.Errorf("loading evaluation scores: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var overall int
		if err := rows.Scan(&id, &overall); err != nil {
			return nil, fmt.Errorf("scanning evaluation score: %w", err)
		}
		out[id] = overall
	}
	return out, rows.Err()
}

func (e *Exporter) loadSources(ctx context.Context) (map[string]SourceInfo, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT s.id, s.source_type, s.chunks_count, COALESCE(b.boost, 0)
		FROM sources s
		LEFT JOIN source_boosts b ON b.source_id = s.id`)
	if err != nil {
		return nil, fmt.Errorf("loading sources: %w", err)
	}
	defer rows.Close()

	out := make(map[string]SourceInfo)
	for rows.Next() {
		var id, srcType string
		var info SourceInfo
		if err := rows.Scan(&id, &srcType, &info.ChunksCount, &info.Boost); err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		info.Type = source.Type(srcType)
		out[id] = info
	}
	return out, rows.Err()
}

// loadChunks fetches content and index for every candidate chunk id across
// both chunk variants.
func (e *Exporter) loadChunks(ctx context.Context, audits []auditRecord) (map[string]ChunkInfo, error) {
	idSet := make(map[string]bool)
	for _, a := range audits {
		for _, c := range a.Candidates {
			idSet[c.ChunkID] = true
		}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return map[string]ChunkInfo{}, nil
	}

	rows, err := e.pool.Query(ctx, `
		SELECT id::text, source_id::text, chunk_index, content FROM text_chunks WHERE id = ANY($1)
		UNION ALL
		SELECT id::text, source_id::text, chunk_index, caption FROM image_chunks WHERE id = ANY($1)`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("loading candidate chunks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]ChunkInfo, len(ids))
	for rows.Next() {
		var id string
		var info ChunkInfo
		if err := rows.Scan(&id, &info.SourceID, &info.Index, &info.Content); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		out[id] = info
	}
	return out, rows.Err()
}
