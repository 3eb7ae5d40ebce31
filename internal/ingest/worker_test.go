package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/leafcheck/leafcheck/internal/chunk"
	"github.com/leafcheck/leafcheck/internal/source"
)

type fakeClaimer struct {
	due       []source.Source
	completed map[string]int
	failed    map[string]string
}

func newFakeClaimer(due ...source.Source) *fakeClaimer {
	return &fakeClaimer{
		due:       due,
		completed: make(map[string]int),
		failed:    make(map[string]string),
	}
}

func (f *fakeClaimer) ClaimDue(ctx context.Context, now time.Time, limit int) ([]source.Source, error) {
	if limit < len(f.due) {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeClaimer) Complete(ctx context.Context, id string, chunksCount int, at time.Time) error {
	f.completed[id] = chunksCount
	return nil
}

func (f *fakeClaimer) Fail(ctx context.Context, id, message string, at time.Time) error {
	f.failed[id] = message
	return nil
}

type fakeChunkStore struct {
	mu     sync.Mutex
	chunks map[string]chunk.Chunk // keyed source:kind:index
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{chunks: make(map[string]chunk.Chunk)}
}

func (f *fakeChunkStore) Upsert(ctx context.Context, c chunk.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks[fmt.Sprintf("%s:%s:%d", c.SourceID, c.Kind, c.Index)] = c
	return nil
}

func (f *fakeChunkStore) DeleteFrom(ctx context.Context, kind chunk.Kind, sourceID string, fromIndex int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for key, c := range f.chunks {
		if c.SourceID == sourceID && c.Kind == kind && c.Index >= fromIndex {
			delete(f.chunks, key)
			n++
		}
	}
	return n, nil
}

func (f *fakeChunkStore) CountBySource(ctx context.Context, sourceID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, c := range f.chunks {
		if c.SourceID == sourceID {
			n++
		}
	}
	return n, nil
}

func (f *fakeChunkStore) bySource(sourceID string) []chunk.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chunk.Chunk
	for _, c := range f.chunks {
		if c.SourceID == sourceID {
			out = append(out, c)
		}
	}
	return out
}

type fakeFetcher struct {
	docs map[string]Document
	errs map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (Document, error) {
	if err, ok := f.errs[url]; ok {
		return Document{}, err
	}
	doc, ok := f.docs[url]
	if !ok {
		return Document{}, fmt.Errorf("no stub for %q", url)
	}
	return doc, nil
}

type fakeEmbedder struct {
	mu        sync.Mutex
	batchErr  error
	imageErr  error
	imageCall int
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, chunk.TextDim), nil
}

func (f *fakeEmbedder) EmbedTextBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, chunk.TextDim)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedImage(ctx context.Context, caption string) ([]float32, error) {
	f.mu.Lock()
	f.imageCall++
	f.mu.Unlock()
	if f.imageErr != nil {
		return nil, f.imageErr
	}
	return make([]float32, chunk.ImageDim), nil
}

const workerPage = `<html><head><title>Leaf Guide</title></head><body>
<h2>Symptoms</h2>
<p>Interveinal chlorosis on older leaves that progresses toward the midrib,
with necrotic margins appearing in severe cases on sandy, leached soils.</p>
<img src="/fig1.jpg" alt="Chlorotic tomato leaf against a white background">
<h2>Management</h2>
<p>Apply magnesium sulfate at label rates after confirming with tissue
analysis, and avoid heavy potassium applications during the same window.</p>
</body></html>`

func newTestWorker(claimer SourceClaimer, chunks ChunkWriter, fetcher DocumentFetcher,
	pdf PDFParser, emb *fakeEmbedder) *Worker {
	return NewWorker(claimer, chunks, fetcher, pdf, emb, Config{}, nil)
}

func TestWorkerIngestsHTMLSource(t *testing.T) {
	src := source.Source{ID: "s1", URL: "https://extension.edu/guide"}
	claimer := newFakeClaimer(src)
	chunks := newFakeChunkStore()
	fetcher := &fakeFetcher{docs: map[string]Document{
		src.URL: {URL: src.URL, ContentType: "text/html", Body: []byte(workerPage)},
	}}

	w := newTestWorker(claimer, chunks, fetcher, &stubParser{}, &fakeEmbedder{})
	stats, err := w.Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Completed != 1 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want 1 completed", stats)
	}

	got := chunks.bySource("s1")
	var texts, images int
	for _, c := range got {
		switch c.Kind {
		case chunk.KindText:
			texts++
			if len(c.Embedding) != chunk.TextDim {
				t.Errorf("text chunk embedding dim = %d", len(c.Embedding))
			}
		case chunk.KindImage:
			images++
			if c.ImageURL != "https://extension.edu/fig1.jpg" {
				t.Errorf("image chunk URL = %q", c.ImageURL)
			}
		}
	}
	if texts != 2 {
		t.Errorf("text chunks = %d, want 2", texts)
	}
	if images != 1 {
		t.Errorf("image chunks = %d, want 1", images)
	}
	if claimer.completed["s1"] != len(got) {
		t.Errorf("Complete() count = %d, want %d", claimer.completed["s1"], len(got))
	}
}

func TestWorkerEmptyDocumentCompletesWithoutChunks(t *testing.T) {
	src := source.Source{ID: "s1", URL: "https://blocked.example.org/page"}
	claimer := newFakeClaimer(src)
	chunks := newFakeChunkStore()
	fetcher := &fakeFetcher{docs: map[string]Document{
		src.URL: {URL: src.URL, Empty: true},
	}}

	w := newTestWorker(claimer, chunks, fetcher, &stubParser{}, &fakeEmbedder{})
	stats, err := w.Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Empty != 1 {
		t.Errorf("stats.Empty = %d, want 1", stats.Empty)
	}
	if _, failed := claimer.failed["s1"]; failed {
		t.Error("empty document marked source failed")
	}
	if n, _ := chunks.CountBySource(context.Background(), "s1"); n != 0 {
		t.Errorf("chunks written = %d, want 0", n)
	}
}

func TestWorkerFetchErrorMarksSourceFailed(t *testing.T) {
	good := source.Source{ID: "ok", URL: "https://extension.edu/guide"}
	bad := source.Source{ID: "bad", URL: "https://down.example.org/page"}
	claimer := newFakeClaimer(bad, good)
	chunks := newFakeChunkStore()
	fetcher := &fakeFetcher{
		docs: map[string]Document{
			good.URL: {URL: good.URL, ContentType: "text/html", Body: []byte(workerPage)},
		},
		errs: map[string]error{bad.URL: errors.New("connection refused")},
	}

	w := newTestWorker(claimer, chunks, fetcher, &stubParser{}, &fakeEmbedder{})
	stats, err := w.Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Failed != 1 || stats.Completed != 1 {
		t.Errorf("stats = %+v, want 1 failed and 1 completed", stats)
	}
	if msg := claimer.failed["bad"]; msg == "" {
		t.Error("failed source has no recorded message")
	}
	if _, ok := claimer.completed["ok"]; !ok {
		t.Error("healthy source not completed after sibling failure")
	}
}

func TestWorkerEmbeddingFailureStoresChunksWithoutVectors(t *testing.T) {
	src := source.Source{ID: "s1", URL: "https://extension.edu/guide"}
	claimer := newFakeClaimer(src)
	chunks := newFakeChunkStore()
	fetcher := &fakeFetcher{docs: map[string]Document{
		src.URL: {URL: src.URL, ContentType: "text/html", Body: []byte(workerPage)},
	}}
	emb := &fakeEmbedder{batchErr: errors.New("quota exhausted"), imageErr: errors.New("quota exhausted")}

	w := newTestWorker(claimer, chunks, fetcher, &stubParser{}, emb)
	if _, err := w.Run(context.Background(), time.Now()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := chunks.bySource("s1")
	if len(got) == 0 {
		t.Fatal("no chunks stored despite embedding failure tolerance")
	}
	for _, c := range got {
		if c.Embedding != nil {
			t.Errorf("chunk %d has an embedding despite provider failure", c.Index)
		}
	}
	if _, failed := claimer.failed["s1"]; failed {
		t.Error("embedding failure marked the source failed")
	}
}

func TestWorkerReingestPrunesStaleChunks(t *testing.T) {
	src := source.Source{ID: "s1", URL: "https://extension.edu/guide"}
	claimer := newFakeClaimer(src)
	chunks := newFakeChunkStore()

	// Leftovers from a previous ingestion of a longer document.
	for i := 0; i < 6; i++ {
		_ = chunks.Upsert(context.Background(), chunk.Chunk{
			SourceID: "s1", Kind: chunk.KindText, Index: i, Content: "old text",
		})
	}
	for i := 0; i < 3; i++ {
		_ = chunks.Upsert(context.Background(), chunk.Chunk{
			SourceID: "s1", Kind: chunk.KindImage, Index: i, Content: "old caption",
		})
	}

	fetcher := &fakeFetcher{docs: map[string]Document{
		src.URL: {URL: src.URL, ContentType: "text/html", Body: []byte(workerPage)},
	}}

	w := newTestWorker(claimer, chunks, fetcher, &stubParser{}, &fakeEmbedder{})
	if _, err := w.Run(context.Background(), time.Now()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var texts, images int
	for _, c := range chunks.bySource("s1") {
		if c.Content == "old text" || c.Content == "old caption" {
			t.Errorf("stale %s chunk %d survived re-ingestion", c.Kind, c.Index)
		}
		switch c.Kind {
		case chunk.KindText:
			texts++
		case chunk.KindImage:
			images++
		}
	}
	if texts != 2 || images != 1 {
		t.Errorf("chunks after re-ingestion = %d text, %d image, want 2 and 1", texts, images)
	}
	if claimer.completed["s1"] != 3 {
		t.Errorf("Complete() count = %d, want 3", claimer.completed["s1"])
	}
}

func TestWorkerRunEmitsBatchSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	defer otel.SetTracerProvider(noop.NewTracerProvider())

	src := source.Source{ID: "s1", URL: "https://extension.edu/guide"}
	claimer := newFakeClaimer(src)
	fetcher := &fakeFetcher{docs: map[string]Document{
		src.URL: {URL: src.URL, ContentType: "text/html", Body: []byte(workerPage)},
	}}

	w := newTestWorker(claimer, newFakeChunkStore(), fetcher, &stubParser{}, &fakeEmbedder{})
	if _, err := w.Run(context.Background(), time.Now()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var batch sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "ingest.batch" {
			batch = s
		}
	}
	if batch == nil {
		t.Fatal("no ingest.batch span recorded")
	}
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range batch.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["ingest.claimed"].AsInt64(); got != 1 {
		t.Errorf("span ingest.claimed = %d, want 1", got)
	}
	if got := attrs["ingest.completed"].AsInt64(); got != 1 {
		t.Errorf("span ingest.completed = %d, want 1", got)
	}
}

func TestWorkerIngestsPDFSource(t *testing.T) {
	src := source.Source{ID: "pdf1", URL: "https://extension.edu/guide.pdf"}
	claimer := newFakeClaimer(src)
	chunks := newFakeChunkStore()
	fetcher := &fakeFetcher{docs: map[string]Document{
		src.URL: {URL: src.URL, ContentType: "application/pdf", Body: []byte("%PDF-1.7")},
	}}
	parser := &stubParser{markdown: "## Page 1\n" +
		"Zinc deficiency in maize produces broad white to pale yellow bands on " +
		"either side of the midrib, most pronounced on young plants in cool soils."}

	w := newTestWorker(claimer, chunks, fetcher, parser, &fakeEmbedder{})
	if _, err := w.Run(context.Background(), time.Now()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if parser.calls != 1 {
		t.Errorf("pdf parser calls = %d, want 1", parser.calls)
	}
	got := chunks.bySource("pdf1")
	if len(got) != 1 {
		t.Fatalf("chunks = %d, want 1", len(got))
	}
	if got[0].Metadata["heading"] != "Page 1" {
		t.Errorf("chunk heading = %q, want %q", got[0].Metadata["heading"], "Page 1")
	}
}
