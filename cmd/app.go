package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/genai"

	"github.com/leafcheck/leafcheck/internal/audit"
	"github.com/leafcheck/leafcheck/internal/chunk"
	"github.com/leafcheck/leafcheck/internal/config"
	"github.com/leafcheck/leafcheck/internal/database"
	"github.com/leafcheck/leafcheck/internal/embedding"
	"github.com/leafcheck/leafcheck/internal/eval"
	"github.com/leafcheck/leafcheck/internal/feedback"
	"github.com/leafcheck/leafcheck/internal/ingest"
	"github.com/leafcheck/leafcheck/internal/observability"
	"github.com/leafcheck/leafcheck/internal/recommend"
	"github.com/leafcheck/leafcheck/internal/retrieval"
	"github.com/leafcheck/leafcheck/internal/source"
)

// app holds the shared object graph behind every database-backed command.
//
// Components are constructed eagerly: a command that cannot reach Postgres
// or the model provider should fail at startup, not mid-batch.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	pool   *pgxpool.Pool
	client *genai.Client

	sources  *source.Store
	chunks   *chunk.Store
	embedder embedding.Provider

	auditStore  *audit.Store
	auditLogger *audit.Logger
	boosts      *feedback.BoostStore

	tracingShutdown func(context.Context) error
}

// setupApp loads config and connects every shared dependency.
// The returned app must be closed with app.Close().
func setupApp(ctx context.Context) (*app, error) {
	logger := newLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	shutdown := func(context.Context) error { return nil }
	if cfg.TracingEnabled {
		shutdown, err = observability.Setup(ctx, observability.Config{
			Endpoint: cfg.TracingEndpoint,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
	}

	pool, err := database.Connect(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	auditStore := audit.NewStore(pool)

	return &app{
		cfg:             cfg,
		logger:          logger,
		pool:            pool,
		client:          client,
		sources:         source.NewStore(pool, logger.With("component", "sources")),
		chunks:          chunk.NewStore(pool, logger.With("component", "chunks")),
		embedder:        newEmbedder(client, cfg.EmbedderModel, logger),
		auditStore:      auditStore,
		auditLogger:     audit.NewLogger(auditStore, logger.With("component", "audit")),
		boosts:          feedback.NewBoostStore(pool),
		tracingShutdown: shutdown,
	}, nil
}

// newEmbedder wraps the Gemini provider with single-call retries.
// Batch calls pass through unretried; the ingest worker replays a
// failed batch on the next run instead.
func newEmbedder(client *genai.Client, model string, logger *slog.Logger) embedding.Provider {
	provider := embedding.NewGenAI(client, model, logger.With("component", "embedding"))
	return embedding.NewRetrier(provider, logger.With("component", "embedding"))
}

// Close flushes pending audit writes and releases connections.
func (a *app) Close() {
	a.auditLogger.Wait()
	a.pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracingShutdown(ctx); err != nil {
		a.logger.Warn("tracing shutdown failed", "error", err)
	}
}

// newPipeline assembles the recommendation pipeline around a generator.
func (a *app) newPipeline(generator recommend.Generator) *recommend.Pipeline {
	hints := retrieval.NewHintResolver(a.sources, a.logger.With("component", "hints"))
	assembler := retrieval.NewAssembler(a.chunks, a.cfg.ContextTokenBudget,
		a.logger.With("component", "assembler"))

	return recommend.NewPipeline(a.embedder, a.chunks, hints, assembler,
		a.boosts, generator, a.auditLogger,
		recommend.Config{TopK: a.cfg.RetrievalTopK, SimilarityFloor: a.cfg.SimilarityFloor},
		a.logger.With("component", "pipeline"))
}

// newGenerator creates the production LLM generator.
func (a *app) newGenerator() *recommend.GenAIGenerator {
	return recommend.NewGenAIGenerator(a.client, a.cfg.GenerationModel,
		a.logger.With("component", "generator"))
}

// newEngine creates the evaluation engine, with or without the LLM judge.
func (a *app) newEngine() *eval.Engine {
	var judge eval.Judge
	if !a.cfg.SkipLLMJudge {
		judge = eval.NewGenAIJudge(a.client, a.cfg.JudgeModel, a.cfg.JudgeTokensPerMin,
			a.logger.With("component", "judge"))
	}
	return eval.NewEngine(judge, eval.NewStore(a.pool), a.logger.With("component", "eval"))
}

// newIngestWorker assembles the ingestion worker.
func (a *app) newIngestWorker() *ingest.Worker {
	fetcher := ingest.NewFetcher(time.Duration(a.cfg.FetchTimeoutSec)*time.Second,
		a.logger.With("component", "fetcher"))

	var parser ingest.PDFParser = ingest.NewLocalParser()
	if a.cfg.PDFServiceURL != "" {
		parser = ingest.NewFallbackParser(
			ingest.NewPollClient(a.cfg.PDFServiceURL, a.cfg.PDFServiceAPIKey,
				a.logger.With("component", "pdf")),
			ingest.NewLocalParser(),
			a.logger.With("component", "pdf"))
	}

	return ingest.NewWorker(a.sources, a.chunks, fetcher, parser, a.embedder,
		ingest.Config{
			BatchLimit:      a.cfg.IngestBatchLimit,
			MinSectionChars: a.cfg.MinSectionChars,
			ChunkChars:      a.cfg.ChunkSizeChars,
			ImageFanout:     a.cfg.ImageUpsertFanout,
		},
		a.logger.With("component", "ingest"))
}
