package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// validSSLModes are the sslmode values accepted by libpq/pgx.
var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// API key is required for embedding/judging; read directly by genai.
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}
	if c.GenerationModel == "" {
		return fmt.Errorf("%w: generation_model cannot be empty", ErrInvalidEmbedderModel)
	}
	if c.JudgeModel == "" {
		return fmt.Errorf("%w: judge_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// PostgreSQL configuration
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: got %q, want one of %v", ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	if c.PostgresPassword == "leafcheck_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"hint", "change postgres_password in config.yaml for production deployments")
	}

	// Ingestion tuning
	if c.IngestBatchLimit < 1 || c.IngestBatchLimit > 1000 {
		return fmt.Errorf("%w: ingest_batch_limit must be between 1 and 1000, got %d",
			ErrInvalidIngestion, c.IngestBatchLimit)
	}
	if c.FetchTimeoutSec < 1 || c.FetchTimeoutSec > 300 {
		return fmt.Errorf("%w: fetch_timeout_sec must be between 1 and 300, got %d",
			ErrInvalidIngestion, c.FetchTimeoutSec)
	}
	if c.ChunkSizeChars < 200 {
		return fmt.Errorf("%w: chunk_size_chars must be at least 200, got %d",
			ErrInvalidIngestion, c.ChunkSizeChars)
	}
	if c.ImageUpsertFanout < 1 || c.ImageUpsertFanout > 16 {
		return fmt.Errorf("%w: image_upsert_fanout must be between 1 and 16, got %d",
			ErrInvalidIngestion, c.ImageUpsertFanout)
	}

	// Retrieval tuning
	if c.RetrievalTopK < 1 || c.RetrievalTopK > 50 {
		return fmt.Errorf("%w: retrieval_top_k must be between 1 and 50, got %d",
			ErrInvalidRetrieval, c.RetrievalTopK)
	}
	if c.SimilarityFloor < 0 || c.SimilarityFloor > 1 {
		return fmt.Errorf("%w: similarity_floor must be in [0,1], got %.2f",
			ErrInvalidRetrieval, c.SimilarityFloor)
	}
	if c.ContextTokenBudget < 500 {
		return fmt.Errorf("%w: context_token_budget must be at least 500, got %d",
			ErrInvalidRetrieval, c.ContextTokenBudget)
	}

	return nil
}
