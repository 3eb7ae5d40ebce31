// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.leafcheck/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Storage: PostgreSQL connection (see storage.go)
//   - AI: Gemini API key, embedder/judge models
//   - Ingestion: batch sizes, fetch timeout, chunking thresholds
//   - Retrieval: topK, similarity threshold, context token budget
//   - Evaluation: LLM judge rate limits, results directory
//
// Security: sensitive values (passwords, API keys) are never logged.
// Validation: range checks in validation.go with sentinel errors for errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidRetrieval indicates a retrieval tuning value is out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval setting")

	// ErrInvalidIngestion indicates an ingestion tuning value is out of range.
	ErrInvalidIngestion = errors.New("invalid ingestion setting")
)

const (
	// DefaultTextEmbedderModel is the Gemini model used for 1536-dim text embeddings.
	// gemini-embedding-001 supports output truncation via OutputDimensionality
	// (Matryoshka Representation Learning); the pgvector schema stores 1536 dims.
	DefaultTextEmbedderModel = "gemini-embedding-001"

	// DefaultGenerationModel is the model used for recommendation generation
	// and search-grounded source discovery.
	DefaultGenerationModel = "gemini-2.5-flash"

	// DefaultJudgeModel is the model used for LLM-judged faithfulness scoring.
	DefaultJudgeModel = "gemini-2.5-flash"

	// TextEmbeddingDim is the fixed dimensionality of text chunk embeddings.
	TextEmbeddingDim = 1536

	// ImageEmbeddingDim is the fixed dimensionality of image chunk embeddings.
	ImageEmbeddingDim = 512
)

// Config stores application configuration.
type Config struct {
	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// AI configuration
	EmbedderModel   string `mapstructure:"embedder_model"`
	GenerationModel string `mapstructure:"generation_model"` // recommendation generator + search grounding
	JudgeModel      string `mapstructure:"judge_model"`

	// PDF parsing service (optional; local extraction is the fallback)
	PDFServiceURL    string `mapstructure:"pdf_service_url"`
	PDFServiceAPIKey string `mapstructure:"pdf_service_api_key"` // SENSITIVE: never logged

	// Ingestion configuration
	IngestBatchLimit  int `mapstructure:"ingest_batch_limit"`  // max due sources per run
	FetchTimeoutSec   int `mapstructure:"fetch_timeout_sec"`   // HTTP fetch wall clock
	MinSectionChars   int `mapstructure:"min_section_chars"`   // sections shorter than this are dropped
	ChunkSizeChars    int `mapstructure:"chunk_size_chars"`    // target chunk size for embedding
	DiscoveryBatch    int `mapstructure:"discovery_batch"`     // cells claimed per discovery run
	ImageUpsertFanout int `mapstructure:"image_upsert_fanout"` // concurrent image chunk upserts

	// Retrieval configuration
	RetrievalTopK      int     `mapstructure:"retrieval_top_k"`
	SimilarityFloor    float64 `mapstructure:"similarity_floor"`
	ContextTokenBudget int     `mapstructure:"context_token_budget"`

	// Evaluation configuration
	SkipLLMJudge      bool   `mapstructure:"skip_llm_judge"`
	JudgeTokensPerMin int    `mapstructure:"judge_tokens_per_min"`
	ResultsDir        string `mapstructure:"results_dir"`

	// Observability configuration
	TracingEnabled  bool   `mapstructure:"tracing_enabled"`
	TracingEndpoint string `mapstructure:"tracing_endpoint"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".leafcheck")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// PostgreSQL defaults for local development
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "leafcheck")
	viper.SetDefault("postgres_password", "leafcheck_dev_password")
	viper.SetDefault("postgres_db_name", "leafcheck")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// AI defaults
	viper.SetDefault("embedder_model", DefaultTextEmbedderModel)
	viper.SetDefault("generation_model", DefaultGenerationModel)
	viper.SetDefault("judge_model", DefaultJudgeModel)

	// PDF service defaults (empty = local parsing only)
	viper.SetDefault("pdf_service_url", "")
	viper.SetDefault("pdf_service_api_key", "")

	// Ingestion defaults
	viper.SetDefault("ingest_batch_limit", 100)
	viper.SetDefault("fetch_timeout_sec", 30)
	viper.SetDefault("min_section_chars", 80)
	viper.SetDefault("chunk_size_chars", 4000)
	viper.SetDefault("discovery_batch", 10)
	viper.SetDefault("image_upsert_fanout", 3)

	// Retrieval defaults
	viper.SetDefault("retrieval_top_k", 8)
	viper.SetDefault("similarity_floor", 0.55)
	viper.SetDefault("context_token_budget", 6000)

	// Evaluation defaults
	viper.SetDefault("skip_llm_judge", false)
	viper.SetDefault("judge_tokens_per_min", 200000)
	viper.SetDefault("results_dir", "results")

	// Observability defaults
	viper.SetDefault("tracing_enabled", false)
	viper.SetDefault("tracing_endpoint", "localhost:4318")
}

// bindEnvVariables binds environment variable overrides explicitly.
//
// GEMINI_API_KEY is read directly by the genai client, not via Viper;
// its presence is checked in Validate().
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("embedder_model", "LEAFCHECK_EMBEDDER_MODEL")
	mustBind("generation_model", "LEAFCHECK_GENERATION_MODEL")
	mustBind("judge_model", "LEAFCHECK_JUDGE_MODEL")
	mustBind("pdf_service_url", "LEAFCHECK_PDF_SERVICE_URL")
	mustBind("pdf_service_api_key", "LEAFCHECK_PDF_SERVICE_API_KEY")
	mustBind("skip_llm_judge", "LEAFCHECK_SKIP_LLM_JUDGE")
	mustBind("results_dir", "LEAFCHECK_RESULTS_DIR")
	mustBind("tracing_enabled", "LEAFCHECK_TRACING_ENABLED")
	mustBind("tracing_endpoint", "LEAFCHECK_TRACING_ENDPOINT")
}
