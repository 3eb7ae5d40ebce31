// Package log builds the slog loggers that every leafcheck component
// receives through its constructor. There is no package-level logger:
// each component gets an injected logger and narrows it with
// With("component", ...), so one pipeline run can be followed across
// discovery, ingestion, retrieval, and evaluation by component field.
//
//	logger := log.New(log.Config{Level: slog.LevelDebug})
//	worker := ingest.NewWorker(registry, store, fetcher, parser, embedder,
//		cfg, logger.With("component", "ingest"))
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger aliases *slog.Logger so call sites stay compatible with the
// whole slog ecosystem. No wrapper interface is needed.
type Logger = *slog.Logger

// Config defines logger configuration options.
type Config struct {
	// Level sets the minimum log level. Default: slog.LevelInfo
	Level slog.Level

	// JSON switches output from human-readable text to JSON lines.
	JSON bool

	// AddSource attaches the emitting file and line to each record.
	AddSource bool
}

// New creates a logger writing to os.Stderr, keeping stdout free for
// command output.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter creates a logger writing to w. Tests pass a bytes.Buffer
// here to assert on emitted records.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop creates a logger that discards everything. Test-only; production
// code always configures New or NewWithWriter.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
