package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultAttempts = 3
	defaultBackoff  = time.Second
)

// Retrier wraps a Provider with exponential-backoff retry for single
// embedding calls (1s, 2s, 4s by default). Batch calls pass through
// unretried: a failed batch is the caller's decision to replay.
type Retrier struct {
	provider Provider
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// NewRetrier wraps the provider with the default retry policy.
func NewRetrier(provider Provider, logger *slog.Logger) *Retrier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{
		provider: provider,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		logger:   logger,
	}
}

// EmbedText implements Provider with retries.
func (r *Retrier) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return r.retry(ctx, func() ([]float32, error) {
		return r.provider.EmbedText(ctx, text)
	})
}

// EmbedImage implements Provider with retries.
func (r *Retrier) EmbedImage(ctx context.Context, caption string) ([]float32, error) {
	return r.retry(ctx, func() ([]float32, error) {
		return r.provider.EmbedImage(ctx, caption)
	})
}

// EmbedTextBatch implements Provider. No retry on batch calls.
func (r *Retrier) EmbedTextBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return r.provider.EmbedTextBatch(ctx, texts)
}

func (r *Retrier) retry(ctx context.Context, call func() ([]float32, error)) ([]float32, error) {
	var lastErr error
	delay := r.backoff

	for attempt := 1; attempt <= r.attempts; attempt++ {
		vec, err := call()
		if err == nil {
			return vec, nil
		}
		lastErr = err

		if attempt < r.attempts {
			r.logger.Debug("embedding attempt failed, backing off",
				"attempt", attempt, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return nil, fmt.Errorf("embedding failed after %d attempts: %w", r.attempts, lastErr)
}
