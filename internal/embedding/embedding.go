// Package embedding wraps the external embedding provider.
//
// Two profiles exist: text embeddings (1536 dimensions) and image-caption
// embeddings (512 dimensions). The Provider interface keeps the external
// model call a black box; callers receive plain float32 vectors.
package embedding

import (
	"context"
	"errors"
)

// MaxBatchSize is the provider's per-call input cap for batch embedding.
const MaxBatchSize = 100

var (
	// ErrEmptyInput indicates an empty text or caption.
	ErrEmptyInput = errors.New("empty embedding input")

	// ErrBatchTooLarge indicates more than MaxBatchSize inputs in one batch call.
	ErrBatchTooLarge = errors.New("embedding batch exceeds maximum size")

	// ErrEmptyResponse indicates the provider returned no vector.
	ErrEmptyResponse = errors.New("empty embedding response")
)

// Provider converts text or image captions to fixed-dimension vectors.
//
// Implementations must fail closed: a provider error is returned to the
// caller, never swallowed. Retry policy is the caller's concern (see Retrier).
type Provider interface {
	// EmbedText returns a 1536-dim vector for the given text.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTextBatch embeds up to MaxBatchSize texts in one provider call.
	// Batch calls are not auto-retried.
	EmbedTextBatch(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedImage returns a 512-dim vector for an image caption.
	EmbedImage(ctx context.Context, caption string) ([]float32, error)
}
