// Package chunk stores and searches retrievable evidence units.
//
// A chunk is one retrievable unit of evidence, owned by a source. Two
// variants share one conceptual entity: text chunks (1536-dim embeddings)
// and image chunks (512-dim caption embeddings). Both variants project onto
// the same Chunk struct so vector search and context assembly never
// duplicate logic per type.
package chunk

import (
	"errors"
)

// Fixed embedding dimensionalities per chunk variant.
const (
	TextDim  = 1536
	ImageDim = 512
)

// ErrDimensionMismatch indicates a query embedding whose length does not
// match the variant's fixed dimensionality.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Kind distinguishes the two chunk variants.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Chunk is the common projection of both chunk variants.
//
// Content holds the chunk text for text chunks and the caption for image
// chunks. Embedding is nil when embedding generation failed; such chunks are
// excluded from vector search but still exist for audit and lookup.
type Chunk struct {
	ID        string
	SourceID  string
	Kind      Kind
	Index     int
	Content   string
	ImageURL  string // image variant only
	Embedding []float32
	Metadata  map[string]string
}

// Dimension returns the variant's fixed embedding size.
func (c *Chunk) Dimension() int {
	if c.Kind == KindImage {
		return ImageDim
	}
	return TextDim
}

// SourceMeta carries the parent source fields needed for citation.
type SourceMeta struct {
	Title       string
	URL         string
	Type        string
	Institution string
}

// Result is one vector search hit: a chunk, its similarity to the query,
// and its parent source's citation metadata.
type Result struct {
	Chunk      Chunk
	Similarity float64
	Source     SourceMeta
}

// Similarity maps a cosine distance in [0,2] onto [0,1]:
// distance 0 (identical direction) yields 1, distance 2 (opposite) yields 0.
func Similarity(cosineDistance float64) float64 {
	return 1 - cosineDistance/2
}

// maxDistance converts a similarity threshold back to the distance cutoff
// used in SQL: similarity >= t  ⇔  distance <= 2(1-t).
func maxDistance(threshold float64) float64 {
	return 2 * (1 - threshold)
}
