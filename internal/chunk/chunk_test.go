package chunk

import (
	"math"
	"testing"
)

func TestSimilarity_Mapping(t *testing.T) {
	tests := []struct {
		distance float64
		want     float64
	}{
		{0, 1},    // identical direction
		{2, 0},    // opposite vectors
		{1, 0.5},  // orthogonal
		{0.4, 0.8},
		{0.8, 0.6},
	}

	for _, tt := range tests {
		if got := Similarity(tt.distance); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Similarity(%v) = %v, want %v", tt.distance, got, tt.want)
		}
	}
}

func TestSimilarity_Monotonic(t *testing.T) {
	// For dA < dB, similarity(A) > similarity(B); both in [0,1].
	dA, dB := 0.3, 0.9
	sA, sB := Similarity(dA), Similarity(dB)
	if sA <= sB {
		t.Errorf("similarity not monotonic: sim(%v)=%v <= sim(%v)=%v", dA, sA, dB, sB)
	}
	for _, s := range []float64{sA, sB} {
		if s < 0 || s > 1 {
			t.Errorf("similarity %v outside [0,1]", s)
		}
	}
}

func TestMaxDistance_RoundTrip(t *testing.T) {
	// A chunk at distance 0.4 (similarity 0.8) passes threshold 0.7;
	// a chunk at distance 0.8 (similarity 0.6) does not.
	cutoff := maxDistance(0.7)
	if !(0.4 <= cutoff) {
		t.Errorf("distance 0.4 should pass threshold 0.7 (cutoff %v)", cutoff)
	}
	if 0.8 <= cutoff {
		t.Errorf("distance 0.8 should fail threshold 0.7 (cutoff %v)", cutoff)
	}
}

func TestChunk_Dimension(t *testing.T) {
	text := Chunk{Kind: KindText}
	if text.Dimension() != TextDim {
		t.Errorf("text dimension = %d, want %d", text.Dimension(), TextDim)
	}
	image := Chunk{Kind: KindImage}
	if image.Dimension() != ImageDim {
		t.Errorf("image dimension = %d, want %d", image.Dimension(), ImageDim)
	}
}
