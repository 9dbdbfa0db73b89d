package store

import "testing"

func TestEncodeDecodeEmbeddingRoundTrip(t *testing.T) {
	in := []float32{0.1, -0.2, 0.3, 0.0}
	blob := encodeEmbedding(in)
	out, err := decodeEmbedding(blob)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("value mismatch at %d: got %v want %v", i, out[i], in[i])
		}
	}
}

func TestDecodeEmbeddingRejectsMisalignedBlob(t *testing.T) {
	_, err := decodeEmbedding([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected error for misaligned blob")
	}
}

func TestIsUnitNorm(t *testing.T) {
	if !IsUnitNorm([]float32{1, 0, 0}) {
		t.Fatal("expected unit vector to be unit norm")
	}
	if IsUnitNorm([]float32{1, 1, 1}) {
		t.Fatal("expected non-unit vector to fail unit norm check")
	}
}
