// Package embedding turns text into fixed-dimension unit-norm vectors for
// semantic search. The default backend is a deterministic pure-Go encoder;
// building with the "onnx" tag switches in a real ONNX Runtime text encoder
// (see onnx_backend.go).
package embedding

import (
	"context"
	"fmt"
	"math"
	"time"

	"mementor/internal/logging"
	"mementor/internal/merr"
)

// Mode selects the asymmetric prefix some bi-encoders require: passages are
// embedded differently from the queries that search for them. An engine
// that doesn't need the distinction simply ignores it.
type Mode string

const (
	Passage Mode = "passage"
	Query   Mode = "query"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text in Passage mode.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in Passage mode.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings this engine produces.
	Dimensions() int

	// Name returns the engine name, for logging and health reporting.
	Name() string
}

// ModeAwareEngine is an optional interface for engines whose underlying
// model demands an asymmetric Passage/Query prefix.
type ModeAwareEngine interface {
	EmbedWithMode(ctx context.Context, text string, mode Mode) ([]float32, error)
	EmbedBatchWithMode(ctx context.Context, texts []string, mode Mode) ([][]float32, error)
}

// HealthChecker is an optional interface for engines backed by a loadable
// model or external process, so callers can fail fast with ErrorKind
// ModelMissing before attempting batch work.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Tokenizer exposes the same tokenizer the engine uses internally, so the
// chunker can align chunk boundaries to the model's actual token budget.
type Tokenizer interface {
	// CountTokens returns the number of tokens text would encode to.
	CountTokens(text string) int

	// Tokenize splits text into its tokenizer's token strings, preserving order.
	Tokenize(text string) []string
}

// TokenizerProvider is implemented by engines that expose their tokenizer.
type TokenizerProvider interface {
	Tokenizer() Tokenizer
}

// Config selects and configures an embedding engine.
type Config struct {
	// ModelDir is the directory holding the model and tokenizer files, used
	// by the onnx-tagged backend. The fallback backend ignores it.
	ModelDir string

	// Dimensions is the fixed embedding width. 768 in the reference configuration.
	Dimensions int
}

// DefaultConfig returns the reference embedding configuration.
func DefaultConfig() Config {
	return Config{Dimensions: 768}
}

// NewEngine constructs the engine selected at build time: the deterministic
// fallback unless built with the "onnx" tag, in which case newONNXEngine
// (onnx_backend.go) is used instead.
func NewEngine(cfg Config) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	engine, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	logging.Embedding("embedding engine ready: name=%s dimensions=%d", engine.Name(), engine.Dimensions())
	return engine, nil
}

// CosineSimilarity calculates the cosine similarity between two vectors of
// equal length. Returns an Invariant error on dimension mismatch, per the
// Vector Index component's error taxonomy.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, merr.New(merr.Invariant, fmt.Sprintf("vector dimension mismatch: %d != %d", len(a), len(b)))
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// SimilarityResult is one ranked result from FindTopK.
type SimilarityResult struct {
	Index      int
	Similarity float64
}

// FindTopK ranks corpus by cosine similarity to query and returns the top k,
// descending. Used for in-memory comparisons (turn access-pattern windows)
// too small and short-lived to justify a vector-index registration.
func FindTopK(query []float32, corpus [][]float32, k int) ([]SimilarityResult, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "FindTopK")
	defer timer.Stop()

	if k <= 0 {
		k = 10
	}

	results := make([]SimilarityResult, 0, len(corpus))
	for i, vec := range corpus {
		sim, err := CosineSimilarity(query, vec)
		if err != nil {
			continue
		}
		results = append(results, SimilarityResult{Index: i, Similarity: sim})
	}

	sortStart := time.Now()
	for i := 0; i < len(results) && i < k; i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].Similarity > results[i].Similarity {
				results[i], results[j] = results[j], results[i]
			}
		}
	}
	logging.EmbeddingDebug("FindTopK: sorted %d results in %s", len(results), time.Since(sortStart))

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Normalize scales vec to unit Euclidean norm in place, returning it for
// convenience. A zero vector is returned unchanged.
func Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, f := range vec {
		sumSq += float64(f) * float64(f)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
