//go:build !onnx

package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"unicode"
)

// newEngine is the default build: a deterministic, dependency-free hashing
// encoder. It gives every component downstream of the embedder (chunker,
// store, query engine) a real fixed-dimension unit-norm vector to work
// with without requiring a model download. Build with -tags onnx to use
// the real ONNX Runtime text encoder in onnx_backend.go instead.
func newEngine(cfg Config) (Engine, error) {
	dim := cfg.Dimensions
	if dim <= 0 {
		dim = DefaultConfig().Dimensions
	}
	return &hashingEngine{dim: dim, tok: wordTokenizer{}}, nil
}

// hashingEngine embeds text by hashing overlapping word shingles into a
// fixed-width vector — a feature-hashing trick, not a learned embedding, so
// semantic similarity holds only for near-duplicate and shared-vocabulary
// text. It exists so the pipeline is runnable and testable end-to-end
// without a multi-hundred-megabyte model on disk.
type hashingEngine struct {
	dim int
	tok wordTokenizer
}

func (e *hashingEngine) Name() string    { return "hashing-fallback" }
func (e *hashingEngine) Dimensions() int { return e.dim }

func (e *hashingEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embed(text, Passage), nil
}

func (e *hashingEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t, Passage)
	}
	return out, nil
}

func (e *hashingEngine) EmbedWithMode(ctx context.Context, text string, mode Mode) ([]float32, error) {
	return e.embed(text, mode), nil
}

func (e *hashingEngine) EmbedBatchWithMode(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t, mode)
	}
	return out, nil
}

func (e *hashingEngine) Tokenizer() Tokenizer { return e.tok }

// embed hashes each token (and, for context, each adjacent bigram) into a
// bucket of the output vector, signed by a second hash bit so unrelated
// tokens partially cancel rather than only ever adding up. The mode string
// is prepended to the text and hashed as a leading token (and bigram),
// giving Query- and Passage-mode embeddings of the same text a bounded,
// reproducible difference.
func (e *hashingEngine) embed(text string, mode Mode) []float32 {
	vec := make([]float32, e.dim)
	tokens := e.tok.Tokenize(string(mode) + "\x00" + text)

	add := func(tok string) {
		h := sha256.Sum256([]byte(tok))
		idx := binary.LittleEndian.Uint64(h[0:8]) % uint64(e.dim)
		sign := float32(1)
		if h[8]&1 == 1 {
			sign = -1
		}
		vec[idx] += sign
	}

	for i, tok := range tokens {
		add(tok)
		if i > 0 {
			add(tokens[i-1] + "_" + tok)
		}
	}

	return Normalize(vec)
}

// wordTokenizer splits on Unicode letter/digit runs, lowercasing as it goes.
// It stands in for the real model tokenizer in the default build.
type wordTokenizer struct{}

func (wordTokenizer) CountTokens(text string) int { return len(wordTokenizer{}.Tokenize(text)) }

func (wordTokenizer) Tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return tokens
}
