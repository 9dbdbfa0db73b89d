package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashingEngineProducesUnitNormVectors(t *testing.T) {
	engine, err := NewEngine(Config{Dimensions: 64})
	require.NoError(t, err)
	require.Equal(t, 64, engine.Dimensions())

	vec, err := engine.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Len(t, vec, 64)

	var normSq float64
	for _, f := range vec {
		normSq += float64(f) * float64(f)
	}
	require.InDelta(t, 1.0, normSq, 1e-3)
}

func TestHashingEngineDeterministic(t *testing.T) {
	engine, err := NewEngine(Config{Dimensions: 32})
	require.NoError(t, err)

	a, err := engine.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	b, err := engine.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestHashingEnginePassageQueryModesDiffer(t *testing.T) {
	engine, err := NewEngine(Config{Dimensions: 32})
	require.NoError(t, err)
	modeAware, ok := engine.(ModeAwareEngine)
	require.True(t, ok)

	passage, err := modeAware.EmbedWithMode(context.Background(), "fix the CI", Passage)
	require.NoError(t, err)
	query, err := modeAware.EmbedWithMode(context.Background(), "fix the CI", Query)
	require.NoError(t, err)
	require.NotEqual(t, passage, query)
}

func TestHashingEngineSimilarTextsAreCloser(t *testing.T) {
	engine, err := NewEngine(Config{Dimensions: 128})
	require.NoError(t, err)

	a, err := engine.Embed(context.Background(), "how do I fix the CI pipeline")
	require.NoError(t, err)
	b, err := engine.Embed(context.Background(), "how do I fix the CI build")
	require.NoError(t, err)
	c, err := engine.Embed(context.Background(), "what is the weather today")
	require.NoError(t, err)

	simAB, err := CosineSimilarity(a, b)
	require.NoError(t, err)
	simAC, err := CosineSimilarity(a, c)
	require.NoError(t, err)
	require.Greater(t, simAB, simAC)
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
	require.Error(t, err)
}

func TestFindTopKOrdersDescending(t *testing.T) {
	query := []float32{1, 0, 0}
	corpus := [][]float32{
		{0, 1, 0},
		{1, 0, 0},
		{0.7, 0.7, 0},
	}
	results, err := FindTopK(query, corpus, 3)
	require.NoError(t, err)
	require.Equal(t, 1, results[0].Index)
}

func TestTokenizerExposedByFallbackEngine(t *testing.T) {
	engine, err := NewEngine(Config{Dimensions: 32})
	require.NoError(t, err)
	provider, ok := engine.(TokenizerProvider)
	require.True(t, ok)

	tokens := provider.Tokenizer().Tokenize("Hello, World!")
	require.Equal(t, []string{"hello", "world"}, tokens)
}
