package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"mementor/internal/embedding"
)

func testTokenizer(t *testing.T) embedding.Tokenizer {
	t.Helper()
	eng, err := embedding.NewEngine(embedding.DefaultConfig())
	require.NoError(t, err)
	provider, ok := eng.(embedding.TokenizerProvider)
	require.True(t, ok)
	return provider.Tokenizer()
}

func TestSplitEmptyTextReturnsNil(t *testing.T) {
	tok := testTokenizer(t)
	require.Nil(t, Split("", tok, DefaultConfig()))
	require.Nil(t, Split("   \n\n  ", tok, DefaultConfig()))
}

func TestSplitShortTextProducesSingleChunk(t *testing.T) {
	tok := testTokenizer(t)
	chunks := Split("[User] how do I fix the CI?", tok, DefaultConfig())
	require.Len(t, chunks, 1)
	require.Equal(t, 0, chunks[0].ChunkIndex)
}

func TestSplitLongTextProducesMultipleOverlappingChunks(t *testing.T) {
	tok := testTokenizer(t)
	var sb strings.Builder
	for i := 0; i < 2000; i++ {
		sb.WriteString("word")
		sb.WriteString(" ")
	}
	cfg := Config{MaxTokens: 100, OverlapTokens: 10}
	chunks := Split(sb.String(), tok, cfg)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		require.Equal(t, i, c.ChunkIndex)
		require.NotEmpty(t, c.Text)
	}
}

func TestSplitChunkIndicesAreDenseFromZero(t *testing.T) {
	tok := testTokenizer(t)
	text := strings.Repeat("paragraph one has some words in it.\n\n", 50)
	cfg := Config{MaxTokens: 30, OverlapTokens: 5}
	chunks := Split(text, tok, cfg)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		require.Equal(t, i, c.ChunkIndex)
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	tok := testTokenizer(t)
	text := strings.Repeat("alpha beta gamma delta. ", 5) + "\n\n" + strings.Repeat("epsilon zeta eta theta. ", 5)
	cfg := Config{MaxTokens: 30, OverlapTokens: 5}
	chunks := Split(text, tok, cfg)
	require.NotEmpty(t, chunks)
	require.Greater(t, len(chunks), 1)
	require.Equal(t, strings.TrimSpace(strings.Repeat("alpha beta gamma delta ", 5)), chunks[0].Text)
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 512, cfg.MaxTokens)
	require.Equal(t, 40, cfg.OverlapTokens)
}
