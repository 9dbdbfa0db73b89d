// Package chunk splits a turn's full_text into overlapping, token-bounded
// chunks ready for embedding.
package chunk

import (
	"strings"

	"mementor/internal/embedding"
)

// Chunk is one ordered slice of a turn's full_text.
type Chunk struct {
	ChunkIndex int
	Text       string
}

// Config bounds the chunker's output.
type Config struct {
	MaxTokens     int
	OverlapTokens int
}

// DefaultConfig matches the ~512-token budget of many bi-encoders with a
// ~40-token overlap.
func DefaultConfig() Config {
	return Config{MaxTokens: 512, OverlapTokens: 40}
}

// Split breaks text into chunks no larger than cfg.MaxTokens, each
// overlapping the previous by roughly cfg.OverlapTokens. Paragraph
// boundaries (markdown-style blank-line separation) are preferred split
// points; a paragraph that alone exceeds the budget falls back to a raw
// token-window split. Returns nil for empty input.
func Split(text string, tok embedding.Tokenizer, cfg Config) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}

	paragraphs := splitParagraphs(text)

	// Flatten into a token stream while remembering paragraph-boundary
	// offsets, so we can pack by paragraph but always fall back to exact
	// token counting for budget compliance.
	var allTokens []string
	var boundaryAfter []bool // boundaryAfter[i] true if token i ends a paragraph
	for pi, p := range paragraphs {
		toks := tok.Tokenize(p)
		if len(toks) == 0 {
			continue
		}
		allTokens = append(allTokens, toks...)
		for range toks {
			boundaryAfter = append(boundaryAfter, false)
		}
		if len(boundaryAfter) > 0 {
			boundaryAfter[len(boundaryAfter)-1] = true
		}
		_ = pi
	}
	if len(allTokens) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(allTokens) {
		end := start + cfg.MaxTokens
		if end > len(allTokens) {
			end = len(allTokens)
		} else {
			// Prefer to end the chunk at the last paragraph boundary within
			// the window, so long as that doesn't shrink the chunk below
			// half the budget (avoids pathologically tiny chunks).
			for e := end; e > start+cfg.MaxTokens/2 && e <= len(allTokens); e-- {
				if e-1 < len(boundaryAfter) && boundaryAfter[e-1] {
					end = e
					break
				}
			}
		}

		chunkText := strings.Join(allTokens[start:end], " ")
		chunks = append(chunks, Chunk{ChunkIndex: len(chunks), Text: chunkText})

		if end >= len(allTokens) {
			break
		}
		next := end - cfg.OverlapTokens
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	var out []string
	for _, p := range raw {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}
