// Package config holds Mementor's YAML-driven configuration: one Config
// with a DefaultConfig() constructor and a yaml-tagged sub-struct per
// concern.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all Mementor configuration.
type Config struct {
	// Store settings
	Store StoreConfig `yaml:"store"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Chunker settings
	Chunk ChunkConfig `yaml:"chunk"`

	// Query engine cutoffs and defaults
	Query QueryConfig `yaml:"query"`

	// Centroid engine window sizes
	Centroid CentroidConfig `yaml:"centroid"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the backing SQLite database.
type StoreConfig struct {
	// Path to the SQLite database file, typically <project_root>/.mementor/mementor.db
	Path string `yaml:"path"`

	// BusyTimeoutMS records the PRAGMA busy_timeout value. store.Open does not
	// read it: it always applies a fixed busy_timeout of 5000 ms.
	BusyTimeoutMS int `yaml:"busy_timeout_ms"`
}

// EmbeddingConfig configures the text-to-vector embedder.
type EmbeddingConfig struct {
	// ModelDir is the directory containing the ONNX model and tokenizer files.
	// Overridable via MEMENTOR_MODEL_DIR.
	ModelDir string `yaml:"model_dir"`

	// Dimensions is the fixed embedding dimensionality (768 in the reference config).
	Dimensions int `yaml:"dimensions"`
}

// ChunkConfig configures turn-text chunking.
type ChunkConfig struct {
	// MaxTokens is the per-chunk token budget aligned to the embedder's window.
	MaxTokens int `yaml:"max_tokens"`

	// OverlapTokens is the token overlap between consecutive chunks.
	OverlapTokens int `yaml:"overlap_tokens"`
}

// QueryConfig configures ranking cutoffs. These are named, overridable
// constants rather than hardcoded literals, since the right cutoff is
// model-dependent and needs recalibration if the embedding model changes.
type QueryConfig struct {
	// MaxCosineDistance filters noise out of vector search results.
	MaxCosineDistance float64 `yaml:"max_cosine_distance"`

	// FileOnlyPseudoDistance is assigned to file-mention-only hybrid results
	// so they rank behind strong semantic matches but ahead of the cutoff.
	FileOnlyPseudoDistance float64 `yaml:"file_only_pseudo_distance"`

	// DefaultPageSize is used when a caller omits an explicit limit.
	DefaultPageSize int `yaml:"default_page_size"`
}

// CentroidConfig configures access-pattern centroid windows.
type CentroidConfig struct {
	// RelatedSessionCandidates bounds stage 1 of find-related-turns (top-K sessions).
	RelatedSessionCandidates int `yaml:"related_session_candidates"`

	// RecentWindow is the default N for "recent N turns" windowed centroids.
	RecentWindow int `yaml:"recent_window"`

	// UseWindowedCentroid makes find-related-sessions compare the querying
	// session's recent-RecentWindow-turns centroid instead of its full
	// centroid. find-related-turns always uses the windowed form.
	UseWindowedCentroid bool `yaml:"use_windowed_centroid"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	// Dir enables logging when non-empty; mirrors MEMENTOR_LOG_DIR.
	Dir string `yaml:"dir"`
}

// DefaultConfig returns Mementor's reference configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:          ".mementor/mementor.db",
			BusyTimeoutMS: 5000,
		},
		Embedding: EmbeddingConfig{
			ModelDir:   defaultModelDir(),
			Dimensions: 768,
		},
		Chunk: ChunkConfig{
			MaxTokens:     512,
			OverlapTokens: 40,
		},
		Query: QueryConfig{
			MaxCosineDistance:      0.45,
			FileOnlyPseudoDistance: 0.38,
			DefaultPageSize:        20,
		},
		Centroid: CentroidConfig{
			RelatedSessionCandidates: 10,
			RecentWindow:             5,
			UseWindowedCentroid:      false,
		},
		Logging: LoggingConfig{
			Dir: os.Getenv("MEMENTOR_LOG_DIR"),
		},
	}
}

// defaultModelDir honors MEMENTOR_MODEL_DIR, falling back to a directory
// under the user's home.
func defaultModelDir() string {
	if dir := os.Getenv("MEMENTOR_MODEL_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mementor/model"
	}
	return home + "/.mementor/model"
}

// Load reads a YAML config file and overlays it onto the defaults. A missing
// file is not an error — DefaultConfig() is returned unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config as YAML to path.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
