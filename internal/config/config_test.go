package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigHasSaneValues(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, ".mementor/mementor.db", cfg.Store.Path)
	require.Equal(t, 5000, cfg.Store.BusyTimeoutMS)
	require.Equal(t, 768, cfg.Embedding.Dimensions)
	require.Greater(t, cfg.Chunk.MaxTokens, cfg.Chunk.OverlapTokens)
	require.Greater(t, cfg.Query.MaxCosineDistance, cfg.Query.FileOnlyPseudoDistance)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mementor.yaml")

	want := DefaultConfig()
	want.Query.MaxCosineDistance = 0.6
	want.Centroid.UseWindowedCentroid = true

	require.NoError(t, Save(want, path))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestLoadPartialOverlayKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mementor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("query:\n  max_cosine_distance: 0.9\n"), 0644))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 0.9, got.Query.MaxCosineDistance)
	require.Equal(t, DefaultConfig().Store.Path, got.Store.Path)
}
