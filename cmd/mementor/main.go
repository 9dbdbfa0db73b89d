// Command mementor is the CLI front end for the transcript-to-index engine:
// ingest a transcript, watch one as it grows, and query the resulting store.
//
// File index:
//   - main.go       - entry point, rootCmd, global flags, runtime wiring
//   - cmd_ingest.go - ingestCmd, watchCmd
//   - cmd_search.go - searchCmd (vector/fts modes)
//   - cmd_find.go   - findCmd (file/commit/pr subcommands)
//   - cmd_related.go - relatedCmd (sessions/turns subcommands)
//   - cmd_turns.go  - turnsCmd (get --segment/--current)
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mementor/internal/centroid"
	"mementor/internal/chunk"
	"mementor/internal/config"
	"mementor/internal/embedding"
	"mementor/internal/ingest"
	"mementor/internal/logging"
	"mementor/internal/query"
	"mementor/internal/store"
)

var (
	configPath string
	dbPath     string
	logDir     string

	cfg *config.Config
	rt  *runtime
)

// runtime is an explicitly threaded context object in place of global
// singletons: one store, one embedder, one of each engine built on them,
// shared by every command in this process.
type runtime struct {
	store    *store.Store
	embedder embedding.Engine
	centroid *centroid.Engine
	query    *query.Engine
	ingest   *ingest.Pipeline
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	emb, err := embedding.NewEngine(embedding.Config{ModelDir: cfg.Embedding.ModelDir, Dimensions: cfg.Embedding.Dimensions})
	if err != nil {
		return nil, fmt.Errorf("starting embedder: %w", err)
	}
	st.SetEmbeddingEngine(emb)

	cen := centroid.New(st, emb)
	q := query.New(st, emb, cen, cfg.Query, cfg.Centroid)
	ing := ingest.New(st, emb, chunk.Config{MaxTokens: cfg.Chunk.MaxTokens, OverlapTokens: cfg.Chunk.OverlapTokens})

	return &runtime{store: st, embedder: emb, centroid: cen, query: q, ingest: ing}, nil
}

var rootCmd = &cobra.Command{
	Use:   "mementor",
	Short: "Persistent cross-session memory for an AI coding assistant",
	Long: `mementor incrementally parses append-only JSONL conversation transcripts
into a searchable, per-project index: vector search over what was discussed,
trigram full-text search, file/commit/PR lookups, and related-session
discovery by file-access pattern.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		runID := uuid.NewString()

		if logDir != "" {
			logging.Configure(logDir)
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.Store.Path = dbPath
		}
		if logDir == "" && cfg.Logging.Dir != "" {
			logging.Configure(cfg.Logging.Dir)
		}

		logging.Store("run %s: %s", runID, cmd.CommandPath())

		rt, err = newRuntime(cfg)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rt != nil && rt.store != nil {
			_ = rt.store.Close()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".mementor/config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Override the store path from config")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", os.Getenv("MEMENTOR_LOG_DIR"), "Directory for categorized log files")

	rootCmd.AddCommand(ingestCmd, watchCmd, searchCmd, findCmd, relatedCmd, turnsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
