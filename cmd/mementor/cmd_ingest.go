package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mementor/internal/ingest"
	"mementor/internal/logging"
	"mementor/internal/watch"
)

var (
	ingestSessionID   string
	ingestProjectDir  string
	ingestProjectRoot string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <transcript-path>",
	Short: "Ingest a transcript file into the store",
	Long: `Parses an append-only JSONL transcript and incrementally updates the
store: new entries, turns, chunks with embeddings, file mentions, and PR
links. Safe to re-run on a transcript that has grown since the last run.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var watchCmd = &cobra.Command{
	Use:   "watch <transcript-path>",
	Short: "Watch a transcript and re-ingest on every settled write",
	Long: `Runs one ingest pass immediately, then watches the transcript's
directory (and its subagents/ directory, if present) and re-ingests after
each burst of writes settles.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	for _, c := range []*cobra.Command{ingestCmd, watchCmd} {
		c.Flags().StringVar(&ingestSessionID, "session", "", "Session ID (defaults to the transcript's base filename)")
		c.Flags().StringVar(&ingestProjectDir, "project-dir", ".", "Project directory transcript paths are relative to")
		c.Flags().StringVar(&ingestProjectRoot, "project-root", "", "Absolute project root prefix to strip from mentioned paths (defaults to project-dir)")
	}
}

func buildIngestRequest(transcriptPath string) ingest.Request {
	sessionID := ingestSessionID
	if sessionID == "" {
		sessionID = sessionIDFromPath(transcriptPath)
	}
	root := ingestProjectRoot
	if root == "" {
		root = ingestProjectDir
	}
	return ingest.Request{
		SessionID:      sessionID,
		TranscriptPath: transcriptPath,
		ProjectDir:     ingestProjectDir,
		ProjectRoot:    root,
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	req := buildIngestRequest(args[0])
	timer := logging.StartTimer(logging.CategoryIngest, "cli ingest "+req.SessionID)
	defer timer.Stop()

	if err := rt.ingest.Ingest(cmd.Context(), req); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	fmt.Printf("ingested session %s from %s\n", req.SessionID, req.TranscriptPath)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	req := buildIngestRequest(args[0])

	w, err := watch.New(rt.ingest, req, func(err error) {
		fmt.Printf("watch: ingest error for session %s: %v\n", req.SessionID, err)
	})
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	ctx := cmd.Context()
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Stop()

	fmt.Printf("watching %s for session %s (ctrl-c to stop)\n", req.TranscriptPath, req.SessionID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	return nil
}

func sessionIDFromPath(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			base = path[i+1:]
			break
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}
