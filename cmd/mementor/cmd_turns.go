package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mementor/internal/query"
)

var (
	turnsSegment int
	turnsCurrent bool
)

var turnsCmd = &cobra.Command{
	Use:   "turns",
	Short: "List a session's turns by compaction segment",
}

var turnsGetCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "List turns within a compaction segment, or the current segment",
	Long: `A session's turns are split into segments at each compaction boundary. Use --segment N for a specific segment (0-indexed) or
--current for the turns since the last boundary.`,
	Args: cobra.ExactArgs(1),
	RunE: runTurnsGet,
}

func init() {
	turnsGetCmd.Flags().IntVar(&turnsSegment, "segment", -1, "Segment index (0-indexed)")
	turnsGetCmd.Flags().BoolVar(&turnsCurrent, "current", false, "List turns in the current (post-last-boundary) segment")
	turnsCmd.AddCommand(turnsGetCmd)
}

func runTurnsGet(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	if turnsCurrent == (turnsSegment >= 0) {
		return fmt.Errorf("specify exactly one of --segment or --current")
	}

	ctx := cmd.Context()
	if turnsCurrent {
		turns, err := rt.query.CurrentSegmentTurns(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("current segment turns: %w", err)
		}
		printTurns(turns)
		return nil
	}

	turns, err := rt.query.SegmentTurns(ctx, sessionID, turnsSegment)
	if err != nil {
		return fmt.Errorf("segment turns: %w", err)
	}
	printTurns(turns)
	return nil
}

func printTurns(turns []query.Result) {
	if len(turns) == 0 {
		fmt.Println("no turns in this segment")
		return
	}
	for _, r := range turns {
		fmt.Printf("  turn=%d lines=%d-%d agent=%s\n", r.TurnID, r.StartLine, r.EndLine, r.AgentID)
		fmt.Printf("      %s\n", truncate(r.FullText, 160))
	}
}
