package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	relatedOffset     int
	relatedLimit      int
	relatedWindowSize int
)

var relatedCmd = &cobra.Command{
	Use:   "related",
	Short: "Find sessions or turns related to a given session",
}

var relatedSessionsCmd = &cobra.Command{
	Use:   "sessions <session-id>",
	Short: "Rank other sessions by access-pattern centroid similarity",
	Args:  cobra.ExactArgs(1),
	RunE:  runRelatedSessions,
}

var relatedTurnsCmd = &cobra.Command{
	Use:   "turns <session-id>",
	Short: "Find the best-matching window of turns in related sessions",
	Args:  cobra.ExactArgs(1),
	RunE:  runRelatedTurns,
}

func init() {
	relatedSessionsCmd.Flags().IntVar(&relatedOffset, "offset", 0, "Result offset")
	relatedSessionsCmd.Flags().IntVar(&relatedLimit, "limit", 10, "Result limit")
	relatedTurnsCmd.Flags().IntVar(&relatedWindowSize, "window", 5, "Turn window size for the centroid match")
	relatedCmd.AddCommand(relatedSessionsCmd, relatedTurnsCmd)
}

func runRelatedSessions(cmd *cobra.Command, args []string) error {
	matches, err := rt.query.FindRelatedSessions(cmd.Context(), args[0], relatedOffset, relatedLimit)
	if err != nil {
		return fmt.Errorf("related sessions: %w", err)
	}
	if len(matches) == 0 {
		fmt.Println("no related sessions")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("  session=%s distance=%.4f\n", m.SessionID, m.Distance)
	}
	return nil
}

func runRelatedTurns(cmd *cobra.Command, args []string) error {
	matches, err := rt.query.FindRelatedTurns(cmd.Context(), args[0], relatedWindowSize)
	if err != nil {
		return fmt.Errorf("related turns: %w", err)
	}
	if len(matches) == 0 {
		fmt.Println("no related turns")
		return nil
	}
	for _, m := range matches {
		degraded := ""
		if m.Degraded {
			degraded = " (degraded: fewer turns than the window size)"
		}
		fmt.Printf("  session=%s distance=%.4f turns=%v%s\n", m.SessionID, m.Distance, m.TurnIDs, degraded)
	}
	return nil
}
