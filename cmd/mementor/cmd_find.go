package main

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
)

var (
	findProjectDir  string
	findProjectRoot string
	findOffset      int
	findLimit       int
)

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Find turns by file, commit, or PR",
}

var findFileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Find turns that mentioned a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runFindFile,
}

var findCommitCmd = &cobra.Command{
	Use:   "commit <commit-hash>",
	Short: "Find turns that mentioned any file touched by a commit",
	Args:  cobra.ExactArgs(1),
	RunE:  runFindCommit,
}

var findPRCmd = &cobra.Command{
	Use:   "pr <number>",
	Short: "Find the session that opened or discussed a pull request",
	Args:  cobra.ExactArgs(1),
	RunE:  runFindPR,
}

func init() {
	for _, c := range []*cobra.Command{findFileCmd, findCommitCmd} {
		c.Flags().StringVar(&findProjectDir, "project-dir", ".", "Project directory paths are relative to")
		c.Flags().StringVar(&findProjectRoot, "project-root", "", "Absolute project root prefix to strip (defaults to project-dir)")
		c.Flags().IntVar(&findOffset, "offset", 0, "Result offset")
		c.Flags().IntVar(&findLimit, "limit", 0, "Result limit (0 uses the configured default page size)")
	}
	findCmd.AddCommand(findFileCmd, findCommitCmd, findPRCmd)
}

func resolveProjectRoot() string {
	if findProjectRoot != "" {
		return findProjectRoot
	}
	return findProjectDir
}

func runFindFile(cmd *cobra.Command, args []string) error {
	page, err := rt.query.FindByFile(cmd.Context(), args[0], resolveProjectRoot(), findProjectDir, findOffset, findLimit)
	if err != nil {
		return fmt.Errorf("find file: %w", err)
	}
	printPage(page)
	return nil
}

func runFindCommit(cmd *cobra.Command, args []string) error {
	page, err := rt.query.FindByCommit(cmd.Context(), args[0], gitCommitLister{dir: findProjectDir}, resolveProjectRoot(), findProjectDir, findOffset, findLimit)
	if err != nil {
		return fmt.Errorf("find commit: %w", err)
	}
	printPage(page)
	return nil
}

func runFindPR(cmd *cobra.Command, args []string) error {
	var n int
	if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil {
		return fmt.Errorf("invalid PR number %q: %w", args[0], err)
	}

	sessionID, prURL, prRepository, found, err := rt.query.FindByPR(cmd.Context(), n)
	if err != nil {
		return fmt.Errorf("find pr: %w", err)
	}
	if !found {
		fmt.Printf("no session found for PR #%d\n", n)
		return nil
	}
	fmt.Printf("session=%s repo=%s url=%s\n", sessionID, prRepository, prURL)
	return nil
}

// gitCommitLister implements query.CommitLister by shelling out to git via
// exec.CommandContext.
type gitCommitLister struct {
	dir string
}

func (g gitCommitLister) FilesForCommit(ctx context.Context, commitHash string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "show", "--name-only", "--pretty=format:", commitHash)
	cmd.Dir = g.dir

	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git show %s: %w", commitHash, err)
	}

	var files []string
	for _, line := range strings.Split(out.String(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}
