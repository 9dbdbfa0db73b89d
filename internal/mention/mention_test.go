package mention

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mementor/internal/parser"
)

func TestNormalizeStripsProjectRoot(t *testing.T) {
	path, ok := Normalize("/proj/.github/workflows/ci.yml", "/proj", "")
	require.True(t, ok)
	require.Equal(t, ".github/workflows/ci.yml", path)
}

func TestNormalizeFallsBackToProjectDir(t *testing.T) {
	path, ok := Normalize("/other/src/main.go", "/proj", "/other")
	require.True(t, ok)
	require.Equal(t, "src/main.go", path)
}

func TestNormalizeDiscardsOutsidePaths(t *testing.T) {
	_, ok := Normalize("/tmp/scratch.txt", "/proj", "/other")
	require.False(t, ok)
}

func TestFromToolUsesBuildsMentions(t *testing.T) {
	uses := []parser.ToolUse{
		{Name: "Edit", MentionPaths: []string{"/proj/src/main.go"}},
		{Name: "Bash"}, // no mention paths
	}
	mentions := FromToolUses(uses, "/proj", "")
	require.Equal(t, []FileMention{{FilePath: "src/main.go", ToolName: "Edit"}}, mentions)
}

func TestFromSnapshotUsesSynthethicToolName(t *testing.T) {
	mentions := FromSnapshot([]string{"/proj/a.go", "/outside/b.go"}, "/proj", "")
	require.Equal(t, []FileMention{{FilePath: "a.go", ToolName: "snapshot"}}, mentions)
}

func TestFromUserTextExtractsAtMentions(t *testing.T) {
	mentions := FromUserText("look at @src/main.go and @README.md please", "/proj", "")
	require.ElementsMatch(t, []FileMention{
		{FilePath: "src/main.go", ToolName: "mention"},
		{FilePath: "README.md", ToolName: "mention"},
	}, mentions)
}

func TestDedupRemovesExactDuplicates(t *testing.T) {
	in := []FileMention{
		{FilePath: "a.go", ToolName: "Edit"},
		{FilePath: "a.go", ToolName: "Edit"},
		{FilePath: "a.go", ToolName: "Read"},
	}
	out := Dedup(in)
	require.Len(t, out, 2)
}
