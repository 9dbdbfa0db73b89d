package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLineUserEntry(t *testing.T) {
	raw := []byte(`{"type":"user","message":{"role":"user","content":"how do I fix the CI?"}}`)
	entry, ok, prLink, warn := ParseLine(raw, 0)
	require.True(t, ok)
	require.Nil(t, prLink)
	require.Nil(t, warn)
	require.Equal(t, EntryUser, entry.EntryType)
	require.Equal(t, "how do I fix the CI?", entry.Text)
}

func TestParseLineAssistantWithToolUseRendersCanonicalSummary(t *testing.T) {
	raw := []byte(`{"type":"assistant","message":{"role":"assistant","content":[
		{"type":"text","text":"I'll update the workflow."},
		{"type":"tool_use","name":"Edit","input":{"file_path":"/proj/.github/workflows/ci.yml"}}
	]}}`)
	entry, ok, prLink, warn := ParseLine(raw, 1)
	require.True(t, ok)
	require.Nil(t, prLink)
	require.Nil(t, warn)
	require.Equal(t, EntryAssistant, entry.EntryType)
	require.Equal(t, "I'll update the workflow.", entry.Text)
	require.Equal(t, "Edit(/proj/.github/workflows/ci.yml)", entry.ToolSummary)
	require.Len(t, entry.ToolUses, 1)
	require.Equal(t, []string{"/proj/.github/workflows/ci.yml"}, entry.ToolUses[0].MentionPaths)
}

func TestParseLineUnknownTypeIsDroppedSilently(t *testing.T) {
	raw := []byte(`{"type":"some-future-type"}`)
	entry, ok, prLink, warn := ParseLine(raw, 2)
	require.False(t, ok)
	require.Nil(t, prLink)
	require.Nil(t, warn)
	require.Equal(t, RawEntry{}, entry)
}

func TestParseLineNoiseTypesAreDropped(t *testing.T) {
	for _, noiseType := range []string{"progress", "queue-operation", "system", "turn_duration", "stop_hook_summary"} {
		raw := []byte(`{"type":"` + noiseType + `"}`)
		_, ok, prLink, warn := ParseLine(raw, 3)
		require.False(t, ok, "expected %s to be dropped", noiseType)
		require.Nil(t, prLink)
		require.Nil(t, warn)
	}
}

func TestParseLineMalformedJSONProducesWarningNotPanic(t *testing.T) {
	raw := []byte(`{not valid json`)
	entry, ok, prLink, warn := ParseLine(raw, 4)
	require.False(t, ok)
	require.Nil(t, prLink)
	require.NotNil(t, warn)
	require.Equal(t, 4, warn.LineIndex)
	require.Equal(t, RawEntry{}, entry)
}

func TestParseLinePrLinkHasNoMessageEnvelope(t *testing.T) {
	raw := []byte(`{"type":"pr-link","pr_number":42,"pr_url":"https://example.com/pr/42","pr_repository":"org/repo"}`)
	entry, ok, prLink, warn := ParseLine(raw, 5)
	require.False(t, ok)
	require.Nil(t, warn)
	require.Equal(t, RawEntry{}, entry)
	require.NotNil(t, prLink)
	require.Equal(t, 42, prLink.PRNumber)
	require.Equal(t, "org/repo", prLink.PRRepository)
}

func TestParseLineFileHistorySnapshotExtractsPaths(t *testing.T) {
	raw := []byte(`{"type":"file_history_snapshot","trackedFileBackups":{"src/main.go":{},"src/lib.go":{}}}`)
	entry, ok, prLink, warn := ParseLine(raw, 6)
	require.True(t, ok)
	require.Nil(t, prLink)
	require.Nil(t, warn)
	require.Equal(t, EntryFileHistorySnapshot, entry.EntryType)
	require.ElementsMatch(t, []string{"src/main.go", "src/lib.go"}, entry.SnapshotFiles)
}

func TestParseLineMultiFieldToolRendersQuotedKeyValue(t *testing.T) {
	raw := []byte(`{"type":"assistant","message":{"role":"assistant","content":[
		{"type":"tool_use","name":"Grep","input":{"pattern":"foo","path":"src"}}
	]}}`)
	entry, ok, _, _ := ParseLine(raw, 7)
	require.True(t, ok)
	require.Equal(t, `Grep(pattern="foo", path="src")`, entry.ToolSummary)
}

func TestParseLineUnrecognizedToolNameRendersEmptySummary(t *testing.T) {
	raw := []byte(`{"type":"assistant","message":{"role":"assistant","content":[
		{"type":"tool_use","name":"TodoWrite","input":{"todos":[]}}
	]}}`)
	entry, ok, _, _ := ParseLine(raw, 8)
	require.True(t, ok)
	require.Equal(t, "", entry.ToolSummary)
}

func TestParseLineEffectiveTypeFollowsMessageRoleOverTopLevelType(t *testing.T) {
	raw := []byte(`{"type":"summary","message":{"role":"assistant","content":"actually an assistant turn"}}`)
	entry, ok, _, _ := ParseLine(raw, 9)
	require.True(t, ok)
	require.Equal(t, EntryAssistant, entry.EntryType)
	require.Equal(t, "actually an assistant turn", entry.Text)
}
