// Package parser turns one JSONL transcript line into a typed RawEntry
//. It is a total function: a line that fails to decode
// produces a warning, never an aborted ingest.
package parser

import "time"

// EntryType is the closed set of kept transcript line classifications.
type EntryType string

const (
	EntryUser                EntryType = "user"
	EntryAssistant           EntryType = "assistant"
	EntrySummary             EntryType = "summary"
	EntryCompactBoundary      EntryType = "compact_boundary"
	EntryFileHistorySnapshot EntryType = "file_history_snapshot"
	EntryUnknown             EntryType = "unknown"
)

// noiseTypes are wire types the parser drops without emitting a RawEntry.
var noiseTypes = map[string]bool{
	"progress":          true,
	"queue-operation":   true,
	"system":            true,
	"turn_duration":     true,
	"stop_hook_summary": true,
}

// RawEntry is one kept transcript line, classified and content-extracted.
type RawEntry struct {
	LineIndex int
	EntryType EntryType
	Text      string
	// ToolSummary is the canonical "t1 | t2 | ..." tool rendering for
	// assistant entries that carried one or more tool_use blocks, without
	// the "[Tools] " prefix the turn builder adds; empty otherwise.
	ToolSummary string
	// ToolUses holds the structured form ToolSummary was rendered from, so
	// mention extraction doesn't need to re-parse the footer text.
	ToolUses []ToolUse
	// SnapshotFiles holds the raw (unnormalized) file paths from a
	// file_history_snapshot entry's trackedFileBackups.
	SnapshotFiles []string
	Timestamp     *time.Time
}

// ToolUse is one tool_use content block, reduced to the fields the closed
// per-tool selection in toolsummary.go cares about.
type ToolUse struct {
	Name   string
	Fields []ToolField
	// MentionPaths are the Fields (by name) that represent a file path this
	// tool touched, already selected for mention extraction.
	MentionPaths []string
}

// ToolField is one rendered key/value pair of a ToolUse, already truncated
// per the canonical rendering rules.
type ToolField struct {
	Key   string
	Value string
}

// PrLinkEvent is emitted for a top-level pr-link entry (no message envelope).
type PrLinkEvent struct {
	PRNumber     int
	PRURL        string
	PRRepository string
	Timestamp    time.Time
}

// ParseWarning records a line that failed to decode; ingestion continues.
type ParseWarning struct {
	LineIndex int
	Err       error
}
