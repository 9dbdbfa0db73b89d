// Package turn groups a session's parsed entries into forward-context turns
//: User[n] + Assistant[n] + User[n+1].
package turn

import (
	"strings"

	"mementor/internal/mention"
	"mementor/internal/parser"
)

// Turn is one forward-context grouping, ready for chunking and storage.
type Turn struct {
	StartLine   int
	EndLine     int
	Provisional bool
	FullText    string
	AgentID     string
	IsSidechain bool
	ToolSummary string
}

// Build groups entries into turns. entries must be in ascending line_index
// order and already filtered to one session+agent stream. agentID and
// isSidechain are mirrored onto every turn produced from this stream.
//
// The last turn is provisional when the batch ends before its trailing user
// entry arrives; callers persist provisionalTurnStart from the returned
// Turn's StartLine so the next ingest can rebuild it in place.
//
// projectRoot and projectDir are used to normalize tool-use mention paths
// the same way internal/mention does, so the "[Tools]" footer rendered into
// FullText matches the project-root-relative paths stored as file_mentions.
func Build(entries []parser.RawEntry, agentID string, isSidechain bool, projectRoot, projectDir string) []Turn {
	var turns []Turn

	i := 0
	for i < len(entries) {
		if entries[i].EntryType != parser.EntryUser {
			i++
			continue
		}

		userStart := entries[i]
		var assistant *parser.RawEntry
		trailingIdx := -1

		j := i + 1
		for j < len(entries) {
			switch entries[j].EntryType {
			case parser.EntryAssistant:
				if assistant == nil {
					assistant = &entries[j]
					j++
					continue
				}
				// A second assistant entry before any trailing user closes
				// this turn; j is left pointing at it so the outer loop
				// resumes there (it is not a user entry, so it is simply
				// skipped as a non-boundary line on the next iteration).
			case parser.EntrySummary, parser.EntryCompactBoundary, parser.EntryFileHistorySnapshot:
				j++
				continue
			case parser.EntryUser:
				trailingIdx = j
			}
			break
		}

		var trailingUser *parser.RawEntry
		endLine := userStart.LineIndex
		if assistant != nil {
			endLine = assistant.LineIndex
		}
		if trailingIdx >= 0 {
			trailingUser = &entries[trailingIdx]
			endLine = trailingUser.LineIndex
		}
		// Provisional only when the batch truly ran out before a trailing
		// user entry arrived, not when an unanchored assistant entry cut
		// the scan short.
		provisional := trailingIdx < 0 && j >= len(entries)

		// A bare anchor with nothing at all following it (no assistant, no
		// trailing user — it is simply the last kept entry in the batch)
		// is not yet a turn: it is the same entry that closed the previous
		// turn as its trailing user, reused as the next turn's anchor, and
		// materializing it here would duplicate that trailing user's text
		// as a spurious second turn. It is left unmaterialized; the next
		// ingest rediscovers it once real content follows.
		hasContent := assistant != nil || trailingIdx >= 0
		if hasContent {
			t := Turn{
				StartLine:   userStart.LineIndex,
				EndLine:     endLine,
				Provisional: provisional,
				AgentID:     agentID,
				IsSidechain: isSidechain,
			}
			if assistant != nil {
				t.ToolSummary = assistant.ToolSummary
			}
			t.FullText = assembleFullText(&userStart, assistant, trailingUser, projectRoot, projectDir)
			if t.FullText != "" {
				turns = append(turns, t)
			}
		}

		if trailingIdx >= 0 {
			i = trailingIdx
		} else {
			i = j
		}
	}

	return turns
}

// assembleFullText renders "[User] ...\n\n[Assistant] ...\n\n[Tools]
// t1 | t2 | ...\n\n[User] ...", joining only the parts that exist. A turn
// with no non-empty part renders as "" and is dropped by Build.
func assembleFullText(user *parser.RawEntry, assistant, trailingUser *parser.RawEntry, projectRoot, projectDir string) string {
	var parts []string
	if user != nil && user.Text != "" {
		parts = append(parts, "[User] "+user.Text)
	}
	if assistant != nil && assistant.Text != "" {
		parts = append(parts, "[Assistant] "+assistant.Text)
	}
	if assistant != nil {
		if summary := normalizedToolSummary(assistant.ToolUses, projectRoot, projectDir); summary != "" {
			parts = append(parts, "[Tools] "+summary)
		}
	}
	if trailingUser != nil && trailingUser.Text != "" {
		parts = append(parts, "[User] "+trailingUser.Text)
	}
	return strings.Join(parts, "\n\n")
}

// normalizedToolSummary re-renders uses' canonical "[Tools]" text with every
// mention-field path normalized against projectRoot/projectDir, the same way
// mention.FromToolUses resolves file_mentions rows. A path outside the
// project keeps its raw form, matching FromUserText's fallback for
// unanchored paths.
func normalizedToolSummary(uses []parser.ToolUse, projectRoot, projectDir string) string {
	if len(uses) == 0 {
		return ""
	}
	normalized := make([]parser.ToolUse, len(uses))
	for i, u := range uses {
		mentionPaths := make(map[string]bool, len(u.MentionPaths))
		for _, p := range u.MentionPaths {
			mentionPaths[p] = true
		}

		fields := make([]parser.ToolField, len(u.Fields))
		copy(fields, u.Fields)
		for j, f := range fields {
			if !mentionPaths[f.Value] {
				continue
			}
			if norm, ok := mention.Normalize(f.Value, projectRoot, projectDir); ok {
				fields[j].Value = norm
			}
		}
		normalized[i] = parser.ToolUse{Name: u.Name, Fields: fields, MentionPaths: u.MentionPaths}
	}
	return parser.RenderToolSummary(normalized)
}
