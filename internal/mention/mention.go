// Package mention extracts FileMentions from a turn's tool uses,
// file-history snapshots and user @-mentions.
package mention

import (
	"regexp"
	"strings"

	"mementor/internal/parser"
)

// FileMention is one (file_path, tool_name) pair touched by a turn.
type FileMention struct {
	FilePath string
	ToolName string
}

// Normalize strips projectRoot, falling back to projectDir, from a raw
// path. Returns ("", false) when neither prefix applies — the path is
// "outside" and must be discarded by the caller.
func Normalize(rawPath, projectRoot, projectDir string) (string, bool) {
	rawPath = filepathToSlash(rawPath)
	for _, prefix := range []string{projectRoot, projectDir} {
		if prefix == "" {
			continue
		}
		prefix = filepathToSlash(prefix)
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		if strings.HasPrefix(rawPath, prefix) {
			return strings.TrimPrefix(rawPath, prefix), true
		}
	}
	return "", false
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// FromToolUses extracts FileMentions from the ToolUse.MentionPaths the
// parser already identified for each tool_use block in a turn.
func FromToolUses(uses []parser.ToolUse, projectRoot, projectDir string) []FileMention {
	var out []FileMention
	for _, u := range uses {
		for _, raw := range u.MentionPaths {
			path, ok := Normalize(raw, projectRoot, projectDir)
			if !ok {
				continue
			}
			out = append(out, FileMention{FilePath: path, ToolName: u.Name})
		}
	}
	return out
}

// FromSnapshot extracts FileMentions from a file_history_snapshot entry's
// tracked paths, under the synthetic tool name "snapshot".
func FromSnapshot(paths []string, projectRoot, projectDir string) []FileMention {
	var out []FileMention
	for _, raw := range paths {
		path, ok := Normalize(raw, projectRoot, projectDir)
		if !ok {
			continue
		}
		out = append(out, FileMention{FilePath: path, ToolName: "snapshot"})
	}
	return out
}

var atMentionPattern = regexp.MustCompile(`@([A-Za-z0-9_./-]+)`)

// FromUserText extracts @path at-mentions from raw user-turn text, under
// the synthetic tool name "mention".
func FromUserText(text, projectRoot, projectDir string) []FileMention {
	var out []FileMention
	for _, m := range atMentionPattern.FindAllStringSubmatch(text, -1) {
		path, ok := Normalize(m[1], projectRoot, projectDir)
		if !ok {
			// An at-mention with no matching project prefix is still a
			// relative path inside the project; keep it as-is rather than
			// discarding, since at-mentions are user-typed and rarely
			// absolute.
			path = m[1]
		}
		out = append(out, FileMention{FilePath: path, ToolName: "mention"})
	}
	return out
}

// Dedup removes exact-duplicate (file_path, tool_name) pairs, preserving
// first-seen order, so callers can insert with an OR-IGNORE unique
// constraint without relying on the database to silently drop repeats.
func Dedup(mentions []FileMention) []FileMention {
	seen := make(map[FileMention]bool, len(mentions))
	var out []FileMention
	for _, m := range mentions {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
