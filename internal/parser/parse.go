package parser

import (
	"encoding/json"
	"fmt"
	"time"

	"mementor/internal/logging"
)

// wireLine is the raw shape of one JSONL transcript line. Fields not needed
// for classification are decoded lazily via RawMessage.
type wireLine struct {
	Type      string          `json:"type"`
	Message   *wireMessage    `json:"message"`
	Timestamp *time.Time      `json:"timestamp"`
	// pr-link fields (top-level, no message envelope)
	PRNumber     int    `json:"pr_number"`
	PRURL        string `json:"pr_url"`
	PRRepository string `json:"pr_repository"`
	// file_history_snapshot fields
	TrackedFileBackups map[string]json.RawMessage `json:"trackedFileBackups"`
}

// wireMessage is the generic envelope some lines wrap their real content in;
// its role is the effective entry type, resolved before classification.
type wireMessage struct {
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
}

// wireBlock is one content block inside a message's content array.
type wireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
}

// ParseLine decodes one JSONL transcript line at lineIndex. It never
// returns an error for a malformed line: instead ok is false and warn
// carries the decode failure for the caller to log. A line that decodes
// cleanly but resolves to a dropped or unknown type also returns ok=false,
// with no warning.
func ParseLine(raw []byte, lineIndex int) (entry RawEntry, ok bool, prLink *PrLinkEvent, warn *ParseWarning) {
	var line wireLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return RawEntry{}, false, nil, &ParseWarning{LineIndex: lineIndex, Err: fmt.Errorf("decoding line %d: %w", lineIndex, err)}
	}

	effectiveType := line.Type
	if line.Message != nil && line.Message.Role != "" {
		effectiveType = line.Message.Role
	}

	if noiseTypes[effectiveType] {
		return RawEntry{}, false, nil, nil
	}

	switch effectiveType {
	case "pr-link":
		return RawEntry{}, false, &PrLinkEvent{
			PRNumber:     line.PRNumber,
			PRURL:        line.PRURL,
			PRRepository: line.PRRepository,
			Timestamp:    timestampOrZero(line.Timestamp),
		}, nil

	case "user":
		text := extractText(line.Message)
		return RawEntry{
			LineIndex: lineIndex,
			EntryType: EntryUser,
			Text:      text,
			Timestamp: line.Timestamp,
		}, true, nil, nil

	case "assistant":
		text, toolUses := extractAssistant(line.Message)
		return RawEntry{
			LineIndex:   lineIndex,
			EntryType:   EntryAssistant,
			Text:        text,
			ToolSummary: RenderToolSummary(toolUses),
			ToolUses:    toolUses,
			Timestamp:   line.Timestamp,
		}, true, nil, nil

	case "summary":
		return RawEntry{
			LineIndex: lineIndex,
			EntryType: EntrySummary,
			Text:      extractText(line.Message),
			Timestamp: line.Timestamp,
		}, true, nil, nil

	case "compact_boundary":
		return RawEntry{
			LineIndex: lineIndex,
			EntryType: EntryCompactBoundary,
			Text:      extractText(line.Message),
			Timestamp: line.Timestamp,
		}, true, nil, nil

	case "file_history_snapshot":
		var files []string
		for path := range line.TrackedFileBackups {
			files = append(files, path)
		}
		return RawEntry{
			LineIndex:     lineIndex,
			EntryType:     EntryFileHistorySnapshot,
			SnapshotFiles: files,
			Timestamp:     line.Timestamp,
		}, true, nil, nil

	default:
		logging.ParserDebug("line %d: unknown type %q, dropping", lineIndex, effectiveType)
		return RawEntry{}, false, nil, nil
	}
}

func timestampOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// extractText concatenates the text blocks of a message, or returns its
// content verbatim when content is a plain JSON string rather than an array
// of blocks.
func extractText(msg *wireMessage) string {
	if msg == nil {
		return ""
	}
	if text, ok := plainString(msg.Content); ok {
		return text
	}
	blocks := decodeBlocks(msg.Content)
	var out string
	for _, b := range blocks {
		if b.Type == "text" {
			if out != "" {
				out += "\n\n"
			}
			out += b.Text
		}
	}
	return out
}

// extractAssistant concatenates text blocks and builds the ToolUse list from
// tool_use blocks, in source order.
func extractAssistant(msg *wireMessage) (string, []ToolUse) {
	if msg == nil {
		return "", nil
	}
	if text, ok := plainString(msg.Content); ok {
		return text, nil
	}
	blocks := decodeBlocks(msg.Content)
	var text string
	var uses []ToolUse
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if text != "" {
				text += "\n\n"
			}
			text += b.Text
		case "tool_use":
			uses = append(uses, buildToolUse(b.Name, b.Input))
		}
	}
	return text, uses
}

func plainString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func decodeBlocks(raw json.RawMessage) []wireBlock {
	if len(raw) == 0 {
		return nil
	}
	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	return blocks
}
