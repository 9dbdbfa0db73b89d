package parser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// toolFieldSpec describes which input fields a tool_use block contributes to
// its canonical rendering, and which of those are file-mention candidates.
// The tool name list and field selection are closed: any tool not listed
// here renders an empty summary (TodoWrite, ExitPlanMode/Plan-mode,
// AskUserQuestion, and the Task*-control-plane tools are deliberately inert).
type toolFieldSpec struct {
	fields  []string
	mention map[string]bool
}

var toolSpecs = map[string]toolFieldSpec{
	"Read":         {fields: []string{"file_path"}, mention: map[string]bool{"file_path": true}},
	"Edit":         {fields: []string{"file_path"}, mention: map[string]bool{"file_path": true}},
	"Write":        {fields: []string{"file_path", "content"}, mention: map[string]bool{"file_path": true}},
	"NotebookEdit": {fields: []string{"notebook_path"}, mention: map[string]bool{"notebook_path": true}},
	"Grep":         {fields: []string{"pattern", "path", "glob"}, mention: map[string]bool{"path": true}},
	"Glob":         {fields: []string{"pattern", "path"}, mention: map[string]bool{"path": true}},
	"Bash":         {fields: []string{"command"}},
	"Task":         {fields: []string{"subagent_type", "description"}},
	"Skill":        {fields: []string{"command"}},
	"WebFetch":     {fields: []string{"url"}},
	"WebSearch":    {fields: []string{"query"}},
}

const fieldTruncateLen = 80

// truncateField applies the §4.D truncation rules: first line only, 80
// UTF-8-safe runes, never splitting a codepoint.
func truncateField(value string) string {
	if idx := strings.IndexByte(value, '\n'); idx >= 0 {
		value = value[:idx]
	}
	runes := []rune(value)
	if len(runes) > fieldTruncateLen {
		runes = runes[:fieldTruncateLen]
	}
	return string(runes)
}

// escapeQuotes escapes internal double-quotes before a value is wrapped in
// quotes for rendering.
func escapeQuotes(value string) string {
	return strings.ReplaceAll(value, `"`, `\"`)
}

// buildToolUse renders one tool_use block into its canonical ToolUse form.
// Tools outside the closed list (or with no input object) produce a
// ToolUse with no fields, which renders as an empty summary contribution.
func buildToolUse(name string, input json.RawMessage) ToolUse {
	spec, known := toolSpecs[name]
	if !known || len(input) == 0 {
		return ToolUse{Name: name}
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(input, &raw); err != nil {
		return ToolUse{Name: name}
	}

	use := ToolUse{Name: name}
	for _, key := range spec.fields {
		v, ok := raw[key]
		if !ok {
			continue
		}
		s := fmt.Sprintf("%v", v)
		s = truncateField(s)
		use.Fields = append(use.Fields, ToolField{Key: key, Value: s})
		if spec.mention[key] {
			use.MentionPaths = append(use.MentionPaths, s)
		}
	}
	return use
}

// RenderToolUse formats one ToolUse per §4.D: a single field renders as
// Name(value); multiple fields render as Name(key="value", key2="value2").
// Exported so the Turn Builder can re-render a tool_use after substituting
// normalized mention paths into its Fields.
func RenderToolUse(u ToolUse) string {
	if len(u.Fields) == 0 {
		return ""
	}
	if len(u.Fields) == 1 {
		return fmt.Sprintf("%s(%s)", u.Name, u.Fields[0].Value)
	}
	parts := make([]string, len(u.Fields))
	for i, f := range u.Fields {
		parts[i] = fmt.Sprintf(`%s="%s"`, f.Key, escapeQuotes(f.Value))
	}
	return fmt.Sprintf("%s(%s)", u.Name, strings.Join(parts, ", "))
}

// RenderToolSummary joins each tool_use's rendering with " | ", per the
// "[Tools] t1 | t2 | ..." footer format the Turn Builder appends.
func RenderToolSummary(uses []ToolUse) string {
	var rendered []string
	for _, u := range uses {
		if s := RenderToolUse(u); s != "" {
			rendered = append(rendered, s)
		}
	}
	if len(rendered) == 0 {
		return ""
	}
	return strings.Join(rendered, " | ")
}
