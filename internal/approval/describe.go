package approval

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zulandar/trestle/internal/format"
)

// Preview limits for tool inputs shown in approval embeds.
const (
	commandPreviewLen = 500
	editPreviewLen    = 100
	taskPreviewLen    = 200
	genericPreviewLen = 500
)

// Describe renders a human-readable summary of a tool request, keyed by
// tool kind with a generic structured fallback.
func Describe(toolName string, input map[string]interface{}) string {
	switch toolName {
	case "Bash":
		var b strings.Builder
		if desc := str(input, "description"); desc != "" {
			fmt.Fprintf(&b, "%s\n", desc)
		}
		fmt.Fprintf(&b, "```bash\n%s\n```", format.Truncate(str(input, "command"), commandPreviewLen))
		return b.String()

	case "Write":
		content := str(input, "content")
		return fmt.Sprintf("Write to `%s` (%d bytes)", str(input, "file_path"), len(content))

	case "Edit":
		return fmt.Sprintf("Edit `%s`\nReplace:\n```\n%s\n```\nWith:\n```\n%s\n```",
			str(input, "file_path"),
			format.Truncate(str(input, "old_string"), editPreviewLen),
			format.Truncate(str(input, "new_string"), editPreviewLen))

	case "Task":
		return fmt.Sprintf("Delegate sub-task: %s", format.Truncate(str(input, "description"), taskPreviewLen))

	default:
		data, err := json.MarshalIndent(input, "", "  ")
		if err != nil {
			return fmt.Sprintf("Tool `%s` (input not displayable)", toolName)
		}
		return fmt.Sprintf("```json\n%s\n```", format.Truncate(string(data), genericPreviewLen))
	}
}

// str extracts a string field from a tool input map, "" if absent or
// not a string.
func str(input map[string]interface{}, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}
