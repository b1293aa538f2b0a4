package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

const maxDescribeLen = 80

// Describe returns a one-line summary of a tool invocation for display
// and approval prompts.
func Describe(name string, input json.RawMessage) string {
	if server, tool, ok := SplitRemote(name); ok {
		return fmt.Sprintf("Call %s on %s", tool, server)
	}
	field := func(path string) string {
		return clip(gjson.GetBytes(input, path).String())
	}
	switch name {
	case "read_file":
		return "Read " + field("path")
	case "write_to_file":
		return "Write " + field("path")
	case "replace_in_file":
		return "Edit " + field("path")
	case "list_files":
		p := field("path")
		if p == "" {
			p = "."
		}
		if gjson.GetBytes(input, "recursive").Bool() {
			return "List " + p + " recursively"
		}
		return "List " + p
	case "execute_command":
		return "Run `" + field("command") + "`"
	case "attempt_completion":
		return "Complete task"
	default:
		return "Use " + name
	}
}

func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxDescribeLen {
		return s[:maxDescribeLen-3] + "..."
	}
	return s
}
