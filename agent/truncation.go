package agent

import "fmt"

// TruncationMode specifies how oversize tool output is cut.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// DefaultToolCharLimits caps the characters a tool result may contribute to
// context. The full output still travels on the event stream.
var DefaultToolCharLimits = map[string]int{
	"read_file":      50000,
	"run_command":    30000,
	"list_directory": 20000,
	"http_get":       30000,
	"write_file":     1000,
}

// Default truncation modes per tool.
var DefaultTruncationModes = map[string]TruncationMode{
	"read_file":      TruncateHeadTail,
	"run_command":    TruncateHeadTail,
	"http_get":       TruncateHeadTail,
	"list_directory": TruncateTail,
	"write_file":     TruncateTail,
}

const fallbackCharLimit = 30000

// TruncateOutput applies character-based truncation to output.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if len(output) <= maxChars {
		return output
	}

	removed := len(output) - maxChars
	switch mode {
	case TruncateTail:
		return fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed.]\n\n", removed) +
			output[len(output)-maxChars:]
	default:
		half := maxChars / 2
		return output[:half] +
			fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
				"Re-run the tool with more targeted parameters if you need specific parts.]\n\n", removed) +
			output[len(output)-half:]
	}
}

// TruncateToolOutput truncates output for the named tool, consulting the
// override map before the defaults.
func TruncateToolOutput(output, toolName string, overrides map[string]int) string {
	maxChars, ok := overrides[toolName]
	if !ok {
		maxChars, ok = DefaultToolCharLimits[toolName]
		if !ok {
			maxChars = fallbackCharLimit
		}
	}

	mode, ok := DefaultTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}

	return TruncateOutput(output, maxChars, mode)
}
