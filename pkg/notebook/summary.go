package notebook

import (
	"fmt"
	"sort"
	"strings"
)

// Summarize reduces an output to the short printable form shown to callers.
// Every surface that reports outputs goes through this function.
func Summarize(o Output) string {
	switch o.OutputType {
	case OutputStream:
		return o.Text
	case OutputExecuteResult, OutputDisplayData:
		if text, ok := o.Data["text/plain"].(string); ok {
			return text
		}
		return fmt.Sprintf("[%s: %s]", o.OutputType, strings.Join(mimeTypes(o.Data), ", "))
	case OutputError:
		return strings.Join(o.Traceback, "\n")
	default:
		return fmt.Sprintf("[unknown output: %s]", o.OutputType)
	}
}

func mimeTypes(data map[string]any) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
