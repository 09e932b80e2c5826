package subtitle

import (
	"regexp"
	"strings"
)

var timestampPrefix = regexp.MustCompile(`^\[\d{1,2}:\d{2}(?::\d{2})?\]\s*`)

// StripTimestamps removes the leading "[MM:SS]" marker from every line.
// Batch exports drop timestamps to keep the combined file readable.
func StripTimestamps(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		stripped := timestampPrefix.ReplaceAllString(line, "")
		if strings.TrimSpace(stripped) == "" {
			continue
		}
		out = append(out, stripped)
	}
	return strings.Join(out, "\n")
}
