package canvasai

import (
	"regexp"
	"strings"
)

// fenceRegexp matches a markdown code fence. An opening fence may carry a
// language tag, consumed when it is "json" or when it ends the line.
var fenceRegexp = regexp.MustCompile("(?i)```(?:json\\b|[\\w+.-]*[ \\t]*(?:\\r?\\n|$))?")

// Sanitize strips every markdown code fence marker from raw model output and
// trims surrounding whitespace. Text without fences is only trimmed.
func Sanitize(raw string) string {
	text := raw
	for strings.Contains(text, "```") {
		next := fenceRegexp.ReplaceAllString(text, "")
		if next == text {
			break
		}
		text = next
	}
	return strings.TrimSpace(text)
}
