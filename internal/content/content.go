package content

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var policy = bluemonday.StrictPolicy()

// Sanitize strips all markup from the input string. Message bodies are
// plain text; anything tag-shaped in them is untrusted.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Preview produces a single-line plain-text rendition of message
// content suitable for alert bodies and conversation list previews:
// markup stripped, entities unescaped, whitespace collapsed, truncated
// on a rune boundary.
func Preview(input string, max int) string {
	s := html.UnescapeString(Sanitize(input))
	s = strings.Join(strings.Fields(s), " ")
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimRight(string(runes[:max]), " ") + "…"
}
