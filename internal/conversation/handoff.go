package conversation

import (
	"regexp"
	"strings"
)

// handoffPattern matches an explicit route marker such as
// [[route:diagnostic]] anywhere in a message.
var handoffPattern = regexp.MustCompile(`\[\[route:\s*([A-Za-z0-9_\-]+)\s*\]\]`)

// HandoffMarker renders the marker a handler embeds in its reply to force
// the next routing step to target.
func HandoffMarker(target string) string {
	return "[[route:" + strings.TrimSpace(target) + "]]"
}

// ParseHandoff extracts the first route marker from content.
func ParseHandoff(content string) (string, bool) {
	m := handoffPattern.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return m[1], true
}
