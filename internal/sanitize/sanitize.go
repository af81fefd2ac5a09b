// Package sanitize strips leaked reasoning-tag markup from text bound for the
// visible channel. Models occasionally emit <thinking> spans inline even when
// structured thinking is disabled; none of that may reach the client as text.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	// Complete <thinking>...</thinking> spans, possibly multi-line.
	completeSpan = regexp.MustCompile(`(?s)<thinking>.*?</thinking>`)
	// An opening tag with no closing tag: everything from the tag to the end
	// is reasoning that has not finished streaming yet.
	unclosedSpan = regexp.MustCompile(`(?s)<thinking>.*$`)
)

// Text removes reasoning-tag markup from s: complete spans, an unclosed
// trailing span, and any orphaned closing tags.
func Text(s string) string {
	if !strings.Contains(s, "thinking>") {
		return s
	}
	s = completeSpan.ReplaceAllString(s, "")
	s = unclosedSpan.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "</thinking>", "")
	return s
}
