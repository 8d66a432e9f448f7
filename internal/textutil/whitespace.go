package textutil

import "strings"

// CollapseWhitespace replaces every run of whitespace (spaces, tabs,
// newlines) with a single space and trims the ends. Embedding input is
// prepared this way so that HTML-derived bodies don't waste the truncation
// window on blank lines.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
