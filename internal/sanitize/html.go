package sanitize

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// StrictPolicy removes all HTML tags and attributes.
var StrictPolicy = bluemonday.StrictPolicy()

// Text strips markup and returns plain text. Entities bluemonday escapes
// are decoded again because output is always re-escaped by whatever
// template renders it; storing "&amp;" would show up literally in the app.
// Newlines and tabs survive, other control characters do not.
func Text(input string) string {
	stripped := html.UnescapeString(StrictPolicy.Sanitize(input))
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, stripped))
}

// Line is Text for single-line fields such as names and email subjects:
// any run of whitespace, including newlines, collapses to one space.
func Line(input string) string {
	return strings.Join(strings.Fields(Text(input)), " ")
}
