package chunker

import (
	"regexp"
	"strings"
)

var (
	excessNewlines  = regexp.MustCompile(`\n{3,}`)
	inlineSpaceRuns = regexp.MustCompile(`[ \t\f\v]+`)
	spaceAroundLF   = regexp.MustCompile(` *\n *`)
)

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// CleanText normalizes line endings, collapses three or more newlines to a blank
// line, collapses runs of inline whitespace to one space and trims the result.
// Paragraph breaks survive so that fixed-size cuts can fall back to them.
func CleanText(text string) string {
	text = normalizeNewlines(text)
	text = inlineSpaceRuns.ReplaceAllString(text, " ")
	text = spaceAroundLF.ReplaceAllString(text, "\n")
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
