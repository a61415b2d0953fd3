package splitters

import (
	"regexp"
	"strings"
	"unicode"
)

var blankLines = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)

// CleanText prepares extracted text for chunking: line endings become "\n",
// NUL and other control characters are dropped, trailing spaces are trimmed
// from every line and runs of three or more line breaks collapse to one
// blank line.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == '\uFEFF' || r == '\uFFFD' {
			return -1
		}
		return r
	}, text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	text = strings.Join(lines, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func isSpaceRune(r rune) bool {
	return unicode.IsSpace(r)
}
