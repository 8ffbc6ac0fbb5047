// Package comment normalizes the free-text comment attached to a report.
package comment

import "strings"

// MaxLines is how many non-empty lines a stored comment may have.
const MaxLines = 2

// Normalize returns nil for a missing or blank comment. Otherwise it trims
// every line, drops the empty ones and keeps the first MaxLines, joined by
// "\n". Extra lines are cut, not rejected.
func Normalize(raw *string) *string {
	if raw == nil {
		return nil
	}
	stripped := strings.TrimSpace(*raw)
	if stripped == "" {
		return nil
	}

	kept := make([]string, 0, MaxLines)
	for _, line := range strings.FieldsFunc(stripped, isLineBreak) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kept = append(kept, line)
		if len(kept) == MaxLines {
			break
		}
	}

	out := strings.Join(kept, "\n")
	return &out
}

// isLineBreak matches every rune that starts a new line when the text is
// displayed: \n, \r (so \r\n too), \v, \f, the file/group/record
// separators, NEL and the Unicode line and paragraph separators.
func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
		return true
	}
	return false
}

// Lines counts the lines of a comment, splitting on every line break
// Normalize recognises; \r\n is one break. nil has zero.
func Lines(s *string) int {
	if s == nil || *s == "" {
		return 0
	}
	n := 1
	prev := rune(0)
	for _, r := range *s {
		if isLineBreak(r) && !(prev == '\r' && r == '\n') {
			n++
		}
		prev = r
	}
	return n
}
