package history

import (
	"strings"
	"unicode/utf8"
)

const (
	titleMaxWords = 6
	titleMaxRunes = 50
	titleEllipsis = "..."
)

// DeriveTitle builds a session title from the first user message: the first
// six whitespace-delimited words joined by single spaces, hard-cut at 50
// characters. "..." is appended whenever words were dropped or the cut applied.
func DeriveTitle(content string) string {
	words := strings.Fields(content)
	truncated := len(words) > titleMaxWords
	if truncated {
		words = words[:titleMaxWords]
	}

	title := strings.Join(words, " ")
	if utf8.RuneCountInString(title) > titleMaxRunes {
		title = string([]rune(title)[:titleMaxRunes])
		truncated = true
	}
	if truncated {
		title += titleEllipsis
	}
	return title
}
