package ui

import (
	"regexp"
	"strings"
)

var (
	// Emoji and pictograph ranges that read poorly in a terminal.
	emojiPattern    = regexp.MustCompile(`[\x{1F300}-\x{1F6FF}]|[\x{1F900}-\x{1F9FF}]|[\x{2600}-\x{26FF}]|[\x{2700}-\x{27BF}]`)
	boldPattern     = regexp.MustCompile(`\*\*(.*?)\*\*`)
	emphasisPattern = regexp.MustCompile(`__(.*?)__`)
	markupPattern   = regexp.MustCompile("[*#`~]")
	spacePattern    = regexp.MustCompile(`\s+`)
)

// CleanSummary strips markdown markup and emoji from server-generated
// summary text and collapses it onto one line.
func CleanSummary(text string) string {
	text = emojiPattern.ReplaceAllString(text, "")
	text = boldPattern.ReplaceAllString(text, "$1")
	text = emphasisPattern.ReplaceAllString(text, "$1")
	text = markupPattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\n", " ")
	text = spacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
