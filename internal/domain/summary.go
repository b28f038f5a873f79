package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultSummaryMaxRunes bounds Thread.LastText.
const DefaultSummaryMaxRunes = 140

// SummaryText derives the inbox preview for a message.
func SummaryText(text string, attachmentCount, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultSummaryMaxRunes
	}
	text = strings.TrimSpace(text)
	if text != "" {
		return truncateRunes(text, maxRunes)
	}
	switch {
	case attachmentCount == 1:
		return "📎 1 attachment"
	case attachmentCount > 1:
		return fmt.Sprintf("📎 %d attachments", attachmentCount)
	}
	return ""
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
