package app

import "strings"

var sentenceEnds = []string{". ", "? ", "! "}

// GenerateTitle derives a session display title from the first user message.
//
// Precedence: a cleaned message short enough is used verbatim; otherwise it
// is cut at the first sentence terminator inside the cap; otherwise a fixed
// prefix plus an ellipsis marker, exactly maxLen characters long.
func GenerateTitle(firstMessage string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 100
	}
	cleaned := strings.Join(strings.Fields(firstMessage), " ")
	if cleaned == "" {
		return ""
	}
	runes := []rune(cleaned)
	if len(runes) <= maxLen {
		return cleaned
	}
	head := string(runes[:maxLen])
	cut := -1
	for _, end := range sentenceEnds {
		if i := strings.Index(head, end); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut >= 0 {
		// Keep the terminator, drop the trailing space.
		return head[:cut+1]
	}
	const ellipsis = "..."
	return string(runes[:maxLen-len(ellipsis)]) + ellipsis
}
