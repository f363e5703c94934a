package llm

import (
	"strings"
)

// GroundingStart and GroundingEnd delimit lesson material embedded in a
// prompt. TruncateParagraphs shortens the lines between them for logs.
const (
	GroundingStart = "<lesson content>"
	GroundingEnd   = "</lesson content>"
)

// WordWrap wraps text at the specified width.
func WordWrap(text string, width int) string {
	if width <= 0 {
		return text
	}

	var result strings.Builder
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if i > 0 {
			result.WriteString("\n")
		}

		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}

		currentLineLength := 0
		for j, word := range words {
			if j > 0 {
				if currentLineLength+len(word)+1 > width {
					result.WriteString("\n")
					currentLineLength = 0
				} else {
					result.WriteString(" ")
					currentLineLength++
				}
			}
			result.WriteString(word)
			currentLineLength += len(word)
		}
	}

	return result.String()
}

// TruncateParagraphs cuts lines inside grounding blocks to maxLen runes and
// drops their empty lines. Used when logging prompts.
func TruncateParagraphs(text string, maxLen int) string {
	if text == "" {
		return ""
	}

	var result []string
	inBlock := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.Contains(trimmed, GroundingStart):
			inBlock = true
			result = append(result, line)
			continue
		case strings.Contains(trimmed, GroundingEnd):
			inBlock = false
			result = append(result, line)
			continue
		}

		if !inBlock {
			result = append(result, line)
			continue
		}
		if trimmed == "" {
			continue
		}
		if runes := []rune(trimmed); len(runes) > maxLen {
			result = append(result, string(runes[:maxLen])+"...")
		} else {
			result = append(result, trimmed)
		}
	}
	return strings.Join(result, "\n")
}
