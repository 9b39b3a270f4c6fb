package agentloop

import (
	"fmt"
	"strings"
)

// Head and tail sizes kept by TruncateText, in characters.
const (
	truncateHeadChars = 6000
	truncateTailChars = 1500

	truncationMarker = "[truncated: original length "

	// truncationOverhead bounds what TruncateText adds beyond maxChars: the
	// marker line with two 20-digit counts and the "\n...\n" separator.
	truncationOverhead = len(truncationMarker) + len(" chars, omitted  chars]\n") + 2*20 + len("\n...\n")
)

// TruncateText shortens text to a head and tail around an omission marker
// once it exceeds maxChars characters. The head is the first
// min(6000, maxChars) characters and the tail the last
// min(1500, maxChars-head). Text within budget is returned unchanged.
func TruncateText(text string, maxChars int) string {
	if maxChars < 0 {
		maxChars = 0
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}

	head := min(truncateHeadChars, maxChars)
	tail := min(truncateTailChars, maxChars-head)
	omitted := len(runes) - head - tail

	var sb strings.Builder
	fmt.Fprintf(&sb, truncationMarker+"%d chars, omitted %d chars]\n", len(runes), omitted)
	sb.WriteString(string(runes[:head]))
	sb.WriteString("\n...\n")
	sb.WriteString(string(runes[len(runes)-tail:]))
	return sb.String()
}

// TruncateLines keeps the first and last lines of output around an omission
// note once it has more than maxLines lines. Used for event previews.
func TruncateLines(output string, maxLines int) string {
	if maxLines <= 0 {
		return output
	}
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}
