package patch

import (
	"bytes"
	"fmt"
	"strings"
)

// ApplyError describes why a hunk did not match the file.
type ApplyError struct {
	Line     int // 1-indexed
	Expected string
	Found    string
	Reason   string
}

func (e *ApplyError) Error() string {
	if e.Found == "" && e.Expected == "" {
		return e.Reason + "."
	}
	return fmt.Sprintf("%s.\nExpected: %q\nFound: %q", e.Reason, e.Expected, e.Found)
}

// DetectNewline reports the line terminator used by content: CRLF if any
// "\r\n" occurs, otherwise LF.
func DetectNewline(content []byte) string {
	if bytes.Contains(content, []byte("\r\n")) {
		return "\r\n"
	}
	return "\n"
}

// SplitLines splits content into lines that keep their terminators. A final
// line without a terminator is kept as is.
func SplitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	s := string(content)
	lines := make([]string, 0, strings.Count(s, "\n")+1)
	for len(s) > 0 {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			lines = append(lines, s)
			break
		}
		lines = append(lines, s[:i+1])
		s = s[i+1:]
	}
	return lines
}

// Apply applies hunks to content and returns the new content. content is not
// modified. On error nothing is returned.
func Apply(content []byte, hunks []Hunk) ([]byte, error) {
	newline := "\n"
	if len(content) > 0 {
		newline = DetectNewline(content)
	}
	lines := SplitLines(content)

	offset := 0
	for _, h := range hunks {
		start := max(0, h.OldStart-1+offset)
		cursor := start
		chunk := make([]string, 0, len(h.Ops))

		for _, op := range h.Ops {
			if op.Kind == OpAdd {
				chunk = append(chunk, op.Text+newline)
				continue
			}
			if cursor >= len(lines) {
				return nil, &ApplyError{
					Line:   cursor + 1,
					Reason: fmt.Sprintf("file is shorter than expected at line %d", cursor+1),
				}
			}
			current := lines[cursor]
			if normalize(current) != normalize(op.Text) {
				return nil, &ApplyError{
					Line:     cursor + 1,
					Expected: op.Text,
					Found:    normalize(current),
					Reason:   fmt.Sprintf("context mismatch at line %d", cursor+1),
				}
			}
			if op.Kind == OpContext {
				chunk = append(chunk, current)
			}
			cursor++
		}

		// A pure-addition hunk may point past the end of the file.
		if start > len(lines) {
			start = len(lines)
			cursor = start
		}
		replaced := make([]string, 0, len(lines)-(cursor-start)+len(chunk))
		replaced = append(replaced, lines[:start]...)
		replaced = append(replaced, chunk...)
		replaced = append(replaced, lines[cursor:]...)
		lines = replaced

		offset += len(chunk) - (cursor - start)
	}

	return join(lines, newline), nil
}

// ApplyText parses patchText and applies it to content.
func ApplyText(content []byte, patchText string) ([]byte, error) {
	hunks, err := Parse(patchText)
	if err != nil {
		return nil, err
	}
	return Apply(content, hunks)
}

// join concatenates lines, terminating any line that lost its terminator but
// is no longer the last one.
func join(lines []string, newline string) []byte {
	var buf bytes.Buffer
	for i, line := range lines {
		buf.WriteString(line)
		if i < len(lines)-1 && !strings.HasSuffix(line, "\n") {
			buf.WriteString(newline)
		}
	}
	return buf.Bytes()
}

func normalize(s string) string {
	return strings.TrimRight(s, "\r\n")
}
