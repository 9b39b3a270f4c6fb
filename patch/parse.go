// Package patch applies unified-diff hunks to a single file.
//
// Hunks are applied in the order they appear, each anchored at its declared
// old start line corrected by the drift earlier hunks introduced. Context and
// deletion lines must match the file exactly, ignoring line terminators. Any
// mismatch aborts the whole patch before anything is written.
package patch

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrEmptyPatch is returned when the patch text is blank after fence
	// stripping.
	ErrEmptyPatch = errors.New("'patch' is required")
	// ErrNoHunks is returned when the patch has no @@ headers.
	ErrNoHunks = errors.New("no hunks found in patch")
	// ErrMultiFile is returned when the patch carries more than one
	// ---/+++ file header pair.
	ErrMultiFile = errors.New("patch touches more than one file; split it into one call per file")
	// ErrBadHunkHeader is returned when an @@ header carries a line number
	// or count that does not fit in an int.
	ErrBadHunkHeader = errors.New("invalid hunk header")
)

var hunkHeader = regexp.MustCompile(`^@@\s*-(\d+)(?:,(\d+))?\s+\+(\d+)(?:,(\d+))?\s*@@`)

// OpKind is the kind of a hunk line.
type OpKind int

const (
	OpContext OpKind = iota
	OpAdd
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpContext:
		return "context"
	case OpAdd:
		return "add"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is one line of a hunk with its prefix removed.
type Op struct {
	Kind OpKind
	Text string
}

// Hunk is one @@ block.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Ops      []Op
}

// Parse strips an enclosing markdown fence and parses the hunks in
// patchText.
func Parse(patchText string) ([]Hunk, error) {
	text := StripFences(patchText)
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyPatch
	}

	var hunks []Hunk
	var current *Hunk
	headers := 0
	prevOld := false

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")

		switch {
		case strings.HasPrefix(line, "---"):
			prevOld = true
			continue
		case strings.HasPrefix(line, "+++"):
			if prevOld {
				headers++
				if headers > 1 {
					return nil, ErrMultiFile
				}
			}
			prevOld = false
			continue
		case strings.HasPrefix(line, `\ No newline at end of file`):
			prevOld = false
			continue
		}
		prevOld = false

		if m := hunkHeader.FindStringSubmatch(line); m != nil {
			var nums [4]int
			for i := range nums {
				n, err := atoi(m[i+1], 1)
				if err != nil {
					return nil, fmt.Errorf("%w: %q", ErrBadHunkHeader, line)
				}
				nums[i] = n
			}
			hunks = append(hunks, Hunk{
				OldStart: nums[0],
				OldCount: nums[1],
				NewStart: nums[2],
				NewCount: nums[3],
			})
			current = &hunks[len(hunks)-1]
			continue
		}
		if current == nil {
			continue
		}

		if line == "" {
			current.Ops = append(current.Ops, Op{Kind: OpContext})
			continue
		}
		switch line[0] {
		case ' ':
			current.Ops = append(current.Ops, Op{Kind: OpContext, Text: line[1:]})
		case '+':
			current.Ops = append(current.Ops, Op{Kind: OpAdd, Text: line[1:]})
		case '-':
			current.Ops = append(current.Ops, Op{Kind: OpDelete, Text: line[1:]})
		}
	}

	if len(hunks) == 0 {
		return nil, ErrNoHunks
	}
	return hunks, nil
}

// StripFences removes a leading ``` line and a trailing ``` line, along with
// blank lines around the patch.
func StripFences(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > 0 && strings.HasPrefix(strings.TrimLeft(lines[0], " \t"), "```") {
		lines = lines[1:]
	}
	if n := len(lines); n > 0 && strings.HasSuffix(strings.TrimRight(lines[n-1], " \t\r"), "```") {
		lines = lines[:n-1]
	}
	return strings.Trim(strings.Join(lines, "\n"), "\r\n")
}

// atoi parses an optional header number; an absent one is fallback.
func atoi(s string, fallback int) (int, error) {
	if s == "" {
		return fallback, nil
	}
	return strconv.Atoi(s)
}
