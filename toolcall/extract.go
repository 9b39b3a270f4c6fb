// Package toolcall extracts tool invocation requests from free-form model
// replies.
//
// A reply asks for a tool by embedding a JSON object with a "tool" key and an
// optional "args" object, normally inside a markdown fence labeled json:
//
//	```json
//	{"tool": "read_file", "args": {"path": "main.go"}}
//	```
//
// Fenced calls win. Only when no fenced block yields a call is the whole reply
// scanned for bare JSON objects, fence markers included, so a fenced block
// that is malformed as a fence but holds a valid object is still recovered.
package toolcall

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const fenceOpen = "```json"
const fenceClose = "```"

// Call is one requested tool invocation.
type Call struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Args is the decoded "args" object. It is empty when "args" is absent or
	// null, and nil when "args" is present but not an object.
	Args    map[string]any  `json:"args"`
	RawArgs json.RawMessage `json:"-"`
}

// Extract returns the tool calls in text, in order of appearance. Duplicates
// are kept. Malformed JSON is skipped silently.
func Extract(text string) []Call {
	if calls := ExtractFenced(text); len(calls) > 0 {
		return calls
	}
	return ScanRaw(text)
}

// ExtractFenced returns calls found in ```json fenced blocks. A block counts
// only if its body is exactly one JSON object followed by the closing fence.
func ExtractFenced(text string) []Call {
	var calls []Call
	pos := 0
	for {
		i := strings.Index(text[pos:], fenceOpen)
		if i < 0 {
			return calls
		}
		start := pos + i + len(fenceOpen)
		pos = start

		body := skipSpace(text, start)
		if body >= len(text) || text[body] != '{' {
			continue
		}
		raw, n, ok := decodeValue(text[body:])
		if !ok {
			continue
		}
		after := skipSpace(text, body+n)
		if !strings.HasPrefix(text[after:], fenceClose) {
			continue
		}
		if call, ok := callFromJSON(raw); ok {
			calls = append(calls, call)
		}
		pos = after + len(fenceClose)
	}
}

// ScanRaw walks text left to right decoding one JSON value at a time. A
// successful decode skips the whole value; a failed one advances a single
// character.
func ScanRaw(text string) []Call {
	var calls []Call
	for off := 0; off < len(text); {
		if !canStartValue(text[off]) {
			off += runeLen(text, off)
			continue
		}
		raw, n, ok := decodeValue(text[off:])
		if !ok || n == 0 {
			off += runeLen(text, off)
			continue
		}
		off += n
		if call, ok := callFromJSON(raw); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

// decodeValue decodes exactly one JSON value at the start of s and reports how
// many bytes it consumed.
func decodeValue(s string) (json.RawMessage, int, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, 0, false
	}
	return raw, int(dec.InputOffset()), true
}

// callFromJSON turns a decoded value into a Call if it is an object with a
// "tool" key.
func callFromJSON(raw json.RawMessage) (Call, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Call{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Call{}, false
	}
	tool, ok := fields["tool"]
	if !ok {
		return Call{}, false
	}

	call := Call{
		ID:   "call_" + uuid.New().String()[:8],
		Name: toolName(tool),
	}

	rawArgs, ok := fields["args"]
	switch {
	case !ok || string(bytes.TrimSpace(rawArgs)) == "null":
		call.Args = map[string]any{}
		call.RawArgs = json.RawMessage("{}")
	default:
		call.RawArgs = rawArgs
		var args map[string]any
		if json.Unmarshal(rawArgs, &args) == nil && args != nil {
			call.Args = args
		}
	}
	return call, true
}

// toolName returns a string tool value verbatim; any other JSON value is
// kept as its JSON text so that registry lookup fails visibly.
func toolName(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

func canStartValue(c byte) bool {
	switch c {
	case '{', '[', '"', '-', 't', 'f', 'n':
		return true
	}
	return c >= '0' && c <= '9'
}

func skipSpace(s string, i int) int {
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			i++
		default:
			return i
		}
	}
	return i
}

func runeLen(s string, i int) int {
	_, size := utf8.DecodeRuneInString(s[i:])
	if size < 1 {
		return 1
	}
	return size
}
