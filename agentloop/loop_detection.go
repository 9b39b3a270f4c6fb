package agentloop

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/martinemde/codeloop/toolcall"
)

// CallSignature computes a deterministic signature for a tool call: the
// name plus a hash of its canonically encoded arguments.
func CallSignature(call toolcall.Call) string {
	var data []byte
	if call.Args != nil {
		// Map keys marshal sorted, so equal arguments hash equally
		// regardless of the order the model wrote them in.
		data, _ = json.Marshal(call.Args)
	} else {
		data = call.RawArgs
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%s:%x", call.Name, h[:8])
}

// LoopDetector remembers recent call signatures and reports when the last
// window of them repeats a pattern of length 1, 2 or 3.
type LoopDetector struct {
	window int
	recent []string
}

// NewLoopDetector creates a detector over the last window calls.
func NewLoopDetector(window int) *LoopDetector {
	if window <= 0 {
		window = 10
	}
	return &LoopDetector{window: window}
}

// Observe records a call and reports whether a loop is now detected.
func (d *LoopDetector) Observe(call toolcall.Call) bool {
	d.recent = append(d.recent, CallSignature(call))
	if len(d.recent) > d.window {
		d.recent = d.recent[len(d.recent)-d.window:]
	}
	return DetectLoop(d.recent, d.window)
}

// Reset forgets all observed calls.
func (d *LoopDetector) Reset() {
	d.recent = d.recent[:0]
}

// DetectLoop checks whether the last windowSize signatures follow a
// repeating pattern of length 1, 2 or 3.
func DetectLoop(signatures []string, windowSize int) bool {
	if windowSize <= 0 || len(signatures) < windowSize {
		return false
	}
	sigs := signatures[len(signatures)-windowSize:]

	for patternLen := 1; patternLen <= 3; patternLen++ {
		// The pattern must repeat at least once within the window.
		if windowSize%patternLen != 0 || windowSize < 2*patternLen {
			continue
		}
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i++ {
			if sigs[i] != sigs[i%patternLen] {
				allMatch = false
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}
