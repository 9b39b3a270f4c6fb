package agentloop

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/martinemde/codeloop/unifiedllm"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// EstimateTokens returns an approximate token count for text using the
// cl100k_base encoding. It falls back to one token per four bytes if the
// encoder is unavailable.
func EstimateTokens(text string) int {
	c, err := getCodec()
	if err != nil {
		return len(text) / 4
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return len(text) / 4
	}
	return len(ids)
}

// EstimateMessageTokens sums EstimateTokens over message contents plus a
// small per-message overhead for role framing.
func EstimateMessageTokens(messages []unifiedllm.Message) int {
	const perMessage = 4
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content) + perMessage
	}
	return total
}
