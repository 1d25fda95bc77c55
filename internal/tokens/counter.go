// Package tokens provides token counting for response shaping. It uses
// tiktoken encodings for OpenAI-family models and falls back to a character
// estimate for everything else.
package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// estimatorCharsPerToken is the fallback ratio for models without a known
// encoding.
const estimatorCharsPerToken = 4

// Counter counts and truncates text by tokens.
type Counter struct {
	mu    sync.RWMutex
	cache map[tokenizer.Encoding]tokenizer.Codec
}

func NewCounter() *Counter {
	return &Counter{cache: make(map[tokenizer.Encoding]tokenizer.Codec)}
}

// CountText returns the token count of text for the given model. The count
// is estimated when no encoding is known; the second return reports whether
// the count is exact.
func (c *Counter) CountText(model, text string) (int, bool) {
	codec, ok := c.codecFor(model)
	if !ok {
		return (len(text) + estimatorCharsPerToken - 1) / estimatorCharsPerToken, false
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return (len(text) + estimatorCharsPerToken - 1) / estimatorCharsPerToken, false
	}
	return len(ids), true
}

// Truncate returns text cut to at most maxTokens tokens. The fallback path
// cuts by the character estimate.
func (c *Counter) Truncate(model, text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}

	codec, ok := c.codecFor(model)
	if !ok {
		limit := maxTokens * estimatorCharsPerToken
		if len(text) <= limit {
			return text
		}
		return text[:limit]
	}

	ids, _, err := codec.Encode(text)
	if err != nil || len(ids) <= maxTokens {
		return text
	}
	out, err := codec.Decode(ids[:maxTokens])
	if err != nil {
		return text
	}
	return out
}

func (c *Counter) codecFor(model string) (tokenizer.Codec, bool) {
	encoding, ok := encodingFor(model)
	if !ok {
		return nil, false
	}

	c.mu.RLock()
	if codec, ok := c.cache[encoding]; ok {
		c.mu.RUnlock()
		return codec, true
	}
	c.mu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, false
	}

	c.mu.Lock()
	c.cache[encoding] = codec
	c.mu.Unlock()
	return codec, true
}

func encodingFor(model string) (tokenizer.Encoding, bool) {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase, true
	case strings.HasPrefix(model, "gpt-4"),
		strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.Cl100kBase, true
	default:
		return "", false
	}
}
