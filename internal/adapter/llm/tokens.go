package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// encoding returns the shared cl100k_base encoder. Model-specific encodings
// differ too little to matter for budgeting.
func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		enc, _ = tiktoken.GetEncoding("cl100k_base")
	})
	return enc
}

// CountTokens estimates the token count of text.
func CountTokens(text string) int {
	e := encoding()
	if e == nil {
		// Encoder data unavailable; fall back to a 4-bytes-per-token estimate.
		return len(text) / 4
	}
	return len(e.Encode(text, nil, nil))
}

// TrimToTokens truncates text to at most budget tokens, preserving a whole
// token boundary.
func TrimToTokens(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	e := encoding()
	if e == nil {
		if len(text) > budget*4 {
			return text[:budget*4]
		}
		return text
	}
	ids := e.Encode(text, nil, nil)
	if len(ids) <= budget {
		return text
	}
	return e.Decode(ids[:budget])
}
