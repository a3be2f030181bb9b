package utils

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     atomic.Pointer[tiktoken.Tiktoken]
)

// LoadEncoding loads the cl100k_base encoding once. The first call may fetch
// the BPE file over the network, so it must run before any timed section.
// It reports whether the encoding is available.
func LoadEncoding() bool {
	encodingOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoding.Store(enc)
		}
	})
	return encoding.Load() != nil
}

// CountTokens counts tokens with the cl100k_base encoding once LoadEncoding
// has loaded it, and falls back to EstimateTokens otherwise. It never loads
// the encoding itself.
func CountTokens(content string) int {
	if content == "" {
		return 0
	}

	enc := encoding.Load()
	if enc == nil {
		return EstimateTokens(content)
	}
	return len(enc.Encode(content, nil, nil))
}

// EstimateTokens approximates a token count from word and character counts
func EstimateTokens(content string) int {
	content = strings.TrimSpace(content)
	if len(content) == 0 {
		return 0
	}

	words := strings.Fields(content)
	if len(words) > 0 {
		// ~1.3 tokens per word accounts for subword tokenization
		return max(1, int(float64(len(words))*1.3))
	}

	return max(1, int(float64(len(content))/3.0))
}
