package llm

import (
	"log"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
)

// estimateTokens counts tokens for ledger records. It uses the cl100k_base
// encoding when available and falls back to a words-to-tokens ratio when
// the encoding cannot be loaded (offline environments).
func estimateTokens(text string) int64 {
	tokenizerOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			log.Printf("llm: tiktoken unavailable, using word-ratio token estimates: %v", err)
			return
		}
		tokenizer = enc
	})

	if tokenizer != nil {
		return int64(len(tokenizer.Encode(text, nil, nil)))
	}
	// Rough words-to-tokens ratio for English prose.
	return int64(float64(len(strings.Fields(text))) * 1.3)
}
