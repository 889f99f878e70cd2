package llm

import (
	"context"
	"time"

	"github.com/scrypster/npcflow/pkg/types"
)

// Result carries a backend response together with the usage metrics the
// budget ledger records.
type Result struct {
	Response types.DialogueResponse
	RawText  string        // unparsed backend output, for quality heuristics
	Tokens   int64         // estimated tokens for prompt + response
	Latency  time.Duration // wall time of the backend call
}

// Backend is the uniform inference port. Generate fails only with the
// errors.go taxonomy (wrapped); MalformedOutput is surfaced only when
// best-effort recovery could not salvage any text.
type Backend interface {
	Generate(ctx context.Context, prompt string) (*Result, error)
	ID() string
}

// Backend identifiers used in routing decisions and ledger records.
const (
	BackendCloud = "cloud"
	BackendLocal = "local"
)
