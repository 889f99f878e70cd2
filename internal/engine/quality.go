package engine

import (
	"strings"

	"github.com/scrypster/npcflow/pkg/types"
)

// Generic phrases that signal a response ignored the interaction context.
// Matching two or more marks the response as too generic.
var genericPhrases = []string{
	"how can i help",
	"hello there",
	"how are you",
	"nice to see you",
	"welcome",
}

const salientWordLen = 4

// tooGeneric reports whether a locally generated response should be retried
// on the cloud backend. A response fails the gate when an established
// relationship gets text sharing no salient words with the most relevant
// memories, or when it leans on stock phrases.
func tooGeneric(resp types.DialogueResponse, memories []types.MemoryItem, dctx types.DialogueContext) bool {
	if len(memories) > 0 && dctx.RelationshipLevel > 0.3 {
		keywords := make(map[string]bool)
		for _, m := range memories[:min(2, len(memories))] {
			for _, w := range strings.Fields(strings.ToLower(m.Content)) {
				if len(w) > salientWordLen {
					keywords[w] = true
				}
			}
		}

		if len(keywords) > 0 {
			overlap := false
			for _, w := range strings.Fields(strings.ToLower(resp.Text)) {
				if keywords[w] {
					overlap = true
					break
				}
			}
			if !overlap {
				return true
			}
		}
	}

	lower := strings.ToLower(resp.Text)
	count := 0
	for _, phrase := range genericPhrases {
		if strings.Contains(lower, phrase) {
			count++
		}
	}
	return count >= 2
}
