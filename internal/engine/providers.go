// Package engine contains the dialogue generation pipeline: backend
// routing, content validation, the local-response quality gate, the
// fallback synthesizer and the orchestrator that composes them.
package engine

import (
	"context"

	"github.com/scrypster/npcflow/pkg/types"
)

// MemoryProvider is the external semantic memory store. Failures must not
// block dialogue generation; callers pass an empty list on error.
type MemoryProvider interface {
	GetMemories(ctx context.Context, npcID, playerID, query string, limit int) ([]types.MemoryItem, error)
	StoreMemory(ctx context.Context, npcID string, dctx types.DialogueContext, resp types.DialogueResponse) error
}

// EmotionProvider supplies the NPC's current emotional state. A nil
// influence (or an error) simply omits the section from the prompt.
type EmotionProvider interface {
	CurrentInfluence(ctx context.Context, npcID string) (*types.EmotionalInfluence, error)
}

// GossipProvider supplies second-hand knowledge an NPC holds about a
// player. Optional in the same way as EmotionProvider.
type GossipProvider interface {
	GossipAbout(ctx context.Context, npcID, playerID string) (*types.GossipContext, error)
}
