package engine

import (
	"context"
	"log"
	"math/rand"
	"sync"

	"github.com/scrypster/npcflow/internal/llm"
	"github.com/scrypster/npcflow/pkg/types"
)

// Admission is the budget gate the router consults before committing to a
// paid cloud call.
type Admission interface {
	CanSpend(ctx context.Context) bool
}

// Router decides which backend serves a request. The random source is
// injected so routing decisions are reproducible in tests.
type Router struct {
	budget        Admission
	localAffinity float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRouter creates a router with the given local-affinity ratio in [0,1].
// A higher ratio sends more routine traffic to the local backend.
func NewRouter(budget Admission, localAffinity float64, rng *rand.Rand) *Router {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Router{
		budget:        budget,
		localAffinity: localAffinity,
		rng:           rng,
	}
}

// Route picks the backend for one request. First match wins:
// an affordable force-cloud request, story-critical relationships, battles
// and memory-heavy interactions all go to cloud; everything else draws
// against the local-affinity ratio. A force-cloud request that the budget
// cannot cover is downgraded to local rather than rejected.
func (r *Router) Route(ctx context.Context, dctx types.DialogueContext, memories []types.MemoryItem, forceCloud bool) string {
	if !r.budget.CanSpend(ctx) {
		if forceCloud {
			log.Printf("[Router] daily budget exhausted, downgrading forced cloud request for npc %s to local", dctx.NPCID)
		}
		return llm.BackendLocal
	}

	if forceCloud {
		return llm.BackendCloud
	}

	if dctx.RelationshipLevel > 0.8 {
		return llm.BackendCloud
	}

	if dctx.InteractionType == types.InteractionBattle {
		return llm.BackendCloud
	}

	if len(memories) >= 4 && anyImportant(memories) {
		return llm.BackendCloud
	}

	r.mu.Lock()
	draw := r.rng.Float64()
	r.mu.Unlock()

	if draw < r.localAffinity {
		return llm.BackendLocal
	}
	return llm.BackendCloud
}

func anyImportant(memories []types.MemoryItem) bool {
	for _, m := range memories {
		if m.Importance > 0.8 {
			return true
		}
	}
	return false
}
