package engine

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/npcflow/internal/llm"
	"github.com/scrypster/npcflow/pkg/types"
)

type stubBudget struct {
	canSpend bool
}

func (s *stubBudget) CanSpend(context.Context) bool { return s.canSpend }

func testRouter(canSpend bool, affinity float64, seed int64) *Router {
	return NewRouter(&stubBudget{canSpend: canSpend}, affinity, rand.New(rand.NewSource(seed)))
}

func memoriesWithImportance(importances ...float64) []types.MemoryItem {
	out := make([]types.MemoryItem, 0, len(importances))
	for _, imp := range importances {
		out = append(out, types.MemoryItem{Content: "memory", Importance: imp, Timestamp: time.Now()})
	}
	return out
}

func TestRouterRoute(t *testing.T) {
	ctx := context.Background()

	t.Run("force cloud with budget available", func(t *testing.T) {
		r := testRouter(true, 0.8, 1)
		got := r.Route(ctx, types.DialogueContext{InteractionType: types.InteractionGreeting}, nil, true)
		assert.Equal(t, llm.BackendCloud, got)
	})

	t.Run("force cloud downgraded when budget exhausted", func(t *testing.T) {
		r := testRouter(false, 0.8, 1)
		got := r.Route(ctx, types.DialogueContext{InteractionType: types.InteractionGreeting}, nil, true)
		assert.Equal(t, llm.BackendLocal, got)
	})

	t.Run("exhausted budget never selects cloud", func(t *testing.T) {
		r := testRouter(false, 0.0, 1)
		dctx := types.DialogueContext{InteractionType: types.InteractionBattle, RelationshipLevel: 0.95}
		for i := 0; i < 50; i++ {
			assert.Equal(t, llm.BackendLocal, r.Route(ctx, dctx, memoriesWithImportance(0.9, 0.9, 0.9, 0.9), true))
		}
	})

	t.Run("high relationship always cloud", func(t *testing.T) {
		r := testRouter(true, 1.0, 42)
		dctx := types.DialogueContext{InteractionType: types.InteractionGreeting, RelationshipLevel: 0.9}
		for i := 0; i < 100; i++ {
			assert.Equal(t, llm.BackendCloud, r.Route(ctx, dctx, nil, false))
		}
	})

	t.Run("battle always cloud", func(t *testing.T) {
		r := testRouter(true, 1.0, 42)
		dctx := types.DialogueContext{InteractionType: types.InteractionBattle, RelationshipLevel: 0.1}
		assert.Equal(t, llm.BackendCloud, r.Route(ctx, dctx, nil, false))
	})

	t.Run("memory-heavy interaction goes cloud", func(t *testing.T) {
		r := testRouter(true, 1.0, 42)
		dctx := types.DialogueContext{InteractionType: types.InteractionGreeting, RelationshipLevel: 0.2}
		got := r.Route(ctx, dctx, memoriesWithImportance(0.5, 0.9, 0.4, 0.2), false)
		assert.Equal(t, llm.BackendCloud, got)
	})

	t.Run("four unimportant memories stay on the draw", func(t *testing.T) {
		r := testRouter(true, 1.0, 42)
		dctx := types.DialogueContext{InteractionType: types.InteractionGreeting, RelationshipLevel: 0.2}
		got := r.Route(ctx, dctx, memoriesWithImportance(0.5, 0.5, 0.4, 0.2), false)
		assert.Equal(t, llm.BackendLocal, got)
	})

	t.Run("zero affinity always cloud", func(t *testing.T) {
		r := testRouter(true, 0.0, 7)
		dctx := types.DialogueContext{InteractionType: types.InteractionGreeting, RelationshipLevel: 0.2}
		for i := 0; i < 50; i++ {
			assert.Equal(t, llm.BackendCloud, r.Route(ctx, dctx, nil, false))
		}
	})

	t.Run("full affinity always local", func(t *testing.T) {
		r := testRouter(true, 1.0, 7)
		dctx := types.DialogueContext{InteractionType: types.InteractionGreeting, RelationshipLevel: 0.2}
		for i := 0; i < 50; i++ {
			assert.Equal(t, llm.BackendLocal, r.Route(ctx, dctx, nil, false))
		}
	})
}
