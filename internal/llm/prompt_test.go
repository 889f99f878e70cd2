package llm

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/npcflow/pkg/types"
)

func promptInput() PromptInput {
	return PromptInput{
		Context: types.DialogueContext{
			InteractionType:   types.InteractionGreeting,
			RelationshipLevel: 0.6,
			TimeOfDay:         "morning",
			PartySummary:      "two fire-types",
		},
		Personality: types.PersonalityProfile{
			Friendliness: 0.9,
			Verbosity:    0.8,
			Humor:        0.8,
		},
		Memories: []types.MemoryItem{
			{Content: "Player helped rebuild the greenhouse", Importance: 0.9, Timestamp: time.Now().Add(-26 * time.Hour), EmotionalContext: "grateful"},
			{Content: "We argued about berry prices", Importance: 0.4, Timestamp: time.Now().Add(-2 * time.Hour), EmotionalContext: "neutral"},
		},
	}
}

func TestBuildCloudPrompt(t *testing.T) {
	t.Run("includes personality and memories", func(t *testing.T) {
		prompt := BuildCloudPrompt(promptInput())

		assert.Contains(t, prompt, "warm and welcoming")
		assert.Contains(t, prompt, "Player helped rebuild the greenhouse")
		assert.Contains(t, prompt, "(felt grateful)")
		assert.Contains(t, prompt, "[!]")
		assert.Contains(t, prompt, "1 day(s) ago")
		assert.Contains(t, prompt, `"triggers_battle": false`)
	})

	t.Run("memories ordered by importance", func(t *testing.T) {
		prompt := BuildCloudPrompt(promptInput())
		greenhouse := strings.Index(prompt, "greenhouse")
		berries := strings.Index(prompt, "berry prices")
		assert.Less(t, greenhouse, berries)
	})

	t.Run("no memories", func(t *testing.T) {
		in := promptInput()
		in.Memories = nil
		assert.Contains(t, BuildCloudPrompt(in), "No previous interactions remembered.")
	})

	t.Run("emotional influence section", func(t *testing.T) {
		in := promptInput()
		in.Emotional = &types.EmotionalInfluence{PrimaryEmotion: "cheerful", Intensity: 0.8, Tone: "upbeat"}
		prompt := BuildCloudPrompt(in)

		assert.Contains(t, prompt, "currently feeling cheerful")
		assert.Contains(t, prompt, "upbeat manner")

		in.Emotional = nil
		assert.NotContains(t, BuildCloudPrompt(in), "Emotional State")
	})

	t.Run("gossip section with reputation", func(t *testing.T) {
		in := promptInput()
		in.Gossip = &types.GossipContext{
			Items: []types.GossipItem{
				{Content: "They beat the harbor gym", Importance: 0.8, Reliability: 0.9, Timestamp: time.Now()},
			},
			ReputationSummary: map[string]float64{"trainer_skill": 0.6},
		}
		prompt := BuildCloudPrompt(in)

		assert.Contains(t, prompt, "harbor gym")
		assert.Contains(t, prompt, "skilled trainer")
	})
}

func TestBuildLocalPrompt(t *testing.T) {
	t.Run("compact shape", func(t *testing.T) {
		in := promptInput()
		cloudPrompt := BuildCloudPrompt(in)
		localPrompt := BuildLocalPrompt(in)

		assert.Less(t, len(localPrompt), len(cloudPrompt))
		assert.Contains(t, localPrompt, "friendly")
		assert.Contains(t, localPrompt, "talkative")
		assert.Contains(t, localPrompt, "greenhouse")
		assert.Contains(t, localPrompt, `"relationship_change"`)
	})

	t.Run("neutral personality", func(t *testing.T) {
		in := promptInput()
		in.Personality = types.PersonalityProfile{Verbosity: 0.5}
		assert.Contains(t, BuildLocalPrompt(in), "neutral")
	})

	t.Run("long memories truncated", func(t *testing.T) {
		in := promptInput()
		in.Memories = []types.MemoryItem{{
			Content:    strings.Repeat("a very long memory ", 10),
			Importance: 0.5,
			Timestamp:  time.Now(),
		}}
		assert.Contains(t, BuildLocalPrompt(in), "...")
	})
}
