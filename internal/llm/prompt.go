package llm

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/scrypster/npcflow/pkg/types"
)

// PromptInput bundles everything a prompt builder needs for one request.
// EmotionalInfluence and Gossip are optional and omitted from the prompt
// when nil.
type PromptInput struct {
	Context     types.DialogueContext
	Personality types.PersonalityProfile
	Memories    []types.MemoryItem
	Emotional   *types.EmotionalInfluence
	Gossip      *types.GossipContext
}

// BuildCloudPrompt produces the rich roleplay prompt for the cloud backend:
// full personality prose, weighted memories, emotional and gossip sections,
// relationship guidelines and the strict JSON contract.
func BuildCloudPrompt(in PromptInput) string {
	var b strings.Builder

	b.WriteString("You are roleplaying as an NPC in a monster-taming adventure game. Generate a natural dialogue response based on this context:\n\n")

	b.WriteString("## Character Personality\n")
	b.WriteString(describePersonality(in.Personality))
	b.WriteString("\n")

	if in.Emotional != nil {
		fmt.Fprintf(&b, "\n## Current Emotional State\nYou are currently feeling %s (intensity: %.1f/1.0)\n",
			in.Emotional.PrimaryEmotion, in.Emotional.Intensity)
		if in.Emotional.Tone != "" {
			fmt.Fprintf(&b, "Speak in a %s manner\n", in.Emotional.Tone)
		}
	}

	b.WriteString("\n## Relationship History & Memories\n")
	b.WriteString(formatMemories(in.Memories))
	b.WriteString("\n")

	if gossip := formatGossip(in.Gossip); gossip != "" {
		b.WriteString(gossip)
	}

	b.WriteString("\n## Current Situation\n")
	fmt.Fprintf(&b, "- Interaction type: %s\n", in.Context.InteractionType)
	fmt.Fprintf(&b, "- Your relationship with this player: %.2f (0=stranger, 1=best friend)\n", in.Context.RelationshipLevel)
	fmt.Fprintf(&b, "- Time of day: %s\n", in.Context.TimeOfDay)
	fmt.Fprintf(&b, "- Player's party: %s\n", in.Context.PartySummary)
	achievements := "None"
	if len(in.Context.RecentAchievements) > 0 {
		achievements = strings.Join(in.Context.RecentAchievements, ", ")
	}
	fmt.Fprintf(&b, "- Player's recent achievements: %s\n", achievements)

	b.WriteString(`
## Important Instructions
- ALWAYS reference your memories if you have met this player before
- Naturally incorporate what you've heard about this player from others when appropriate
- Your personality should influence how you speak and what you focus on
- Keep responses under 100 words
- Use casual, friendly language appropriate for all ages
- Don't break the fourth wall or reference being an AI
- Respond naturally as if this is a real conversation

## Relationship Guidelines
- Strangers (0.0-0.2): Polite but reserved, basic introductions
- Acquaintances (0.2-0.5): Friendly, remember basic details about them
- Friends (0.5-0.8): Warm, share personal thoughts, reference shared experiences
- Best friends (0.8-1.0): Enthusiastic, personal jokes, deep conversations

Generate a JSON response with this structure:
{
    "text": "The dialogue text that references memories when relevant",
    "emotion": "neutral|happy|excited|sad|angry|confused|thoughtful",
    "actions": ["optional", "list", "of", "actions"],
    "relationship_change": 0.0,
    "triggers_battle": false
}`)

	return b.String()
}

// BuildLocalPrompt produces the compact prompt for the local backend:
// trait adjectives, the top three truncated memories, and the JSON
// contract. Small models stay on-contract better with short prompts.
func BuildLocalPrompt(in PromptInput) string {
	var traits []string
	p := in.Personality
	if p.Friendliness > 0.6 {
		traits = append(traits, "friendly")
	}
	if p.Curiosity > 0.6 {
		traits = append(traits, "curious")
	}
	if p.Verbosity > 0.6 {
		traits = append(traits, "talkative")
	} else if p.Verbosity < 0.4 {
		traits = append(traits, "quiet")
	}
	if p.Humor > 0.6 {
		traits = append(traits, "humorous")
	}
	personality := "neutral"
	if len(traits) > 0 {
		personality = strings.Join(traits, ", ")
	}

	emotion := ""
	if in.Emotional != nil {
		emotion = fmt.Sprintf(", currently feeling %s (%.1f/1.0)", in.Emotional.PrimaryEmotion, in.Emotional.Intensity)
	}

	memoryText := "No previous interactions."
	if len(in.Memories) > 0 {
		parts := make([]string, 0, 3)
		for _, m := range in.Memories[:min(3, len(in.Memories))] {
			content := m.Content
			if len(content) > 60 {
				content = content[:60] + "..."
			}
			parts = append(parts, content)
		}
		memoryText = "Previous interactions: " + strings.Join(parts, "; ")
	}

	return fmt.Sprintf(`You are an NPC in a monster-taming adventure game. Generate a short, natural response.

Character: %s%s personality
Memories: %s
Context: %s at %s, relationship level %.1f/1.0

Rules:
- Keep response under 100 words
- Reference memories if relevant
- Match your personality
- Use friendly, appropriate language
- Respond in JSON format

Required format:
{"text": "your response here", "emotion": "happy|neutral|excited|sad", "relationship_change": 0.0}

Response:`, personality, emotion, memoryText, in.Context.InteractionType, in.Context.TimeOfDay, in.Context.RelationshipLevel)
}

// describePersonality turns trait floats into prose for the cloud prompt.
func describePersonality(p types.PersonalityProfile) string {
	var traits []string

	if p.Curiosity > 0.7 {
		traits = append(traits, "very curious and asks many questions")
	} else if p.Curiosity < 0.3 {
		traits = append(traits, "not very inquisitive")
	}
	if p.Verbosity > 0.7 {
		traits = append(traits, "talkative and gives detailed responses")
	} else if p.Verbosity < 0.3 {
		traits = append(traits, "concise and brief in speech")
	}
	if p.Friendliness > 0.7 {
		traits = append(traits, "warm and welcoming")
	} else if p.Friendliness < 0.3 {
		traits = append(traits, "somewhat distant or reserved")
	}
	if p.Humor > 0.7 {
		traits = append(traits, "enjoys jokes and lighthearted conversation")
	}
	if p.Competitiveness > 0.7 {
		traits = append(traits, "competitive and interested in battles")
	}

	if len(traits) == 0 {
		return "This character has an even temperament."
	}
	return "This character is " + strings.Join(traits, ", ") + "."
}

// formatMemories renders the top five memories by importance and recency,
// annotating emotional context and flagging high-importance entries.
func formatMemories(memories []types.MemoryItem) string {
	if len(memories) == 0 {
		return "No previous interactions remembered."
	}

	sorted := make([]types.MemoryItem, len(memories))
	copy(sorted, memories)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Importance != sorted[j].Importance {
			return sorted[i].Importance > sorted[j].Importance
		}
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	var lines []string
	for _, m := range sorted[:min(5, len(sorted))] {
		emotionNote := ""
		if m.EmotionalContext != "" && m.EmotionalContext != "neutral" {
			emotionNote = fmt.Sprintf(" (felt %s)", m.EmotionalContext)
		}
		importanceNote := ""
		if m.Importance > 0.8 {
			importanceNote = " [!]"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s%s%s",
			formatTimeAgo(time.Since(m.Timestamp)), m.Content, emotionNote, importanceNote))
	}
	return strings.Join(lines, "\n")
}

// formatGossip renders the reputation summary and the three most important
// gossip items, or "" when there is nothing to tell.
func formatGossip(g *types.GossipContext) string {
	if g == nil || len(g.Items) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n## What You've Heard About This Player\n")

	var repDetails []string
	for _, trait := range []struct {
		key      string
		positive string
		negative string
	}{
		{"trainer_skill", "skilled trainer", "inexperienced trainer"},
		{"helpfulness", "helpful person", "unhelpful person"},
		{"trustworthiness", "trustworthy", "untrustworthy"},
		{"popularity", "well-liked by others", "not well-liked by others"},
	} {
		switch v := g.ReputationSummary[trait.key]; {
		case v > 0.3:
			repDetails = append(repDetails, trait.positive)
		case v < -0.3:
			repDetails = append(repDetails, trait.negative)
		}
	}
	if len(repDetails) > 0 {
		fmt.Fprintf(&b, "From what you've heard, this player is: %s\n", strings.Join(repDetails, ", "))
	}

	items := make([]types.GossipItem, len(g.Items))
	copy(items, g.Items)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Importance != items[j].Importance {
			return items[i].Importance > items[j].Importance
		}
		return items[i].Timestamp.After(items[j].Timestamp)
	})

	b.WriteString("Recent things you've heard:\n")
	for _, item := range items[:min(3, len(items))] {
		reliability := "somewhat reliable source"
		if item.Reliability > 0.7 {
			reliability = "reliable source"
		} else if item.Reliability < 0.4 {
			reliability = "questionable source"
		}
		fmt.Fprintf(&b, "- %s (from %s)\n", item.Content, reliability)
	}
	b.WriteString("Remember: You might casually mention what you've heard, but don't be too direct about it.\n")

	return b.String()
}

// formatTimeAgo renders a duration in conversational form.
func formatTimeAgo(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%d day(s) ago", int(d.Hours()/24))
	case d >= time.Hour:
		return fmt.Sprintf("%d hour(s) ago", int(d.Hours()))
	default:
		return "Recently"
	}
}
