// Package types defines the core data structures for the npcflow dialogue
// system: interaction contexts, personalities, memories, generated responses
// and the budget/validation records that flow between components.
package types

import "time"

// Emotion is the emotional register attached to a dialogue response.
type Emotion string

// Allowed response emotions. Anything outside this set is normalized to
// EmotionNeutral at parse time.
const (
	EmotionNeutral    Emotion = "neutral"
	EmotionHappy      Emotion = "happy"
	EmotionExcited    Emotion = "excited"
	EmotionSad        Emotion = "sad"
	EmotionAngry      Emotion = "angry"
	EmotionConfused   Emotion = "confused"
	EmotionThoughtful Emotion = "thoughtful"
)

// ValidEmotion reports whether e is one of the allowed response emotions.
func ValidEmotion(e Emotion) bool {
	switch e {
	case EmotionNeutral, EmotionHappy, EmotionExcited, EmotionSad,
		EmotionAngry, EmotionConfused, EmotionThoughtful:
		return true
	}
	return false
}

// Interaction type constants. Unknown types are valid; the fallback
// synthesizer buckets them under "greeting".
const (
	InteractionGreeting = "greeting"
	InteractionBattle   = "battle"
	InteractionShop     = "shop"
	InteractionQuest    = "quest"
)

// DialogueContext captures the situational inputs for one player/NPC
// interaction. It is created by the caller and immutable per request.
type DialogueContext struct {
	InteractionType    string   `json:"interaction_type"`
	RelationshipLevel  float64  `json:"relationship_level"` // 0 = stranger, 1 = best friend
	TimeOfDay          string   `json:"time_of_day"`
	PartySummary       string   `json:"party_summary,omitempty"`
	RecentAchievements []string `json:"recent_achievements,omitempty"`
	NPCID              string   `json:"npc_id"`
	PlayerID           string   `json:"player_id"`
}

// PersonalityProfile holds the named float traits (each in [0,1]) that shape
// how an NPC speaks. Passed by value; zero values mean "trait absent".
type PersonalityProfile struct {
	Curiosity       float64 `json:"curiosity"`
	Verbosity       float64 `json:"verbosity"`
	Friendliness    float64 `json:"friendliness"`
	Humor           float64 `json:"humor"`
	Competitiveness float64 `json:"competitiveness"`
}

// MemoryItem is a single remembered interaction supplied by the caller,
// ordered by relevance (most relevant first).
type MemoryItem struct {
	Content          string    `json:"content"`
	Importance       float64   `json:"importance"` // 0.0-1.0
	Timestamp        time.Time `json:"timestamp"`
	Tags             []string  `json:"tags,omitempty"`
	EmotionalContext string    `json:"emotional_context,omitempty"`
}

// DialogueResponse is the generated in-character reply. Every field of the
// backend wire contract maps onto this struct.
type DialogueResponse struct {
	Text               string   `json:"text"`
	Emotion            Emotion  `json:"emotion"`
	Actions            []string `json:"actions,omitempty"`
	RelationshipChange float64  `json:"relationship_change"` // [-1,1]
	TriggersBattle     bool     `json:"triggers_battle"`
}

// EmotionalInfluence is the optional payload from the emotional-state
// provider, merged into the generation prompt when present.
type EmotionalInfluence struct {
	PrimaryEmotion string  `json:"primary_emotion"`
	Intensity      float64 `json:"intensity"` // 0.0-1.0
	Tone           string  `json:"tone,omitempty"`
}

// GossipItem is one piece of second-hand information an NPC has heard about
// a player.
type GossipItem struct {
	Content     string    `json:"content"`
	Importance  float64   `json:"importance"`
	Reliability float64   `json:"reliability"`
	Timestamp   time.Time `json:"timestamp"`
}

// GossipContext is the optional payload from the gossip/reputation provider.
type GossipContext struct {
	Items             []GossipItem       `json:"items,omitempty"`
	ReputationSummary map[string]float64 `json:"reputation_summary,omitempty"`
}

// ValidationSeverity grades validation outcomes.
type ValidationSeverity string

const (
	SeverityInfo     ValidationSeverity = "info"
	SeverityWarning  ValidationSeverity = "warning"
	SeverityError    ValidationSeverity = "error"
	SeverityCritical ValidationSeverity = "critical"
)

// ValidationVerdict is the result of running a dialogue response through the
// content validator.
type ValidationVerdict struct {
	IsValid     bool               `json:"is_valid"`
	Severity    ValidationSeverity `json:"severity"`
	Score       float64            `json:"score"` // 0.0 = invalid, 1.0 = perfect
	Issues      []string           `json:"issues,omitempty"`
	Suggestions []string           `json:"suggestions,omitempty"`
}

// DailyStats is the per-calendar-day budget summary returned by the ledger.
type DailyStats struct {
	Date              string             `json:"date"` // YYYY-MM-DD
	TotalCost         float64            `json:"total_cost"`
	TotalRequests     int64              `json:"total_requests"`
	RequestsByBackend map[string]int64   `json:"requests_by_backend"`
	TotalTokens       int64              `json:"total_tokens"`
	AvgCostPerRequest float64            `json:"avg_cost_per_request"`
	AvgLatencyMs      float64            `json:"avg_latency_ms"`
	BudgetLimit       float64            `json:"budget_limit"`
	BudgetRemaining   float64            `json:"budget_remaining"`
	BudgetUtilization float64            `json:"budget_utilization"` // percent, capped at 100
}

// CostProjection estimates monthly spend from recent daily usage.
type CostProjection struct {
	DailyAvg          float64 `json:"daily_avg"`
	WeeklyTotal       float64 `json:"weekly_total"`
	MonthlyProjection float64 `json:"monthly_projection"`
	Confidence        string  `json:"confidence"` // low, medium, high
	DataPoints        int     `json:"data_points"`
}

// BudgetAlert is the informational payload returned once daily utilization
// crosses the configured threshold. Alerts never gate admission.
type BudgetAlert struct {
	AlertType          string  `json:"alert_type"`
	CurrentCost        float64 `json:"current_cost"`
	BudgetLimit        float64 `json:"budget_limit"`
	UtilizationPercent float64 `json:"utilization_percent"`
	ThresholdPercent   float64 `json:"threshold_percent"`
	Message            string  `json:"message"`
}
