package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/scrypster/npcflow/pkg/types"
)

// wireResponse is the strict JSON contract both backends are prompted to
// produce.
type wireResponse struct {
	Text               string   `json:"text"`
	Emotion            string   `json:"emotion"`
	Actions            []string `json:"actions"`
	RelationshipChange float64  `json:"relationship_change"`
	TriggersBattle     bool     `json:"triggers_battle"`
}

// Length caps applied during parsing. Structured text keeps more room than
// heuristically recovered text.
const (
	maxStructuredTextLen = 200
	maxRecoveredTextLen  = 150
	minRecoveredTextLen  = 10
)

// parseContract decodes a strict contract payload into a DialogueResponse,
// normalizing the emotion and clamping field ranges. The input must already
// be a bare JSON object.
func parseContract(jsonText string) (types.DialogueResponse, error) {
	var wire wireResponse
	if err := json.Unmarshal([]byte(jsonText), &wire); err != nil {
		return types.DialogueResponse{}, fmt.Errorf("contract decode failed: %w", err)
	}
	if strings.TrimSpace(wire.Text) == "" {
		return types.DialogueResponse{}, fmt.Errorf("contract decode produced empty text")
	}

	resp := types.DialogueResponse{
		Text:               truncate(wire.Text, maxStructuredTextLen),
		Emotion:            types.Emotion(wire.Emotion),
		Actions:            wire.Actions,
		RelationshipChange: clamp(wire.RelationshipChange, -1, 1),
		TriggersBattle:     wire.TriggersBattle,
	}
	if !types.ValidEmotion(resp.Emotion) {
		resp.Emotion = types.EmotionNeutral
	}
	return resp, nil
}

// extractBalancedJSON returns the first balanced {...} block from free-form
// text, skipping braces inside strings and honoring escapes. This handles
// models that add explanations before/after the JSON despite instructions.
// Returns "" when no complete object is present.
func extractBalancedJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return ""
}

// recoverPlainText strips structural characters from free-form output and
// returns it as a neutral response. Used as the last parse rung before
// giving up on a payload.
func recoverPlainText(text string) (types.DialogueResponse, bool) {
	clean := strings.NewReplacer(`"`, "", "{", "", "}", "").Replace(text)
	clean = strings.TrimSpace(clean)
	if len(clean) < minRecoveredTextLen {
		return types.DialogueResponse{}, false
	}
	return types.DialogueResponse{
		Text:               truncate(clean, maxRecoveredTextLen),
		Emotion:            types.EmotionNeutral,
		RelationshipChange: 0.05,
	}, true
}

// truncate caps s at max bytes without splitting a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
