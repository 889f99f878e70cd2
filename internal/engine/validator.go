package engine

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/npcflow/pkg/types"
)

//go:embed rules.yaml
var rulesYAML []byte

// Score factors applied per failed check family. The final score is the
// product of all applied factors.
const (
	canonPenalty       = 0.7
	forbiddenPenalty   = 0.5
	tonePenalty        = 0.9
	softTonePenalty    = 0.95
	metaPenalty        = 0.3
	lengthPenalty      = 0.8
	sentencePenalty    = 0.9
	charPenalty        = 0.95
	validScoreFloor    = 0.7
	criticalThreshold  = 0.5
	errorThreshold     = 0.7
	warningThreshold   = 0.9
	maxToneRelStranger = 0.2
	minToneRelFriend   = 0.8
)

// ruleSet mirrors the embedded rules.yaml document.
type ruleSet struct {
	Canon []struct {
		Fact     string   `yaml:"fact"`
		Patterns []string `yaml:"patterns"`
	} `yaml:"canon"`
	Forbidden map[string][]string `yaml:"forbidden"`
	Tone      struct {
		StrangerFamiliar []string `yaml:"stranger_familiar"`
		FriendFormal     []string `yaml:"friend_formal"`
	} `yaml:"tone"`
	Meta   []string `yaml:"meta"`
	Limits struct {
		MaxWords         int    `yaml:"max_words"`
		MaxSentenceChars int    `yaml:"max_sentence_chars"`
		ProblematicChars string `yaml:"problematic_chars"`
	} `yaml:"limits"`
	Suggestions []struct {
		Match  string `yaml:"match"`
		Advice string `yaml:"advice"`
	} `yaml:"suggestions"`
}

type canonRule struct {
	fact     string
	patterns []*regexp.Regexp
}

type suggestionRule struct {
	match  string
	advice string
}

// Validator scores generated dialogue against world canon, content policy,
// tone expectations and display constraints. All rules are compiled once at
// construction.
type Validator struct {
	canon            []canonRule
	forbidden        map[string][]*regexp.Regexp
	forbiddenOrder   []string
	strangerFamiliar []*regexp.Regexp
	friendFormal     []*regexp.Regexp
	meta             []*regexp.Regexp
	maxWords         int
	maxSentenceChars int
	problematicChars string
	suggestions      []suggestionRule
}

// NewValidator compiles the embedded rule set.
func NewValidator() (*Validator, error) {
	var rules ruleSet
	if err := yaml.Unmarshal(rulesYAML, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse validation rules: %w", err)
	}

	v := &Validator{
		forbidden:        make(map[string][]*regexp.Regexp),
		maxWords:         rules.Limits.MaxWords,
		maxSentenceChars: rules.Limits.MaxSentenceChars,
		problematicChars: rules.Limits.ProblematicChars,
	}

	for _, c := range rules.Canon {
		compiled, err := compileAll(c.Patterns)
		if err != nil {
			return nil, fmt.Errorf("canon rule %q: %w", c.Fact, err)
		}
		v.canon = append(v.canon, canonRule{fact: c.Fact, patterns: compiled})
	}

	for family, patterns := range rules.Forbidden {
		compiled, err := compileAll(patterns)
		if err != nil {
			return nil, fmt.Errorf("forbidden family %q: %w", family, err)
		}
		v.forbidden[family] = compiled
		v.forbiddenOrder = append(v.forbiddenOrder, family)
	}
	sort.Strings(v.forbiddenOrder)

	var err error
	if v.strangerFamiliar, err = compileAll(rules.Tone.StrangerFamiliar); err != nil {
		return nil, fmt.Errorf("tone rules: %w", err)
	}
	if v.friendFormal, err = compileAll(rules.Tone.FriendFormal); err != nil {
		return nil, fmt.Errorf("tone rules: %w", err)
	}
	if v.meta, err = compileAll(rules.Meta); err != nil {
		return nil, fmt.Errorf("meta rules: %w", err)
	}

	for _, s := range rules.Suggestions {
		v.suggestions = append(v.suggestions, suggestionRule{match: s.Match, advice: s.Advice})
	}

	return v, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Validate runs all five checks and folds their factors into one verdict.
func (v *Validator) Validate(resp types.DialogueResponse, dctx types.DialogueContext, personality types.PersonalityProfile) types.ValidationVerdict {
	var issues []string
	score := 1.0

	canonIssues, canonScore := v.checkCanon(resp.Text)
	issues = append(issues, canonIssues...)
	score *= canonScore

	contentIssues, contentScore := v.checkForbidden(resp.Text)
	issues = append(issues, contentIssues...)
	score *= contentScore

	toneIssues, toneScore := v.checkTone(resp, dctx, personality)
	issues = append(issues, toneIssues...)
	score *= toneScore

	metaIssues, metaScore := v.checkMeta(resp.Text)
	issues = append(issues, metaIssues...)
	score *= metaScore

	lengthIssues, lengthScore := v.checkLength(resp.Text)
	issues = append(issues, lengthIssues...)
	score *= lengthScore

	if score < 0 {
		score = 0
	}

	severity := types.SeverityInfo
	switch {
	case score < criticalThreshold:
		severity = types.SeverityCritical
	case score < errorThreshold:
		severity = types.SeverityError
	case score < warningThreshold:
		severity = types.SeverityWarning
	}

	// Policy violations are never shippable, whatever the other factors
	// say about the score.
	if len(contentIssues) > 0 {
		severity = types.SeverityCritical
	}

	return types.ValidationVerdict{
		IsValid:     score >= validScoreFloor && severity != types.SeverityCritical,
		Severity:    severity,
		Score:       score,
		Issues:      issues,
		Suggestions: v.suggest(issues),
	}
}

// checkCanon flags dialogue that contradicts an established world fact.
func (v *Validator) checkCanon(text string) ([]string, float64) {
	var issues []string
	score := 1.0
	lower := strings.ToLower(text)

	for _, rule := range v.canon {
		for _, re := range rule.patterns {
			if re.MatchString(lower) {
				issues = append(issues, fmt.Sprintf("Potential canon contradiction: %s", rule.fact))
				score *= canonPenalty
				break
			}
		}
	}
	return issues, score
}

// checkForbidden scans for content policy violations, one penalty per
// matched family.
func (v *Validator) checkForbidden(text string) ([]string, float64) {
	var issues []string
	score := 1.0
	lower := strings.ToLower(text)

	for _, family := range v.forbiddenOrder {
		for _, re := range v.forbidden[family] {
			if re.MatchString(lower) {
				issues = append(issues, fmt.Sprintf("Contains forbidden %s content", family))
				score *= forbiddenPenalty
				break
			}
		}
	}
	return issues, score
}

// checkTone compares register against relationship level and the
// personality's verbosity/friendliness traits.
func (v *Validator) checkTone(resp types.DialogueResponse, dctx types.DialogueContext, personality types.PersonalityProfile) ([]string, float64) {
	var issues []string
	score := 1.0
	lower := strings.ToLower(resp.Text)

	if dctx.RelationshipLevel < maxToneRelStranger {
		for _, re := range v.strangerFamiliar {
			if re.MatchString(lower) {
				issues = append(issues, "Too familiar tone for low relationship level")
				score *= tonePenalty
				break
			}
		}
	} else if dctx.RelationshipLevel > minToneRelFriend {
		for _, re := range v.friendFormal {
			if re.MatchString(lower) {
				issues = append(issues, "Too formal tone for high relationship level")
				score *= tonePenalty
				break
			}
		}
	}

	wordCount := len(strings.Fields(resp.Text))
	if personality.Verbosity < 0.3 && wordCount > 50 {
		issues = append(issues, "Too verbose for quiet personality")
		score *= tonePenalty
	} else if personality.Verbosity > 0.7 && wordCount < 10 {
		issues = append(issues, "Too brief for talkative personality")
		score *= tonePenalty
	}

	if personality.Friendliness < 0.3 && (resp.Emotion == types.EmotionHappy || resp.Emotion == types.EmotionExcited) {
		issues = append(issues, "Too positive emotion for reserved personality")
		score *= tonePenalty
	} else if personality.Friendliness > 0.7 && (resp.Emotion == types.EmotionAngry || resp.Emotion == types.EmotionSad) {
		issues = append(issues, "Negative emotion unusual for friendly personality")
		score *= softTonePenalty
	}

	return issues, score
}

// checkMeta scans for fourth-wall breaks. A single hit is severe enough to
// sink the score below the critical threshold on its own.
func (v *Validator) checkMeta(text string) ([]string, float64) {
	lower := strings.ToLower(text)
	for _, re := range v.meta {
		if re.MatchString(lower) {
			return []string{"Contains meta-gaming or fourth wall breaking references"}, metaPenalty
		}
	}
	return nil, 1.0
}

// checkLength enforces display constraints for short dialogue boxes.
func (v *Validator) checkLength(text string) ([]string, float64) {
	var issues []string
	score := 1.0

	wordCount := len(strings.Fields(text))
	if wordCount > v.maxWords {
		issues = append(issues, fmt.Sprintf("Dialogue too long (%d words, max %d)", wordCount, v.maxWords))
		score *= lengthPenalty
	}

	for _, sentence := range strings.Split(text, ".") {
		if len(strings.TrimSpace(sentence)) > v.maxSentenceChars {
			issues = append(issues, "Contains very long sentences that are hard to read")
			score *= sentencePenalty
			break
		}
	}

	if strings.ContainsAny(text, v.problematicChars) {
		issues = append(issues, "Contains special characters that may not display properly")
		score *= charPenalty
	}

	return issues, score
}

// suggest derives fixes by keyword-matching issue text. No inference call
// is involved.
func (v *Validator) suggest(issues []string) []string {
	var out []string
	seen := make(map[string]bool)

	for _, issue := range issues {
		lower := strings.ToLower(issue)
		for _, s := range v.suggestions {
			if strings.Contains(lower, s.match) && !seen[s.advice] {
				out = append(out, s.advice)
				seen[s.advice] = true
			}
		}
	}

	if len(issues) > 0 && len(out) == 0 {
		out = append(out, "Minor improvements could enhance dialogue quality")
	}
	return out
}
