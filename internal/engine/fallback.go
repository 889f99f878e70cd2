package engine

import (
	_ "embed"
	"fmt"
	"math/rand"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/npcflow/pkg/types"
)

//go:embed fallback.yaml
var fallbackYAML []byte

// fallbackLines mirrors the embedded fallback.yaml document. Interaction
// buckets are decoded from the top-level keys; the suffix is separate.
type fallbackLines struct {
	Greeting      []string `yaml:"greeting"`
	Battle        []string `yaml:"battle"`
	Shop          []string `yaml:"shop"`
	VerboseSuffix string   `yaml:"verbose_suffix"`
}

// Fallback synthesizes canned in-character replies without any external
// call. It is the terminal stage of the pipeline and cannot fail.
type Fallback struct {
	buckets       map[string][]string
	verboseSuffix string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewFallback loads the embedded response buckets. The random source is
// injected for deterministic tests; nil seeds one from the global source.
func NewFallback(rng *rand.Rand) (*Fallback, error) {
	var lines fallbackLines
	if err := yaml.Unmarshal(fallbackYAML, &lines); err != nil {
		return nil, fmt.Errorf("failed to parse fallback lines: %w", err)
	}
	if len(lines.Greeting) == 0 {
		return nil, fmt.Errorf("fallback lines missing greeting bucket")
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Fallback{
		buckets: map[string][]string{
			types.InteractionGreeting: lines.Greeting,
			types.InteractionBattle:   lines.Battle,
			types.InteractionShop:     lines.Shop,
		},
		verboseSuffix: lines.VerboseSuffix,
		rng:           rng,
	}, nil
}

// Synthesize picks a canned line for the interaction type, shaped by the
// personality. Unknown interaction types use the greeting bucket.
func (f *Fallback) Synthesize(dctx types.DialogueContext, personality types.PersonalityProfile) types.DialogueResponse {
	bucket, ok := f.buckets[dctx.InteractionType]
	if !ok || len(bucket) == 0 {
		bucket = f.buckets[types.InteractionGreeting]
	}

	f.mu.Lock()
	text := bucket[f.rng.Intn(len(bucket))]
	f.mu.Unlock()

	if personality.Verbosity > 0.7 {
		text += f.verboseSuffix
	}

	emotion := types.EmotionNeutral
	if personality.Friendliness > 0.5 {
		emotion = types.EmotionHappy
	}

	return types.DialogueResponse{
		Text:               text,
		Emotion:            emotion,
		RelationshipChange: 0.1,
	}
}
