package engine

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/npcflow/internal/cache"
	"github.com/scrypster/npcflow/internal/llm"
	"github.com/scrypster/npcflow/pkg/types"
)

// BudgetLedger is the spend-tracking port the orchestrator records against.
type BudgetLedger interface {
	CanSpend(ctx context.Context) bool
	Record(ctx context.Context, backendID string, cost float64, tokens int64, latency time.Duration)
}

// Costs holds the per-request price of each backend in USD.
type Costs struct {
	Cloud float64
	Local float64
}

// Request carries everything needed to generate one dialogue line.
// Memories may be nil, in which case the orchestrator consults its memory
// provider (when configured). Emotional and Gossip are optional overrides;
// nil means "fetch from the provider if one is configured".
type Request struct {
	NPCID       string
	Context     types.DialogueContext
	Personality types.PersonalityProfile
	Memories    []types.MemoryItem
	ForceCloud  bool
	Emotional   *types.EmotionalInfluence
	Gossip      *types.GossipContext
}

// Orchestrator composes routing, caching, generation, validation and
// fallback into one request lifecycle. GenerateDialogue always returns a
// usable response and never returns an error to its caller.
type Orchestrator struct {
	ledger    BudgetLedger
	cache     cache.ResponseCache
	router    *Router
	backends  map[string]llm.Backend
	validator *Validator
	fallback  *Fallback
	costs     Costs

	memories MemoryProvider  // optional
	emotions EmotionProvider // optional
	gossip   GossipProvider  // optional

	// countCacheHits records a zero-cost ledger entry for cache hits so
	// they show up in request totals. Off by default.
	countCacheHits bool
}

// OrchestratorOption configures optional orchestrator collaborators.
type OrchestratorOption func(*Orchestrator)

// WithMemoryProvider wires the external memory store.
func WithMemoryProvider(p MemoryProvider) OrchestratorOption {
	return func(o *Orchestrator) { o.memories = p }
}

// WithEmotionProvider wires the emotional-state provider.
func WithEmotionProvider(p EmotionProvider) OrchestratorOption {
	return func(o *Orchestrator) { o.emotions = p }
}

// WithGossipProvider wires the gossip/reputation provider.
func WithGossipProvider(p GossipProvider) OrchestratorOption {
	return func(o *Orchestrator) { o.gossip = p }
}

// WithCacheHitCounting makes cache hits count toward daily request totals
// as zero-cost entries.
func WithCacheHitCounting() OrchestratorOption {
	return func(o *Orchestrator) { o.countCacheHits = true }
}

// NewOrchestrator wires the pipeline. All non-optional collaborators must
// be non-nil.
func NewOrchestrator(
	ledger BudgetLedger,
	responseCache cache.ResponseCache,
	router *Router,
	cloud, local llm.Backend,
	validator *Validator,
	fallback *Fallback,
	costs Costs,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		ledger: ledger,
		cache:  responseCache,
		router: router,
		backends: map[string]llm.Backend{
			llm.BackendCloud: cloud,
			llm.BackendLocal: local,
		},
		validator: validator,
		fallback:  fallback,
		costs:     costs,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// spendRecord is one completed backend call awaiting ledger recording.
type spendRecord struct {
	backendID string
	cost      float64
	tokens    int64
	latency   time.Duration
}

// GenerateDialogue runs the full pipeline for one request. Whatever fails
// along the way, the player receives in-character text.
func (o *Orchestrator) GenerateDialogue(ctx context.Context, req Request) types.DialogueResponse {
	reqID := uuid.NewString()[:8]

	fingerprint := cache.Fingerprint(req.NPCID, req.Context.InteractionType, req.Context.RelationshipLevel, len(req.Memories))
	if resp, ok := o.cache.Get(ctx, fingerprint); ok {
		log.Printf("[Orchestrator] %s cache hit for npc %s", reqID, req.NPCID)
		if o.countCacheHits {
			o.ledger.Record(ctx, "cache", 0, 0, 0)
		}
		return resp
	}

	// Budget exhaustion clears any force-cloud override before routing.
	if req.ForceCloud && !o.ledger.CanSpend(ctx) {
		req.ForceCloud = false
	}

	o.resolveProviders(ctx, &req)

	backendID := o.router.Route(ctx, req.Context, req.Memories, req.ForceCloud)

	resp, records, ok := o.invoke(ctx, reqID, backendID, req)
	if !ok {
		resp = o.fallback.Synthesize(req.Context, req.Personality)
		log.Printf("[Orchestrator] %s using fallback for npc %s", reqID, req.NPCID)
	} else if verdict := o.validator.Validate(resp, req.Context, req.Personality); verdict.Severity == types.SeverityCritical {
		log.Printf("[Orchestrator] %s validation critical for npc %s (score %.2f): %v", reqID, req.NPCID, verdict.Score, verdict.Issues)
		resp = o.fallback.Synthesize(req.Context, req.Personality)
	} else if len(verdict.Issues) > 0 {
		log.Printf("[Orchestrator] %s validation %s for npc %s (score %.2f): %v", reqID, verdict.Severity, req.NPCID, verdict.Score, verdict.Issues)
	}

	// The cost of completed backend calls is owed even when the text was
	// ultimately replaced. Ledger and cache writes survive caller
	// cancellation.
	bg := context.WithoutCancel(ctx)
	for _, rec := range records {
		o.ledger.Record(bg, rec.backendID, rec.cost, rec.tokens, rec.latency)
	}

	o.cache.Put(bg, fingerprint, resp)
	o.storeMemory(bg, req, resp)

	return resp
}

// invoke calls the routed backend and applies the local quality gate,
// rerouting to cloud at most once on local failure or a too-generic local
// response. It returns the response, the spend records for every completed
// call, and whether any backend produced a usable response.
func (o *Orchestrator) invoke(ctx context.Context, reqID, backendID string, req Request) (types.DialogueResponse, []spendRecord, bool) {
	var records []spendRecord

	result, err := o.callBackend(ctx, backendID, req)
	if err != nil {
		if ctx.Err() != nil {
			log.Printf("[Orchestrator] %s request cancelled during %s call for npc %s", reqID, backendID, req.NPCID)
			return types.DialogueResponse{}, records, false
		}
		log.Printf("[Orchestrator] %s %s backend failed for npc %s: %v", reqID, backendID, req.NPCID, err)

		if backendID == llm.BackendLocal && o.ledger.CanSpend(ctx) {
			result, err = o.callBackend(ctx, llm.BackendCloud, req)
			if err != nil {
				log.Printf("[Orchestrator] %s cloud reroute failed for npc %s: %v", reqID, req.NPCID, err)
				return types.DialogueResponse{}, records, false
			}
			records = append(records, o.spendFor(llm.BackendCloud, result))
			return result.Response, records, true
		}
		return types.DialogueResponse{}, records, false
	}
	records = append(records, o.spendFor(backendID, result))

	if backendID == llm.BackendLocal && tooGeneric(result.Response, req.Memories, req.Context) {
		log.Printf("[Orchestrator] %s local response too generic for npc %s, retrying on cloud", reqID, req.NPCID)
		if !o.ledger.CanSpend(ctx) {
			return result.Response, records, true
		}
		retry, err := o.callBackend(ctx, llm.BackendCloud, req)
		if err != nil {
			log.Printf("[Orchestrator] %s cloud retry failed for npc %s, keeping local response: %v", reqID, req.NPCID, err)
			return result.Response, records, true
		}
		records = append(records, o.spendFor(llm.BackendCloud, retry))
		return retry.Response, records, true
	}

	return result.Response, records, true
}

func (o *Orchestrator) callBackend(ctx context.Context, backendID string, req Request) (*llm.Result, error) {
	input := llm.PromptInput{
		Context:     req.Context,
		Personality: req.Personality,
		Memories:    req.Memories,
		Emotional:   req.Emotional,
		Gossip:      req.Gossip,
	}

	var prompt string
	if backendID == llm.BackendCloud {
		prompt = llm.BuildCloudPrompt(input)
	} else {
		prompt = llm.BuildLocalPrompt(input)
	}

	return o.backends[backendID].Generate(ctx, prompt)
}

func (o *Orchestrator) spendFor(backendID string, result *llm.Result) spendRecord {
	cost := o.costs.Local
	if backendID == llm.BackendCloud {
		cost = o.costs.Cloud
	}
	return spendRecord{
		backendID: backendID,
		cost:      cost,
		tokens:    int64(result.Tokens),
		latency:   result.Latency,
	}
}

// resolveProviders fills optional request inputs from the configured
// collaborators. Provider failures are logged and skipped.
func (o *Orchestrator) resolveProviders(ctx context.Context, req *Request) {
	if req.Memories == nil && o.memories != nil {
		memories, err := o.memories.GetMemories(ctx, req.NPCID, req.Context.PlayerID, req.Context.InteractionType, 5)
		if err != nil {
			log.Printf("[Orchestrator] memory lookup failed for npc %s: %v", req.NPCID, err)
		} else {
			req.Memories = memories
		}
	}

	if req.Emotional == nil && o.emotions != nil {
		influence, err := o.emotions.CurrentInfluence(ctx, req.NPCID)
		if err != nil {
			log.Printf("[Orchestrator] emotional state lookup failed for npc %s: %v", req.NPCID, err)
		} else {
			req.Emotional = influence
		}
	}

	if req.Gossip == nil && o.gossip != nil {
		gctx, err := o.gossip.GossipAbout(ctx, req.NPCID, req.Context.PlayerID)
		if err != nil {
			log.Printf("[Orchestrator] gossip lookup failed for npc %s: %v", req.NPCID, err)
		} else {
			req.Gossip = gctx
		}
	}
}

func (o *Orchestrator) storeMemory(ctx context.Context, req Request, resp types.DialogueResponse) {
	if o.memories == nil {
		return
	}
	if err := o.memories.StoreMemory(ctx, req.NPCID, req.Context, resp); err != nil {
		log.Printf("[Orchestrator] memory store failed for npc %s: %v", req.NPCID, err)
	}
}
