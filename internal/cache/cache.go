// Package cache provides the response cache for generated dialogue.
// Entries are keyed by request fingerprint and expire passively: the
// in-memory implementation uses an expirable LRU and the durable
// implementation checks expiry at read time. At most one live entry exists
// per fingerprint; last write wins.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/scrypster/npcflow/internal/storage"
	"github.com/scrypster/npcflow/pkg/types"
)

// ResponseCache is the cache port consumed by the orchestrator.
type ResponseCache interface {
	// Get returns the cached response for a fingerprint, if present and
	// not expired.
	Get(ctx context.Context, fingerprint string) (types.DialogueResponse, bool)

	// Put stores a response under a fingerprint for the cache's TTL.
	Put(ctx context.Context, fingerprint string, resp types.DialogueResponse)
}

// Fingerprint derives the deterministic cache key from the semantically
// relevant subset of a request: NPC, interaction type, relationship level
// rounded to one decimal, and memory count. Two requests that agree on
// these produce identical dialogue within the TTL.
func Fingerprint(npcID, interactionType string, relationshipLevel float64, memoryCount int) string {
	content := fmt.Sprintf("%s:%s:%.1f:%d", npcID, interactionType, relationshipLevel, memoryCount)
	sum := sha256.Sum256([]byte(content))
	return "dialogue:" + hex.EncodeToString(sum[:])
}

// MemoryCache is an in-process ResponseCache backed by an expirable LRU.
type MemoryCache struct {
	lru *expirable.LRU[string, types.DialogueResponse]
}

// NewMemoryCache creates an in-memory cache bounded to size entries with
// the given TTL.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		lru: expirable.NewLRU[string, types.DialogueResponse](size, nil, ttl),
	}
}

// Get returns the cached response for a fingerprint.
func (c *MemoryCache) Get(_ context.Context, fingerprint string) (types.DialogueResponse, bool) {
	return c.lru.Get(fingerprint)
}

// Put stores a response, replacing any live entry for the fingerprint.
func (c *MemoryCache) Put(_ context.Context, fingerprint string, resp types.DialogueResponse) {
	c.lru.Add(fingerprint, resp)
}

// StoreCache is a durable ResponseCache over a storage.CacheStore.
// Store failures are logged and treated as misses; caching is never on the
// request critical path.
type StoreCache struct {
	store storage.CacheStore
	ttl   time.Duration
}

// NewStoreCache creates a durable cache with the given TTL.
func NewStoreCache(store storage.CacheStore, ttl time.Duration) *StoreCache {
	return &StoreCache{store: store, ttl: ttl}
}

// Get returns the cached response for a fingerprint. Expired entries are
// pruned by the store on read.
func (c *StoreCache) Get(ctx context.Context, fingerprint string) (types.DialogueResponse, bool) {
	payload, err := c.store.GetEntry(ctx, fingerprint)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("cache: read failed for %s: %v", fingerprint, err)
		}
		return types.DialogueResponse{}, false
	}

	var resp types.DialogueResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		log.Printf("cache: corrupt entry for %s: %v", fingerprint, err)
		return types.DialogueResponse{}, false
	}
	return resp, true
}

// Put stores a response with an absolute expiry of now+TTL.
func (c *StoreCache) Put(ctx context.Context, fingerprint string, resp types.DialogueResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		log.Printf("cache: marshal failed for %s: %v", fingerprint, err)
		return
	}
	if err := c.store.SetEntry(ctx, fingerprint, payload, time.Now().Add(c.ttl)); err != nil {
		log.Printf("cache: write failed for %s: %v", fingerprint, err)
	}
}

// Compile-time assertions.
var _ ResponseCache = (*MemoryCache)(nil)
var _ ResponseCache = (*StoreCache)(nil)
