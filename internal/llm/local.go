package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/scrypster/npcflow/pkg/types"
)

// LocalConfig holds configuration for the local backend.
type LocalConfig struct {
	BaseURL        string        // default: http://localhost:11434
	Model          string        // default: mistral:7b
	MaxTokens      int           // default: 200
	Temperature    float64       // default: 0.7
	Timeout        time.Duration // default: 8s
	HealthInterval time.Duration // default: 5m
}

// LocalBackend implements Backend over the Ollama generate API.
//
// Health is probed at most once per HealthInterval; the probe is
// single-flight, so concurrent callers past the refresh point share one
// in-flight probe instead of stampeding the server. While unhealthy the
// backend fails immediately with ErrBackendUnavailable rather than
// attempting the call.
type LocalBackend struct {
	cfg            LocalConfig
	client         *http.Client
	circuitBreaker *CircuitBreaker

	healthMu    sync.Mutex
	healthy     bool
	lastProbe   time.Time
	probeFlight singleflight.Group
}

// NewLocalBackend creates a local backend with the given configuration.
func NewLocalBackend(cfg LocalConfig) *LocalBackend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "mistral:7b"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 200
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = 5 * time.Minute
	}
	return &LocalBackend{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		circuitBreaker: NewCircuitBreaker("LocalBackend"),
	}
}

// generateRequest represents the request body for /api/generate.
type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// generateResponse represents the response from /api/generate.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// tagsResponse represents the response from /api/tags.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ID returns the backend identifier used in routing and ledger records.
func (c *LocalBackend) ID() string { return BackendLocal }

// Generate checks health, calls the local model and walks the parse ladder:
// balanced-JSON extraction, then strict decode, then heuristic text
// cleanup. Only when no rung recovers any text does it fail with
// ErrMalformedOutput.
func (c *LocalBackend) Generate(ctx context.Context, prompt string) (*Result, error) {
	if !c.checkHealth(ctx) {
		return nil, fmt.Errorf("local backend unhealthy: %w", ErrBackendUnavailable)
	}

	start := time.Now()

	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.complete(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("local generate failed: %w", classifyTransportError(err))
	}

	raw := result.(string)
	latency := time.Since(start)
	tokens := estimateTokens(prompt) + estimateTokens(raw)

	resp, ok := c.parseLocalResponse(raw)
	if !ok {
		return nil, fmt.Errorf("local response unrecoverable: %w", ErrMalformedOutput)
	}

	return &Result{
		Response: resp,
		RawText:  raw,
		Tokens:   tokens,
		Latency:  latency,
	}, nil
}

// parseLocalResponse walks the recovery ladder for free-form local output.
func (c *LocalBackend) parseLocalResponse(raw string) (types.DialogueResponse, bool) {
	if extracted := extractBalancedJSON(raw); extracted != "" {
		if resp, err := parseContract(extracted); err == nil {
			return resp, true
		}
	}
	return recoverPlainText(raw)
}

// complete is the raw generate call without circuit breaker wrapping.
func (c *LocalBackend) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	reqBody := generateRequest{
		Model:  c.cfg.Model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": c.cfg.Temperature,
			"top_p":       0.9,
			"num_predict": c.cfg.MaxTokens,
			"stop":        []string{"</response>", "\n\n---", "Human:", "User:"},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("local backend returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return respData.Response, nil
}

// checkHealth returns the cached health verdict, refreshing it via a
// single-flight probe when the refresh interval has elapsed.
func (c *LocalBackend) checkHealth(ctx context.Context) bool {
	c.healthMu.Lock()
	if time.Since(c.lastProbe) < c.cfg.HealthInterval {
		healthy := c.healthy
		c.healthMu.Unlock()
		return healthy
	}
	c.healthMu.Unlock()

	// First caller past the interval performs the probe; concurrent
	// callers share its result. The verdict is cached for the whole
	// interval, so the probe runs detached from the caller's context with
	// its own timeout; a hung-up caller must not mark the server down.
	v, _, _ := c.probeFlight.Do("health", func() (interface{}, error) {
		healthy := c.probe(context.WithoutCancel(ctx))

		c.healthMu.Lock()
		c.healthy = healthy
		c.lastProbe = time.Now()
		c.healthMu.Unlock()

		return healthy, nil
	})
	return v.(bool)
}

// probe checks that the server answers /api/tags and that the configured
// model is installed.
func (c *LocalBackend) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("llm: local health probe failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("llm: local health probe returned status %d", resp.StatusCode)
		return false
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		log.Printf("llm: local health probe decode failed: %v", err)
		return false
	}

	for _, model := range tags.Models {
		if strings.Contains(model.Name, c.cfg.Model) {
			return true
		}
	}
	log.Printf("llm: model %s not installed on local backend", c.cfg.Model)
	return false
}

// Compile-time assertion.
var _ Backend = (*LocalBackend)(nil)
