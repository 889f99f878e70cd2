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
	"time"

	"github.com/scrypster/npcflow/pkg/types"
)

// CloudConfig holds configuration for the cloud backend.
type CloudConfig struct {
	APIKey      string
	BaseURL     string        // default: https://api.anthropic.com
	Model       string        // default: claude-3-5-sonnet-20241022
	MaxTokens   int           // default: 300
	Temperature float64       // default: 0.7
	Timeout     time.Duration // default: 10s
}

// CloudBackend implements Backend over the Anthropic Messages API.
// The response is expected to follow the strict dialogue contract; when it
// does not, the backend degrades to a truncated plain-text response rather
// than failing the request.
type CloudBackend struct {
	cfg            CloudConfig
	client         *http.Client
	circuitBreaker *CircuitBreaker
}

// NewCloudBackend creates a cloud backend with the given configuration.
func NewCloudBackend(cfg CloudConfig) *CloudBackend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-sonnet-20241022"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 300
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &CloudBackend{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		circuitBreaker: NewCircuitBreaker("CloudBackend"),
	}
}

// messagesRequest is the request body for POST /v1/messages.
type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messagesResponse is the response body from POST /v1/messages.
type messagesResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// ID returns the backend identifier used in routing and ledger records.
func (c *CloudBackend) ID() string { return BackendCloud }

// Generate sends the prompt to the cloud model and parses the contract
// payload. Transport failures map onto the error taxonomy; parse failures
// degrade to truncated neutral text and never surface as errors.
func (c *CloudBackend) Generate(ctx context.Context, prompt string) (*Result, error) {
	start := time.Now()

	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.complete(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("cloud generate failed: %w", classifyTransportError(err))
	}

	raw := result.(string)
	latency := time.Since(start)
	tokens := estimateTokens(prompt) + estimateTokens(raw)

	resp, parseErr := parseContract(raw)
	if parseErr != nil {
		if extracted := extractBalancedJSON(raw); extracted != "" {
			resp, parseErr = parseContract(extracted)
		}
	}
	if parseErr != nil {
		// Degrade to plain text instead of raising: the payload arrived,
		// it just ignored the contract.
		log.Printf("llm: cloud response off-contract, degrading to plain text: %v", parseErr)
		resp = types.DialogueResponse{
			Text:    truncate(raw, maxStructuredTextLen),
			Emotion: types.EmotionNeutral,
		}
	}

	return &Result{
		Response: resp,
		RawText:  raw,
		Tokens:   tokens,
		Latency:  latency,
	}, nil
}

// complete is the raw Messages API call without circuit breaker wrapping.
func (c *CloudBackend) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	reqBody := messagesRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Messages: []message{
			{Role: "user", Content: prompt},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("cloud backend returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(respData.Content) == 0 {
		return "", fmt.Errorf("cloud backend returned empty content")
	}

	return respData.Content[0].Text, nil
}

// Compile-time assertion.
var _ Backend = (*CloudBackend)(nil)
