// Package config provides configuration management for npcflow.
// It loads settings from environment variables with the NPCFLOW_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings for the npcflow service.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Budget   BudgetConfig
	Cloud    CloudConfig
	Local    LocalConfig
	Cache    CacheConfig
	Routing  RoutingConfig
	Security SecurityConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 6464)
	Host string // Server host (default: 127.0.0.1)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	DataPath string // Path to data directory (default: ./data)
}

// BudgetConfig contains spend-cap and bookkeeping settings.
type BudgetConfig struct {
	DailyCapUSD    float64 // Hard daily spend cap in USD (default: 50.0)
	CloudCostUSD   float64 // Estimated cost per cloud request (default: 0.02)
	LocalCostUSD   float64 // Estimated cost per local request (default: 0.001)
	RetentionDays  int     // Days of daily counters to retain (default: 7)
	CountCacheHits bool    // Count cache hits toward daily request totals (default: false)
	AlertThreshold float64 // Initial alert threshold percent, 0 = unset (default: 0)
}

// CloudConfig contains the cloud inference backend configuration.
type CloudConfig struct {
	APIKey      string        // Anthropic API key
	Model       string        // Model name (default: claude-3-5-sonnet-20241022)
	MaxTokens   int           // Response token bound (default: 300)
	Temperature float64       // Sampling temperature (default: 0.7)
	Timeout     time.Duration // Request timeout (default: 10s)
}

// LocalConfig contains the local inference backend configuration.
type LocalConfig struct {
	BaseURL        string        // Ollama API URL (default: http://localhost:11434)
	Model          string        // Model name (default: mistral:7b)
	MaxTokens      int           // Response token bound (default: 200)
	Temperature    float64       // Sampling temperature (default: 0.7)
	Timeout        time.Duration // Request timeout (default: 8s)
	HealthInterval time.Duration // Minimum interval between health probes (default: 5m)
}

// CacheConfig contains response cache settings.
type CacheConfig struct {
	TTL     time.Duration // Response cache TTL (default: 1h)
	Size    int           // In-memory cache entry bound (default: 4096)
	Durable bool          // Use the sqlite-backed cache instead of in-memory (default: false)
}

// RoutingConfig contains backend routing policy settings.
type RoutingConfig struct {
	LocalAffinity float64 // Probability of choosing the local backend on the random leg (default: 0.8)
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode string  // Security mode: development, production (default: development)
	APIToken     string  // API authentication token
	RateLimit    float64 // Sustained requests/sec for the ops surface (default: 20)
	RateBurst    int     // Rate limiter burst size (default: 40)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the NPCFLOW_ prefix.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("NPCFLOW_PORT", 6464),
			Host: getEnv("NPCFLOW_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			DataPath: getEnv("NPCFLOW_DATA_PATH", "./data"),
		},
		Budget: BudgetConfig{
			DailyCapUSD:    getEnvFloat("NPCFLOW_BUDGET_DAILY_CAP_USD", 50.0),
			CloudCostUSD:   getEnvFloat("NPCFLOW_BUDGET_CLOUD_COST_USD", 0.02),
			LocalCostUSD:   getEnvFloat("NPCFLOW_BUDGET_LOCAL_COST_USD", 0.001),
			RetentionDays:  getEnvInt("NPCFLOW_BUDGET_RETENTION_DAYS", 7),
			CountCacheHits: getEnvBool("NPCFLOW_BUDGET_COUNT_CACHE_HITS", false),
			AlertThreshold: getEnvFloat("NPCFLOW_BUDGET_ALERT_THRESHOLD", 0),
		},
		Cloud: CloudConfig{
			APIKey:      getEnv("NPCFLOW_ANTHROPIC_API_KEY", ""),
			Model:       getEnv("NPCFLOW_CLOUD_MODEL", "claude-3-5-sonnet-20241022"),
			MaxTokens:   getEnvInt("NPCFLOW_CLOUD_MAX_TOKENS", 300),
			Temperature: getEnvFloat("NPCFLOW_CLOUD_TEMPERATURE", 0.7),
			Timeout:     getEnvDuration("NPCFLOW_CLOUD_TIMEOUT", 10*time.Second),
		},
		Local: LocalConfig{
			BaseURL:        getEnv("NPCFLOW_OLLAMA_URL", "http://localhost:11434"),
			Model:          getEnv("NPCFLOW_LOCAL_MODEL", "mistral:7b"),
			MaxTokens:      getEnvInt("NPCFLOW_LOCAL_MAX_TOKENS", 200),
			Temperature:    getEnvFloat("NPCFLOW_LOCAL_TEMPERATURE", 0.7),
			Timeout:        getEnvDuration("NPCFLOW_LOCAL_TIMEOUT", 8*time.Second),
			HealthInterval: getEnvDuration("NPCFLOW_LOCAL_HEALTH_INTERVAL", 5*time.Minute),
		},
		Cache: CacheConfig{
			TTL:     getEnvDuration("NPCFLOW_CACHE_TTL", time.Hour),
			Size:    getEnvInt("NPCFLOW_CACHE_SIZE", 4096),
			Durable: getEnvBool("NPCFLOW_CACHE_DURABLE", false),
		},
		Routing: RoutingConfig{
			LocalAffinity: getEnvFloat("NPCFLOW_LOCAL_AFFINITY", 0.8),
		},
		Security: SecurityConfig{
			SecurityMode: getEnv("NPCFLOW_SECURITY_MODE", "development"),
			APIToken:     getEnv("NPCFLOW_API_TOKEN", ""),
			RateLimit:    getEnvFloat("NPCFLOW_RATE_LIMIT", 20),
			RateBurst:    getEnvInt("NPCFLOW_RATE_BURST", 40),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime behavior.
func (c *Config) Validate() error {
	if c.Budget.DailyCapUSD < 0 {
		return fmt.Errorf("config: daily cap must be non-negative, got %f", c.Budget.DailyCapUSD)
	}
	if c.Routing.LocalAffinity < 0 || c.Routing.LocalAffinity > 1 {
		return fmt.Errorf("config: local affinity must be in [0,1], got %f", c.Routing.LocalAffinity)
	}
	if c.Budget.RetentionDays < 1 {
		return fmt.Errorf("config: retention days must be at least 1, got %d", c.Budget.RetentionDays)
	}
	if c.Cache.Size < 1 {
		return fmt.Errorf("config: cache size must be at least 1, got %d", c.Cache.Size)
	}
	if c.Security.SecurityMode == "production" && c.Security.APIToken == "" {
		return fmt.Errorf("config: production mode requires NPCFLOW_API_TOKEN")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "10s", "5m") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
