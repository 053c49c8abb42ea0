// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime settings.
type Config struct {
	// LLM provider
	LLMAPIKey     string
	LLMBaseURL    string
	LLMModel      string
	LLMMaxRetries int

	// Persistence. StoreURL is a Postgres DSN, or "memory" for the
	// in-process store (dev runs and tests).
	StoreURL string

	AgentTimeout    time.Duration
	TradingInterval time.Duration

	HTTPPort    int
	WorkerCount int
}

const (
	defaultLLMBaseURL = "https://api.openai.com/v1"
	defaultLLMModel   = "gpt-4o"
)

// Load reads configuration from the environment. Missing required values
// return an error; the caller exits with code 1.
func Load() (Config, error) {
	cfg := Config{
		LLMAPIKey:       os.Getenv("LLM_API_KEY"),
		LLMBaseURL:      getEnvOrDefault("LLM_BASE_URL", defaultLLMBaseURL),
		LLMModel:        getEnvOrDefault("LLM_MODEL", defaultLLMModel),
		StoreURL:        os.Getenv("STORE_URL"),
	}

	if cfg.StoreURL == "" {
		return Config{}, fmt.Errorf("STORE_URL is required")
	}
	if cfg.LLMAPIKey == "" {
		return Config{}, fmt.Errorf("LLM_API_KEY is required")
	}

	var err error
	if cfg.LLMMaxRetries, err = intEnv("LLM_MAX_RETRIES", 3); err != nil {
		return Config{}, err
	}
	agentTimeout, err := intEnv("AGENT_TIMEOUT_SECONDS", 300)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentTimeout = time.Duration(agentTimeout) * time.Second

	tradingInterval, err := intEnv("TRADING_INTERVAL_SECONDS", 30)
	if err != nil {
		return Config{}, err
	}
	cfg.TradingInterval = time.Duration(tradingInterval) * time.Second

	if cfg.HTTPPort, err = intEnv("HTTP_PORT", 8080); err != nil {
		return Config{}, err
	}
	if cfg.WorkerCount, err = intEnv("WORKER_COUNT", 2); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// UseMemoryStore reports whether the in-process store was selected.
func (c Config) UseMemoryStore() bool {
	return c.StoreURL == "memory"
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func intEnv(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
