package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the companion chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	GenProvider    string
	OpenAIModel    string
	AnthropicModel string
	GenTemperature float64
	GenMaxTokens   int

	DialogueTimeout time.Duration
	WorkerTimeout   time.Duration

	DatabaseURL         string
	SemanticDatabaseURL string

	EmbeddingModel string
	EmbeddingDim   int

	SessionInactivityTimeout time.Duration
	InitialAffection         int
	HistoryContextLimit      int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "amie"),
		AllowAnyOrigin:      false,
		GenProvider:         envOrDefault("GEN_PROVIDER", "auto"),
		OpenAIModel:         envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		AnthropicModel:      envOrDefault("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
		GenTemperature:      0.8,
		GenMaxTokens:        1024,
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		SemanticDatabaseURL: stringsTrimSpace("SEMANTIC_DATABASE_URL"),
		EmbeddingModel:      envOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDim:        1536,

		ShutdownTimeout:          15 * time.Second,
		DialogueTimeout:          30 * time.Second,
		WorkerTimeout:            20 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
		InitialAffection:         50,
		HistoryContextLimit:      20,
	}
	// The semantic index can point at its own database; by default it
	// shares the structured one on a separate pool.
	if cfg.SemanticDatabaseURL == "" {
		cfg.SemanticDatabaseURL = cfg.DatabaseURL
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DialogueTimeout, err = durationFromEnv("APP_DIALOGUE_TIMEOUT", cfg.DialogueTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WorkerTimeout, err = durationFromEnv("APP_WORKER_TIMEOUT", cfg.WorkerTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddingDim, err = intFromEnv("EMBEDDING_DIM", cfg.EmbeddingDim)
	if err != nil {
		return Config{}, err
	}
	cfg.GenMaxTokens, err = intFromEnv("GEN_MAX_TOKENS", cfg.GenMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.InitialAffection, err = intFromEnv("APP_INITIAL_AFFECTION", cfg.InitialAffection)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryContextLimit, err = intFromEnv("APP_HISTORY_CONTEXT_LIMIT", cfg.HistoryContextLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.GenTemperature, err = floatFromEnv("GEN_TEMPERATURE", cfg.GenTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.DialogueTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_DIALOGUE_TIMEOUT must be at least 1s")
	}
	if cfg.WorkerTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_WORKER_TIMEOUT must be at least 1s")
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.EmbeddingDim <= 0 {
		return Config{}, fmt.Errorf("EMBEDDING_DIM must be positive")
	}
	if cfg.GenMaxTokens <= 0 {
		return Config{}, fmt.Errorf("GEN_MAX_TOKENS must be positive")
	}
	if cfg.InitialAffection < 0 || cfg.InitialAffection > 100 {
		return Config{}, fmt.Errorf("APP_INITIAL_AFFECTION must be within [0,100]")
	}
	if cfg.HistoryContextLimit <= 0 {
		return Config{}, fmt.Errorf("APP_HISTORY_CONTEXT_LIMIT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
