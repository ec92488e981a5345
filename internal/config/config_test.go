package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.GenProvider != "auto" {
		t.Fatalf("GenProvider = %q, want %q", cfg.GenProvider, "auto")
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
	if cfg.InitialAffection != 50 {
		t.Fatalf("InitialAffection = %d, want 50", cfg.InitialAffection)
	}
	if cfg.EmbeddingDim != 1536 {
		t.Fatalf("EmbeddingDim = %d, want 1536", cfg.EmbeddingDim)
	}
}

func TestLoadUsesExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("GEN_PROVIDER", "mock")
	t.Setenv("APP_WORKER_TIMEOUT", "5s")
	t.Setenv("APP_INITIAL_AFFECTION", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GenProvider != "mock" {
		t.Fatalf("GenProvider = %q, want %q", cfg.GenProvider, "mock")
	}
	if got := cfg.WorkerTimeout.Seconds(); got != 5 {
		t.Fatalf("WorkerTimeout = %vs, want 5s", got)
	}
	if cfg.InitialAffection != 30 {
		t.Fatalf("InitialAffection = %d, want 30", cfg.InitialAffection)
	}
}

func TestLoadRejectsOutOfRangeAffection(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_INITIAL_AFFECTION", "120")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject APP_INITIAL_AFFECTION outside [0,100]")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_DIALOGUE_TIMEOUT",
		"APP_WORKER_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_INITIAL_AFFECTION",
		"APP_HISTORY_CONTEXT_LIMIT",
		"GEN_PROVIDER",
		"GEN_TEMPERATURE",
		"GEN_MAX_TOKENS",
		"OPENAI_MODEL",
		"ANTHROPIC_MODEL",
		"OPENAI_API_KEY",
		"ANTHROPIC_API_KEY",
		"DATABASE_URL",
		"SEMANTIC_DATABASE_URL",
		"EMBEDDING_MODEL",
		"EMBEDDING_DIM",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
