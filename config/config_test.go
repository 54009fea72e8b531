package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	errorskg "github.com/sweetpotato0/crag/errors"
)

func validConfig() *Config {
	cfg := Default()
	cfg.LLM.APIKey = "sk-test"
	cfg.WebSearch.APIKey = "tvly-test"
	return cfg
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Engine.RelevanceThreshold != 0.5 || cfg.Engine.MaxRetries != 2 || cfg.Engine.MaxHITL != 2 {
		t.Fatalf("unexpected engine defaults %+v", cfg.Engine)
	}
	if cfg.Session.Backend != BackendMemory {
		t.Fatalf("expected memory session backend, got %s", cfg.Session.Backend)
	}
}

func TestLoadYAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crag.yaml")
	yamlDoc := []byte(`
engine:
  relevance_threshold: 0.7
  top_k: 5
  request_timeout: 10s
llm:
  provider: claude
  model: claude-sonnet-4-5
session:
  backend: redis
  redis:
    addr: redis:6379
`)
	if err := os.WriteFile(path, yamlDoc, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CRAG_ENGINE__TOP_K", "7")
	t.Setenv("CRAG_LLM__API_KEY", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Engine.RelevanceThreshold != 0.7 {
		t.Fatalf("expected yaml threshold 0.7, got %v", cfg.Engine.RelevanceThreshold)
	}
	if cfg.Engine.TopK != 7 {
		t.Fatalf("expected env override top_k=7, got %d", cfg.Engine.TopK)
	}
	if cfg.Engine.RequestTimeout != 10*time.Second {
		t.Fatalf("expected 10s timeout, got %s", cfg.Engine.RequestTimeout)
	}
	if cfg.LLM.Provider != ProviderClaude || cfg.LLM.APIKey != "from-env" {
		t.Fatalf("unexpected llm section %+v", cfg.LLM)
	}
	if cfg.Session.Redis.Addr != "redis:6379" || cfg.Session.Redis.Prefix != "crag:session:" {
		t.Fatalf("expected yaml addr merged with default prefix, got %+v", cfg.Session.Redis)
	}
	if cfg.Engine.MaxRetries != 2 {
		t.Fatalf("untouched defaults must survive, got max_retries=%d", cfg.Engine.MaxRetries)
	}
}

func TestValidateDefaultsNeedSecrets(t *testing.T) {
	err := Default().Validate()
	if err == nil {
		t.Fatalf("expected missing api keys to fail validation")
	}
	if !errorskg.Fatal(err) {
		t.Fatalf("configuration errors must be fatal: %v", err)
	}
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateBackendSpecificSections(t *testing.T) {
	cfg := validConfig()
	cfg.Index.Backend = BackendPostgres
	if err := cfg.Validate(); err == nil {
		t.Fatalf("postgres index without embedding key should fail")
	}
	cfg.Embedding.APIKey = "sk-embed"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.Session.Backend = "etcd"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown session backend should fail")
	}
}

func TestRetryPolicyFromEngine(t *testing.T) {
	e := DefaultEngine()
	e.RetryAttempts = 5
	e.RequestTimeout = 3 * time.Second
	p := e.RetryPolicy()
	if p.MaxAttempts != 5 || p.AttemptTimeout != 3*time.Second || p.InitialInterval != time.Second {
		t.Fatalf("unexpected policy %+v", p)
	}
}
