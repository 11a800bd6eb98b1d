package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9090
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.AI.ProviderOrder) != 2 || cfg.AI.ProviderOrder[0] != "ollama" {
		t.Fatalf("default provider order = %v", cfg.AI.ProviderOrder)
	}
	if cfg.Memory.Cache.MaxSize != 10000 || cfg.Memory.Cache.TTL != Duration(24*time.Hour) {
		t.Fatalf("cache defaults = %+v", cfg.Memory.Cache)
	}
	if cfg.Memory.Search.MinScore != 0.3 || cfg.Memory.Search.DefaultLimit != 10 {
		t.Fatalf("search defaults = %+v", cfg.Memory.Search)
	}
	if cfg.Database.Qdrant.Collection != "memories" || cfg.Database.Qdrant.VectorSize != 1536 {
		t.Fatalf("qdrant defaults = %+v", cfg.Database.Qdrant)
	}
}

func TestLoadRespectsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
memory:
  cache:
    max_size: 500
    ttl: 1h
  capture:
    batch_size: 32
    flush_interval: 2s
  search:
    min_score: 0.5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Memory.Cache.MaxSize != 500 || cfg.Memory.Cache.TTL != Duration(time.Hour) {
		t.Fatalf("cache = %+v", cfg.Memory.Cache)
	}
	if cfg.Memory.Capture.BatchSize != 32 || cfg.Memory.Capture.FlushInterval != Duration(2*time.Second) {
		t.Fatalf("capture = %+v", cfg.Memory.Capture)
	}
	if cfg.Memory.Search.MinScore != 0.5 {
		t.Fatalf("min score = %f", cfg.Memory.Search.MinScore)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OLLAMA_HOST", "http://elsewhere:11434")

	path := writeConfig(t, `
ai:
  openai:
    api_key: "from-file"
  ollama:
    host: "http://localhost:11434"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.AI.OpenAI.APIKey != "sk-test" {
		t.Fatalf("env should override file, got %q", cfg.AI.OpenAI.APIKey)
	}
	if cfg.AI.Ollama.Host != "http://elsewhere:11434" {
		t.Fatalf("ollama host = %q", cfg.AI.Ollama.Host)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
