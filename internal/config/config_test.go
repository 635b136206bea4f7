package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LLM.Backend != "openai" {
		t.Errorf("default backend = %q, want openai", cfg.LLM.Backend)
	}
	if cfg.LLM.MaxIterations != 10 {
		t.Errorf("default max_iterations = %d, want 10", cfg.LLM.MaxIterations)
	}
	if cfg.Approval.ConfirmTimeout != 5*time.Minute {
		t.Errorf("confirm timeout = %v, want 5m", cfg.Approval.ConfirmTimeout)
	}
	if cfg.Approval.CriticalTimeout != 30*time.Minute {
		t.Errorf("critical timeout = %v, want 30m", cfg.Approval.CriticalTimeout)
	}
	if cfg.Voting.MinQuorum != 3 || cfg.Voting.NInferences != 5 {
		t.Errorf("voting defaults wrong: %+v", cfg.Voting)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file failed: %v", err)
	}
	if cfg.LLM.FastModel != "llama3.1:8b" {
		t.Errorf("expected defaults, got fast_model=%q", cfg.LLM.FastModel)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
log_level: debug
llm:
  endpoint: http://gpu-box:11434/v1
  max_iterations: 6
vault:
  path: /home/me/notes
voting:
  n_inferences: 7
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if cfg.LLM.Endpoint != "http://gpu-box:11434/v1" {
		t.Errorf("endpoint = %q", cfg.LLM.Endpoint)
	}
	if cfg.LLM.MaxIterations != 6 {
		t.Errorf("max_iterations = %d", cfg.LLM.MaxIterations)
	}
	// untouched fields keep defaults
	if cfg.LLM.FastModel != "llama3.1:8b" {
		t.Errorf("fast_model lost its default: %q", cfg.LLM.FastModel)
	}
	if cfg.Voting.NInferences != 7 || cfg.Voting.MinQuorum != 3 {
		t.Errorf("voting merge wrong: %+v", cfg.Voting)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Backend = "anthropic"
	if err := cfg.Validate(); err == nil {
		t.Error("anthropic without allow_paid should fail validation")
	}

	cfg.LLM.AllowPaid = true
	cfg.LLM.AnthropicAPIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Errorf("anthropic with opt-in and key should validate: %v", err)
	}

	cfg = DefaultConfig()
	cfg.HPC.Clusters = []ClusterProfile{{Name: "kisti", Scheduler: "lsf"}}
	if err := cfg.Validate(); err == nil {
		t.Error("unknown scheduler should fail validation")
	}
}

func TestEnvSecrets(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")
	t.Setenv("POLARIS_BOT_TOKEN", "tok")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.AnthropicAPIKey != "sk-env" {
		t.Errorf("api key not taken from env: %q", cfg.LLM.AnthropicAPIKey)
	}
	if cfg.Bot.Token != "tok" {
		t.Errorf("bot token not taken from env: %q", cfg.Bot.Token)
	}
}
