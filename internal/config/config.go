// Package config loads the Polaris runtime configuration from a YAML
// file, with defaults for every field and environment overrides for
// secrets. Missing file means pure defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// CONFIGURATION STRUCTURES
// =============================================================================

// Config is the root configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`

	LLM      LLMConfig      `yaml:"llm"`
	Embed    EmbedConfig    `yaml:"embedding"`
	Memory   MemoryConfig   `yaml:"memory"`
	Vault    VaultConfig    `yaml:"vault"`
	Skills   SkillsConfig   `yaml:"skills"`
	Approval ApprovalConfig `yaml:"approval"`
	Reload   ReloadConfig   `yaml:"reload"`
	Voting   VotingConfig   `yaml:"voting"`
	SSH      SSHConfig      `yaml:"ssh"`
	Mail     MailConfig     `yaml:"mail"`
	HPC      HPCConfig      `yaml:"hpc"`
	Bot      BotConfig      `yaml:"bot"`
}

// LLMConfig selects the inference backend and models.
// Backend "openai" speaks the OpenAI-compatible chat API of a local
// server; "anthropic" is the paid API and requires AllowPaid.
type LLMConfig struct {
	Backend   string `yaml:"backend"`
	AllowPaid bool   `yaml:"allow_paid"`

	Endpoint  string `yaml:"endpoint"`
	FastModel string `yaml:"fast_model"`
	FullModel string `yaml:"full_model"`

	AnthropicModel  string `yaml:"anthropic_model"`
	AnthropicAPIKey string `yaml:"-"` // env only, never in the file

	MaxIterations int `yaml:"max_iterations"`
}

// EmbedConfig configures the embedding engine.
type EmbedConfig struct {
	Provider string `yaml:"provider"` // "ollama" or "genai"

	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	GenAIModel  string `yaml:"genai_model"`
	GenAIAPIKey string `yaml:"-"` // env only

	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

type MemoryConfig struct {
	DBPath         string `yaml:"db_path"`
	TraceDBPath    string `yaml:"trace_db_path"`
	CorrectionsLog string `yaml:"corrections_log"`
	MasterPrompt   string `yaml:"master_prompt"`
}

type VaultConfig struct {
	Path      string `yaml:"path"`
	IndexPath string `yaml:"index_path"`
}

type SkillsConfig struct {
	Dir           string   `yaml:"dir"`
	ExternalPaths []string `yaml:"external_paths"`
}

type ApprovalConfig struct {
	ConfirmTimeout  time.Duration `yaml:"confirm_timeout"`
	CriticalTimeout time.Duration `yaml:"critical_timeout"`
}

type ReloadConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	AutoRestart bool          `yaml:"auto_restart"`
}

// VotingConfig parameterizes the ensemble voter.
type VotingConfig struct {
	NInferences         int     `yaml:"n_inferences"`
	Temperature         float64 `yaml:"temperature"`
	MinQuorum           int     `yaml:"min_quorum"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	FallbackCategory    string  `yaml:"fallback_category"`
	AuditLog            string  `yaml:"audit_log"`
	UncertainMsg        string  `yaml:"uncertain_msg"`
}

// SSHConfig bounds outbound SSH usage per calendar day.
type SSHConfig struct {
	MaxDaily    int           `yaml:"max_daily"`
	CounterFile string        `yaml:"counter_file"`
	Jitter      time.Duration `yaml:"jitter"`
}

type MailConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MinInterval  time.Duration `yaml:"min_interval"`
	Accounts     []MailAccount `yaml:"accounts"`
}

// MailAccount maps an account label to the keywords that route
// classification output back to it.
type MailAccount struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type HPCConfig struct {
	Clusters []ClusterProfile `yaml:"clusters"`
}

// ClusterProfile describes one remote HPC endpoint.
type ClusterProfile struct {
	Name       string `yaml:"name"`
	Host       string `yaml:"host"`
	Scheduler  string `yaml:"scheduler"` // "pbs" or "slurm"
	Username   string `yaml:"username"`
	RemotePath string `yaml:"remote_path"`
}

type BotConfig struct {
	Token string `yaml:"-"` // env only
}

// =============================================================================
// DEFAULTS & LOADING
// =============================================================================

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		DataDir:  "data",
		LLM: LLMConfig{
			Backend:        "openai",
			Endpoint:       "http://localhost:11434/v1",
			FastModel:      "llama3.1:8b",
			FullModel:      "llama70b-lite",
			AnthropicModel: "claude-sonnet-4-20250514",
			MaxIterations:  10,
		},
		Embed: EmbedConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
			ProbeTimeout:   3 * time.Second,
		},
		Memory: MemoryConfig{
			DBPath:         "data/memory.db",
			TraceDBPath:    "data/trace.db",
			CorrectionsLog: "data/corrections.jsonl",
			MasterPrompt:   "data/master_prompt.md",
		},
		Vault: VaultConfig{
			IndexPath: "data/vault_index.json",
		},
		Skills: SkillsConfig{
			Dir: "skills",
		},
		Approval: ApprovalConfig{
			ConfirmTimeout:  5 * time.Minute,
			CriticalTimeout: 30 * time.Minute,
		},
		Reload: ReloadConfig{
			Enabled:  true,
			Interval: 2 * time.Second,
		},
		Voting: VotingConfig{
			NInferences:         5,
			Temperature:         0.7,
			MinQuorum:           3,
			ConfidenceThreshold: 0.7,
			FallbackCategory:    "UNCERTAIN",
			AuditLog:            "data/vote_audit.jsonl",
			UncertainMsg:        "분류가 불확실해서 직접 확인이 필요해요.",
		},
		SSH: SSHConfig{
			MaxDaily:    50,
			CounterFile: "data/ssh_budget.json",
			Jitter:      30 * time.Second,
		},
		Mail: MailConfig{
			PollInterval: 10 * time.Minute,
			MinInterval:  5 * time.Minute,
		},
	}
}

// Load reads the YAML config at path, layered over DefaultConfig.
// A missing file is not an error. Secrets are then pulled from the
// environment (a .env next to the config file is honored if present).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// defaults only
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}

		// Best-effort .env alongside the config file.
		_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	} else {
		_ = godotenv.Load()
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays secret values from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.AnthropicAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Embed.GenAIAPIKey = v
	}
	if v := os.Getenv("POLARIS_BOT_TOKEN"); v != "" {
		cfg.Bot.Token = v
	}
}

// Validate checks cross-field constraints that YAML cannot express.
func (c *Config) Validate() error {
	switch c.LLM.Backend {
	case "openai":
	case "anthropic":
		if !c.LLM.AllowPaid {
			return fmt.Errorf("anthropic backend requires llm.allow_paid: true")
		}
		if c.LLM.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic backend requires ANTHROPIC_API_KEY")
		}
	default:
		return fmt.Errorf("unknown llm backend: %s", c.LLM.Backend)
	}
	if c.LLM.MaxIterations <= 0 {
		return fmt.Errorf("llm.max_iterations must be positive")
	}
	for _, cl := range c.HPC.Clusters {
		if cl.Scheduler != "pbs" && cl.Scheduler != "slurm" {
			return fmt.Errorf("cluster %s: scheduler must be pbs or slurm", cl.Name)
		}
	}
	return nil
}
