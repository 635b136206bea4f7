// Package logging provides categorized structured logging for Polaris.
// Every subsystem gets a named zap logger; the level and output are
// configured once at startup and shared process-wide.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup/initialization
	CategoryConfig    Category = "config"    // Configuration loading
	CategoryRouter    Category = "router"    // Agent router decisions
	CategoryMemory    Category = "memory"    // Memory store operations
	CategoryEmbedding Category = "embedding" // Embedding engine
	CategoryVault     Category = "vault"     // Vault indexing
	CategorySkills    Category = "skills"    // Skill registry
	CategoryTools     Category = "tools"     // Tool execution
	CategoryApproval  Category = "approval"  // Approval gate
	CategoryTrace     Category = "trace"     // Trace logger
	CategoryReload    Category = "reload"    // Hot reloader
	CategoryEnsemble  Category = "ensemble"  // Ensemble voter
	CategoryMail      Category = "mail"      // Mail analyzer/poller
	CategoryHPC       Category = "hpc"       // HPC monitoring
	CategoryLLM       Category = "llm"       // LLM backend calls
	CategoryBot       Category = "bot"       // Transport/command dispatch
)

var (
	mu      sync.RWMutex
	root    *zap.Logger
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Init configures the process-wide logger. Level is one of
// debug/info/warn/error; anything else falls back to info.
// Safe to call more than once; the last call wins.
func Init(level string) error {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger
	loggers = make(map[Category]*zap.SugaredLogger)
	return nil
}

// Get returns the sugared logger for a category, creating it on first use.
// Usable before Init; falls back to a no-op logger in that case.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	base := root
	if base == nil {
		base = zap.NewNop()
	}
	l := base.Named(string(cat)).Sugar()
	loggers[cat] = l
	return l
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}
