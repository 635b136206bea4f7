package embedding

import (
	"context"
	"time"

	"polaris/internal/config"
	"polaris/internal/logging"
)

// =============================================================================
// AVAILABILITY-PROBED EMBEDDER
// =============================================================================

// Embedder wraps an Engine with the degradation contract the memory
// layer depends on: availability is probed once at construction, and
// after that embedding never returns an error — a failed call returns
// (nil, false) and the caller falls back to keyword search.
type Embedder struct {
	engine    Engine
	available bool
	timeout   time.Duration
}

// NewEmbedder builds the engine and probes it once with a short
// timeout. Construction itself never fails: an unreachable backend
// yields a permanently-unavailable embedder.
func NewEmbedder(cfg config.EmbedConfig) *Embedder {
	log := logging.Get(logging.CategoryEmbedding)

	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	engine, err := NewEngine(cfg)
	if err != nil {
		log.Warnf("embedding engine unavailable, semantic search disabled: %v", err)
		return &Embedder{timeout: timeout}
	}

	e := &Embedder{engine: engine, timeout: timeout}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if hc, ok := engine.(HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			log.Warnf("embedding probe failed, semantic search disabled: %v", err)
			return e
		}
	} else if _, err := engine.Embed(ctx, "ping"); err != nil {
		log.Warnf("embedding probe failed, semantic search disabled: %v", err)
		return e
	}

	e.available = true
	log.Infof("embedding engine ready: %s (%d dims)", engine.Name(), engine.Dimensions())
	return e
}

// NewEmbedderFromEngine wraps an already-constructed engine, treating
// it as available. Used by tests and by callers that probe themselves.
func NewEmbedderFromEngine(engine Engine) *Embedder {
	return &Embedder{engine: engine, available: engine != nil, timeout: 3 * time.Second}
}

// Available reports whether the probe succeeded.
func (e *Embedder) Available() bool {
	return e.available
}

// TryEmbed returns the embedding for text, or ok=false when the engine
// is unavailable or the call fails. It never returns an error.
func (e *Embedder) TryEmbed(ctx context.Context, text string) ([]float32, bool) {
	if !e.available || text == "" {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vec, err := e.engine.Embed(ctx, text)
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Debugf("embed failed: %v", err)
		return nil, false
	}
	if len(vec) == 0 {
		return nil, false
	}
	return vec, true
}
