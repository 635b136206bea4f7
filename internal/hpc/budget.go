// Package hpc talks to remote clusters over SSH: connection probing,
// PBS/Slurm job monitoring, and a daily connection budget that keeps
// automated polling from hammering a login node.
package hpc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"polaris/internal/logging"
)

// Budget is a persistent daily SSH connection counter. The count
// resets when the calendar date changes.
type Budget struct {
	mu       sync.Mutex
	path     string
	maxDaily int
	now      func() time.Time
}

type budgetState struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// NewBudget creates a budget backed by the JSON file at path.
func NewBudget(path string, maxDaily int) *Budget {
	return &Budget{path: path, maxDaily: maxDaily, now: time.Now}
}

// Allow reports whether another connection fits in today's budget.
func (b *Budget) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.load()
	if state.Count >= b.maxDaily {
		logging.Get(logging.CategoryHPC).Warnf("ssh daily limit reached: %d/%d", state.Count, b.maxDaily)
		return false
	}
	return true
}

// Increment records one connection.
func (b *Budget) Increment() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.load()
	state.Count++
	return b.save(state)
}

// Used returns today's connection count.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load().Count
}

// load reads the counter, resetting it when the date rolled over.
// Caller holds the lock.
func (b *Budget) load() budgetState {
	today := b.now().Format("2006-01-02")

	data, err := os.ReadFile(b.path)
	if err != nil {
		return budgetState{Date: today}
	}
	var state budgetState
	if err := json.Unmarshal(data, &state); err != nil || state.Date != today {
		return budgetState{Date: today}
	}
	return state
}

func (b *Budget) save(state budgetState) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("budget dir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(b.path, data, 0o644)
}
