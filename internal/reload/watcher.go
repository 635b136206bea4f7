// Package reload implements a polling hot-reload watcher. Runtime
// files (skill manifests, the master prompt) refresh in-process;
// code-file changes are logged, or trigger a self re-exec when auto
// restart is enabled.
package reload

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"polaris/internal/logging"
)

// runtimeExts refresh in-process.
var runtimeExts = map[string]bool{
	".md": true, ".json": true, ".yaml": true, ".yml": true,
}

// Watcher polls mtimes under a root and dispatches change handlers.
type Watcher struct {
	root        string
	interval    time.Duration
	autoRestart bool

	// onRuntimeReload is called once per tick that saw runtime-file
	// changes, typically the skill registry refresh.
	onRuntimeReload func()

	// restart re-execs the process. Swappable for tests.
	restart func() error

	mtimes map[string]time.Time
}

// NewWatcher creates a watcher over root. interval defaults to 2s.
func NewWatcher(root string, interval time.Duration, autoRestart bool, onRuntimeReload func()) *Watcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	w := &Watcher{
		root:            root,
		interval:        interval,
		autoRestart:     autoRestart,
		onRuntimeReload: onRuntimeReload,
		restart:         reexec,
	}
	w.mtimes = w.snapshot()
	return w
}

// Run polls until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.CheckOnce()
		}
	}
}

// CheckOnce compares the current snapshot against the previous one
// and dispatches handlers for any changes.
func (w *Watcher) CheckOnce() {
	log := logging.Get(logging.CategoryReload)

	current := w.snapshot()
	var runtimeChanged, codeChanged []string
	for path, mtime := range current {
		prev, seen := w.mtimes[path]
		if seen && !mtime.After(prev) {
			continue
		}
		if runtimeExts[strings.ToLower(filepath.Ext(path))] {
			runtimeChanged = append(runtimeChanged, path)
		} else {
			codeChanged = append(codeChanged, path)
		}
	}
	w.mtimes = current

	if len(runtimeChanged) > 0 {
		log.Infof("runtime hot-reload: %d file(s) changed", len(runtimeChanged))
		if w.onRuntimeReload != nil {
			w.onRuntimeReload()
		}
	}
	if len(codeChanged) > 0 {
		if w.autoRestart {
			log.Warnf("code change detected, restarting: %v", codeChanged)
			if err := w.restart(); err != nil {
				log.Errorf("restart failed: %v", err)
			}
		} else {
			log.Infof("code change detected (restart disabled): %v", codeChanged)
		}
	}
}

// watchedFiles are the path globs that trigger a reload, relative to
// the watch root.
var watchedPatterns = []string{
	"skills/*.md",
	"skills/*/*.md",
	"data/master_prompt.md",
	"config.yaml",
}

// codePatterns optionally trigger a restart.
var codePatterns = []string{
	"cmd/*/*.go",
	"internal/*/*.go",
}

func (w *Watcher) snapshot() map[string]time.Time {
	out := map[string]time.Time{}
	patterns := append(append([]string{}, watchedPatterns...), codePatterns...)
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(w.root, pattern))
		if err != nil {
			continue
		}
		for _, path := range matches {
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
			out[path] = info.ModTime()
		}
	}
	return out
}

// reexec replaces the process with a fresh copy of itself.
func reexec() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Start(); err != nil {
		return err
	}
	os.Exit(0)
	return nil
}
