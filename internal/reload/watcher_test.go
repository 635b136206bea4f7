package reload

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func touchFuture(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(5 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
}

func TestRuntimeChangeTriggersCallback(t *testing.T) {
	root := t.TempDir()
	skill := filepath.Join(root, "skills", "paper_search.md")
	writeFile(t, skill, "---\nname: paper_search\n---\nbody")

	reloads := 0
	w := NewWatcher(root, time.Second, false, func() { reloads++ })

	// No change: no callback.
	w.CheckOnce()
	if reloads != 0 {
		t.Fatalf("reloads = %d before any change", reloads)
	}

	touchFuture(t, skill)
	w.CheckOnce()
	if reloads != 1 {
		t.Fatalf("reloads = %d after change", reloads)
	}

	// Snapshot was updated; a second check is quiet.
	w.CheckOnce()
	if reloads != 1 {
		t.Errorf("reloads = %d, snapshot not advanced", reloads)
	}
}

func TestNewFileDetected(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "skills", "a.md"), "---\nname: a\n---\n")

	reloads := 0
	w := NewWatcher(root, time.Second, false, func() { reloads++ })

	writeFile(t, filepath.Join(root, "data", "master_prompt.md"), "# master")
	w.CheckOnce()
	if reloads != 1 {
		t.Errorf("new runtime file not detected, reloads = %d", reloads)
	}
}

func TestCodeChangeWithoutAutoRestartOnlyLogs(t *testing.T) {
	root := t.TempDir()
	code := filepath.Join(root, "internal", "router", "router.go")
	writeFile(t, code, "package router")

	restarts := 0
	w := NewWatcher(root, time.Second, false, nil)
	w.restart = func() error { restarts++; return nil }

	touchFuture(t, code)
	w.CheckOnce()
	if restarts != 0 {
		t.Errorf("restart must not run when auto restart is off")
	}
}

func TestCodeChangeWithAutoRestart(t *testing.T) {
	root := t.TempDir()
	code := filepath.Join(root, "cmd", "polaris", "main.go")
	writeFile(t, code, "package main")

	restarts := 0
	w := NewWatcher(root, time.Second, true, nil)
	w.restart = func() error { restarts++; return nil }

	touchFuture(t, code)
	w.CheckOnce()
	if restarts != 1 {
		t.Errorf("restarts = %d, want 1", restarts)
	}
}

func TestExternalSkillDirsWatched(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "skills", "hpc-helper", "SKILL.md")
	writeFile(t, nested, "---\ndescription: x\n---\n")

	reloads := 0
	w := NewWatcher(root, time.Second, false, func() { reloads++ })
	touchFuture(t, nested)
	w.CheckOnce()
	if reloads != 1 {
		t.Errorf("nested skill change missed, reloads = %d", reloads)
	}
}
