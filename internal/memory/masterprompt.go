package memory

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"polaris/internal/logging"
)

// =============================================================================
// MASTER PROMPT FILE
// =============================================================================
// The master prompt is a user-owned markdown file whose "## NN_NAME"
// sections are injected into the system prompt. The fact extractor
// appends dated entries to the current-context section. All access is
// serialized within the process by a mutex; cross-process coordination
// is out of scope.

// CurrentContextSection is where extracted facts accumulate.
const CurrentContextSection = "99_CURRENT_CONTEXT"

// MasterPrompt provides section-aware reads and writes of the file.
type MasterPrompt struct {
	mu   sync.Mutex
	path string
}

// NewMasterPrompt wraps the file at path. The file may not exist yet.
func NewMasterPrompt(path string) *MasterPrompt {
	return &MasterPrompt{path: path}
}

// Read returns the whole file, or "" when it does not exist.
func (m *MasterPrompt) Read() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readLocked()
}

func (m *MasterPrompt) readLocked() string {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Get(logging.CategoryMemory).Warnf("failed to read master prompt: %v", err)
		}
		return ""
	}
	return string(data)
}

// ReadSection returns the body of one "## name" section, header
// excluded, or "" when the section is missing.
func (m *MasterPrompt) ReadSection(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, body := splitSection(m.readLocked(), name)
	return body
}

// AppendCurrentContext appends one dated "- [YYYY-MM-DD] title: content"
// bullet per fact to the current-context section, skipping facts whose
// title already appears there. Content is clipped to 100 characters.
func (m *MasterPrompt) AppendCurrentContext(facts []Fact) error {
	if len(facts) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	full := m.readLocked()
	_, body := splitSection(full, CurrentContextSection)

	today := time.Now().Format("2006-01-02")
	var added []string
	for _, f := range facts {
		if strings.Contains(body, f.Title) {
			continue
		}
		content := f.Content
		if runes := []rune(content); len(runes) > 100 {
			content = string(runes[:100])
		}
		added = append(added, fmt.Sprintf("- [%s] %s: %s", today, f.Title, content))
	}
	if len(added) == 0 {
		return nil
	}

	newBody := strings.TrimRight(body, "\n")
	if newBody != "" {
		newBody += "\n"
	}
	newBody += strings.Join(added, "\n") + "\n"

	updated := replaceSection(full, CurrentContextSection, newBody)
	if err := os.WriteFile(m.path, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("failed to write master prompt: %w", err)
	}
	logging.Get(logging.CategoryMemory).Infof("master prompt: %d entries added to %s", len(added), CurrentContextSection)
	return nil
}

// splitSection returns (headerLine, body) of a "## name" section.
func splitSection(content, name string) (string, string) {
	lines := strings.Split(content, "\n")
	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "## "+name) {
			start = i
			break
		}
	}
	if start == -1 {
		return "", ""
	}
	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "## ") {
			end = i
			break
		}
	}
	return lines[start], strings.Join(lines[start+1:end], "\n")
}

// replaceSection swaps the body of a "## name" section, creating the
// section at the end of the file when absent.
func replaceSection(content, name, newBody string) string {
	lines := strings.Split(content, "\n")
	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "## "+name) {
			start = i
			break
		}
	}
	if start == -1 {
		out := strings.TrimRight(content, "\n")
		if out != "" {
			out += "\n\n"
		}
		return out + "## " + name + "\n" + newBody
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "## ") {
			end = i
			break
		}
	}

	var out []string
	out = append(out, lines[:start+1]...)
	out = append(out, strings.Split(strings.TrimRight(newBody, "\n"), "\n")...)
	out = append(out, lines[end:]...)
	return strings.Join(out, "\n")
}
