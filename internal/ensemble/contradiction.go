package ensemble

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// correctionEntry is one line of the corrections log.
type correctionEntry struct {
	Subject        string `json:"subject"`
	CorrectedLabel string `json:"corrected_label"`
}

// Contradictions scans a corrections log for subjects the user has
// relabeled inconsistently. A subject with two corrections carrying
// different labels cannot be trusted to either side, so the voter
// short-circuits it to the fallback category.
type Contradictions struct {
	path string
}

// NewContradictions creates a checker over the given JSONL file.
func NewContradictions(path string) *Contradictions {
	return &Contradictions{path: path}
}

// Check returns a warning and true when the exact subject appears in
// the log with more than one distinct corrected label. A missing or
// unreadable log means no contradiction.
func (c *Contradictions) Check(subject string) (string, bool) {
	if c.path == "" {
		return "", false
	}
	f, err := os.Open(c.path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	labels := map[string]bool{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry correctionEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.Subject == subject && entry.CorrectedLabel != "" {
			labels[entry.CorrectedLabel] = true
		}
	}

	if len(labels) < 2 {
		return "", false
	}
	var list []string
	for label := range labels {
		list = append(list, label)
	}
	return fmt.Sprintf("conflicting historic labels for subject: %s", strings.Join(list, ", ")), true
}
