// Package skills loads markdown skill manifests and matches them
// against user messages. A skill contributes task instructions to the
// system prompt and can make a tool chain mandatory for the turn.
package skills

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"polaris/internal/logging"
)

// Skill is one loaded manifest.
type Skill struct {
	Name          string
	Description   string
	Version       string
	Category      string
	Triggers      []string
	ToolChain     []string
	ToolsRequired []string
	RequiresTool  bool
	StrictMode    bool
	Source        string // "internal" or "external"
	Path          string
	Prompt        string
}

// Loader parses skill files from the internal skills directory and any
// configured external search paths.
type Loader struct {
	dir           string
	externalPaths []string
}

// NewLoader creates a loader over the internal dir and external paths.
func NewLoader(dir string, externalPaths []string) *Loader {
	return &Loader{dir: dir, externalPaths: externalPaths}
}

// LoadAll loads every internal skill plus every external SKILL.md,
// sorted by name. Files that fail to parse are skipped with a warning.
func (l *Loader) LoadAll() []Skill {
	log := logging.Get(logging.CategorySkills)
	var out []Skill

	entries, err := os.ReadDir(l.dir)
	if err != nil && !os.IsNotExist(err) {
		log.Warnf("failed to read skills dir %s: %v", l.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") || e.Name() == "README.md" {
			continue
		}
		path := filepath.Join(l.dir, e.Name())
		skill, ok := l.loadFile(path, "internal")
		if !ok {
			continue
		}
		out = append(out, skill)
	}

	out = append(out, l.loadExternal()...)

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// loadExternal scans each search path for */SKILL.md manifests.
func (l *Loader) loadExternal() []Skill {
	log := logging.Get(logging.CategorySkills)
	seen := map[string]bool{}
	var out []Skill

	for _, base := range l.externalPaths {
		if _, err := os.Stat(base); err != nil {
			continue
		}
		err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || d.Name() != "SKILL.md" {
				return nil
			}
			abs, aerr := filepath.Abs(path)
			if aerr != nil {
				abs = path
			}
			if seen[abs] {
				return nil
			}
			seen[abs] = true
			if skill, ok := l.loadFile(path, "external"); ok {
				out = append(out, skill)
			}
			return nil
		})
		if err != nil {
			log.Warnf("external skill scan failed under %s: %v", base, err)
		}
	}
	return out
}

// loadFile parses one manifest. A skill that demands tools but names
// none cannot be enforced; it is demoted to requires_tool=false.
func (l *Loader) loadFile(path, source string) (Skill, bool) {
	log := logging.Get(logging.CategorySkills)

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warnf("failed to read skill %s: %v", path, err)
		return Skill{}, false
	}

	header, body := parseFrontmatter(string(data))
	if len(header) == 0 {
		return Skill{}, false
	}

	name := headerString(header, "name")
	if name == "" {
		if source == "external" {
			name = filepath.Base(filepath.Dir(path))
		} else {
			name = strings.TrimSuffix(filepath.Base(path), ".md")
		}
	}
	description := headerString(header, "description")

	triggers := headerList(header, "triggers")
	if len(triggers) == 0 {
		triggers = headerList(header, "trigger_patterns")
	}
	if len(triggers) == 0 {
		triggers = TriggersFromDescription(description)
	}

	toolsRequired := headerList(header, "tools_required")
	if len(toolsRequired) == 0 {
		toolsRequired = ToolsFromDescription(description)
	}
	toolChain := headerList(header, "tool_chain")

	requiresTool := headerBool(header, "requires_tool", false)
	strictMode := headerBool(header, "strict_mode", requiresTool)

	if requiresTool && len(toolChain) == 0 && len(toolsRequired) == 0 {
		log.Warnf("skill %s requires a tool but names none; demoting", name)
		requiresTool = false
		strictMode = false
	}

	return Skill{
		Name:          name,
		Description:   description,
		Version:       headerString(header, "version"),
		Category:      headerString(header, "category"),
		Triggers:      triggers,
		ToolChain:     toolChain,
		ToolsRequired: toolsRequired,
		RequiresTool:  requiresTool,
		StrictMode:    strictMode,
		Source:        source,
		Path:          path,
		Prompt:        extractPromptSections(body),
	}, true
}

// =============================================================================
// DESCRIPTION SYNTHESIS
// =============================================================================

var (
	triggerKoRe  = regexp.MustCompile(`(?i)Use when\s*사용자가\s*(.+?)\s*관련 질문을 할 때`)
	triggerEnRe  = regexp.MustCompile(`(?i)Use when\s*(?:the\s+)?user(?:s)?\s*(?:asks?|ask)\s*(?:about|for|regarding)\s*(.+?)(?:\.|$)`)
	triggerEgRe  = regexp.MustCompile(`(?i)\((?:e\.g\.,?|예:)\s*([^)]+)\)`)
	contentWords = regexp.MustCompile(`[A-Za-z0-9_+\-\.#가-힣]{2,}`)

	toolsKoRe = regexp.MustCompile(`(?i)필요 도구:\s*([^.\n]+)`)
	toolsEnRe = regexp.MustCompile(`(?i)Required tools:\s*([^.\n]+)`)
)

var triggerStopwords = map[string]bool{
	"use": true, "when": true, "user": true, "users": true, "asks": true,
	"ask": true, "about": true, "for": true, "related": true, "question": true,
	"questions": true, "the": true, "and": true, "or": true,
	"사용자가": true, "관련": true, "질문": true, "할": true, "때": true,
	"도구": true, "필요": true,
}

// TriggersFromDescription synthesizes trigger keywords when a manifest
// omits them: the "Use when ..." clause first, then an (e.g., ...)
// parenthetical, then a stopword-filtered bag of content words.
func TriggersFromDescription(description string) []string {
	if description == "" {
		return nil
	}
	for _, re := range []*regexp.Regexp{triggerKoRe, triggerEnRe} {
		if m := re.FindStringSubmatch(description); m != nil {
			return splitItems(m[1])
		}
	}
	if m := triggerEgRe.FindStringSubmatch(description); m != nil {
		return splitItems(m[1])
	}

	var out []string
	seen := map[string]bool{}
	for _, w := range contentWords.FindAllString(description, -1) {
		key := strings.ToLower(w)
		if triggerStopwords[key] || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, w)
		if len(out) == 10 {
			break
		}
	}
	return out
}

// ToolsFromDescription pulls tool names out of a "필요 도구:" or
// "Required tools:" clause.
func ToolsFromDescription(description string) []string {
	for _, re := range []*regexp.Regexp{toolsKoRe, toolsEnRe} {
		if m := re.FindStringSubmatch(description); m != nil {
			return splitItems(m[1])
		}
	}
	return nil
}

// splitItems splits a comma-ish list, deduplicating case-insensitively.
func splitItems(text string) []string {
	if text == "" {
		return nil
	}
	normalized := strings.NewReplacer("및", ",", " and ", ",", "/", ",").Replace(text)

	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(normalized, ",") {
		part = strings.Trim(part, " .:;\"'")
		if part == "" || seen[strings.ToLower(part)] {
			continue
		}
		seen[strings.ToLower(part)] = true
		out = append(out, part)
	}
	return out
}

// =============================================================================
// PROMPT SECTION EXTRACTION
// =============================================================================

// extractPromptSections keeps only the "## Prompt" and
// "## Few-shot Examples" sections (case-insensitive); Validation and
// Changelog are dropped to save tokens. A body without matching
// sections is returned whole.
func extractPromptSections(body string) string {
	include := map[string]bool{"prompt": true, "few-shot examples": true}

	var sections []string
	current := ""
	var lines []string
	flush := func() {
		if include[strings.ToLower(current)] {
			sections = append(sections, strings.Join(lines, "\n"))
		}
	}

	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			current = strings.TrimSpace(line[3:])
			lines = []string{line}
		} else {
			lines = append(lines, line)
		}
	}
	flush()

	if len(sections) == 0 {
		return body
	}
	return strings.Join(sections, "\n\n")
}

// =============================================================================
// FRONTMATTER
// =============================================================================

// parseFrontmatter splits "---" delimited YAML from the body, with a
// line-based fallback for headers strict YAML rejects.
func parseFrontmatter(content string) (map[string]any, string) {
	if !strings.HasPrefix(content, "---") {
		return map[string]any{}, content
	}
	end := strings.Index(content[3:], "---")
	if end == -1 {
		return map[string]any{}, content
	}
	raw := strings.TrimSpace(content[3 : 3+end])
	body := strings.TrimSpace(content[3+end+3:])

	header := map[string]any{}
	if err := yaml.Unmarshal([]byte(raw), &header); err == nil && len(header) > 0 {
		return header, body
	}
	return simpleParse(raw), body
}

func simpleParse(text string) map[string]any {
	result := map[string]any{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.Trim(strings.TrimSpace(line[idx+1:]), `"'`)
		if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
			var items []string
			for _, item := range strings.Split(value[1:len(value)-1], ",") {
				item = strings.Trim(strings.TrimSpace(item), `"'`)
				if item != "" {
					items = append(items, item)
				}
			}
			result[key] = items
		} else {
			result[key] = value
		}
	}
	return result
}

func headerString(h map[string]any, key string) string {
	if s, ok := h[key].(string); ok {
		return s
	}
	return ""
}

func headerList(h map[string]any, key string) []string {
	switch v := h[key].(type) {
	case string:
		return splitItems(v)
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func headerBool(h map[string]any, key string, def bool) bool {
	switch v := h[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "y", "on":
			return true
		case "":
			return def
		default:
			return false
		}
	case nil:
		return def
	default:
		return def
	}
}
