package vault

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// FRONTMATTER & MARKDOWN PARSING
// =============================================================================

var frontmatterRe = regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---\s*\n`)

// splitFrontmatter separates a leading "---\nYAML\n---\n" block from
// the note body. Notes without frontmatter return an empty map.
func splitFrontmatter(raw string) (map[string]any, string) {
	m := frontmatterRe.FindStringSubmatch(raw)
	if m == nil {
		return map[string]any{}, raw
	}
	body := raw[len(m[0]):]
	return parseFrontmatter(m[1]), body
}

// parseFrontmatter tries full YAML first, then the minimal grammar
// (key: value, quoted strings, [inline, lists], "- item" sequences)
// for the hand-written headers that break strict YAML.
func parseFrontmatter(text string) map[string]any {
	out := map[string]any{}
	if err := yaml.Unmarshal([]byte(text), &out); err == nil && out != nil {
		return out
	}
	return parseFrontmatterMinimal(text)
}

func parseFrontmatterMinimal(text string) map[string]any {
	result := map[string]any{}
	currentKey := ""
	var currentList []string

	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" || strings.HasPrefix(stripped, "#") {
			continue
		}

		// List item under the previous key.
		if strings.HasPrefix(stripped, "- ") && currentKey != "" {
			currentList = append(currentList, strings.TrimSpace(stripped[2:]))
			result[currentKey] = currentList
			continue
		}

		if idx := strings.Index(stripped, ":"); idx >= 0 {
			currentList = nil
			key := strings.TrimSpace(stripped[:idx])
			value := strings.TrimSpace(stripped[idx+1:])
			currentKey = key

			switch {
			case strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]"):
				var items []string
				for _, v := range strings.Split(value[1:len(value)-1], ",") {
					v = strings.Trim(strings.TrimSpace(v), `'"`)
					if v != "" {
						items = append(items, v)
					}
				}
				result[key] = items
			case value != "":
				result[key] = strings.Trim(value, `'"`)
			default:
				result[key] = ""
			}
		}
	}
	return result
}

// stringValue reads a frontmatter value as a string.
func stringValue(fm map[string]any, key string) string {
	switch v := fm[key].(type) {
	case string:
		return v
	default:
		return ""
	}
}

// stringList reads a frontmatter value as a list of strings, accepting
// the scalar, []string, and []any shapes YAML produces.
func stringList(fm map[string]any, key string) []string {
	switch v := fm[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
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

// =============================================================================
// LINK / TAG EXTRACTION & MARKDOWN STRIPPING
// =============================================================================

var (
	wikilinkRe  = regexp.MustCompile(`\[\[([^\]|]+?)(?:\|([^\]]+))?\]\]`)
	inlineTagRe = regexp.MustCompile(`(?:^|\s)#([a-zA-Z가-힣][\w가-힣/-]*)`)

	headingRe  = regexp.MustCompile(`(?m)^#+\s+`)
	emphasisRe = regexp.MustCompile(`\*{1,3}([^*]+)\*{1,3}`)
	imageRe    = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	mdLinkRe   = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	htmlTagRe  = regexp.MustCompile(`<[^>]+>`)
	blanksRe   = regexp.MustCompile(`\n{3,}`)
)

// extractWikilinks returns link targets with |display aliases stripped.
func extractWikilinks(content string) []string {
	var links []string
	for _, m := range wikilinkRe.FindAllStringSubmatch(content, -1) {
		links = append(links, m[1])
	}
	return links
}

// extractTags merges inline #tags with frontmatter tags, deduplicated.
func extractTags(content string, fm map[string]any) []string {
	seen := map[string]bool{}
	var tags []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}
	for _, m := range inlineTagRe.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, t := range stringList(fm, "tags") {
		add(t)
	}
	return tags
}

// stripMarkdown removes formatting so the stored content embeds well:
// heading markers, emphasis, links (display text kept), images, HTML
// tags; runs of blank lines collapse to one.
func stripMarkdown(text string) string {
	text = headingRe.ReplaceAllString(text, "")
	text = emphasisRe.ReplaceAllString(text, "$1")
	text = wikilinkRe.ReplaceAllStringFunc(text, func(s string) string {
		m := wikilinkRe.FindStringSubmatch(s)
		if m[2] != "" {
			return m[2]
		}
		return m[1]
	})
	text = imageRe.ReplaceAllString(text, "")
	text = mdLinkRe.ReplaceAllString(text, "$1")
	text = htmlTagRe.ReplaceAllString(text, "")
	text = blanksRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
