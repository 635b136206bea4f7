// Package vault is the read-only indexer for the user's markdown note
// tree. It scans notes, parses frontmatter and links, and mirrors the
// cleaned content into the knowledge table for semantic retrieval.
// Incremental re-indexing is tracked through a JSON index file keyed by
// absolute note path.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"polaris/internal/logging"
	"polaris/internal/memory"
)

// MinFileSize skips stub notes below 1 KiB.
const MinFileSize = 1024

// MaxContentLength caps stored note content.
const MaxContentLength = 2000

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".obsidian":    true,
	".trash":       true,
	"99_System":    true,
	"node_modules": true,
	".git":         true,
}

// folderCategoryRules map folder prefixes to knowledge categories.
// First match wins; frontmatter "category" overrides all of them.
var folderCategoryRules = []struct {
	prefix   string
	category string
}{
	{"30_Resources/Foundations/Physics", "research"},
	{"30_Resources/Foundations", "research"},
	{"30_Resources", "reference"},
	{"20_Areas", "reference"},
	{"10_Projects", "research"},
	{"40_Archives", "reference"},
	{"Polaris/Papers", "research"},
	{"Polaris/Research", "research"},
}

// NoteInfo describes one indexable file found by Scan.
type NoteInfo struct {
	Path     string
	Title    string
	Modified float64 // unix seconds
	Size     int64
}

// ParsedNote is the structured form of one note.
type ParsedNote struct {
	Title       string
	Frontmatter map[string]any
	Content     string
	Links       []string
	Tags        []string
	Path        string
}

// IndexEntry is one record of the vault index file.
type IndexEntry struct {
	IndexedTime float64 `json:"indexed_time"`
	Title       string  `json:"title"`
	KnowledgeID int64   `json:"knowledge_id"`
}

// IndexStats summarizes one indexing run.
type IndexStats struct {
	Total   int
	New     int
	Updated int
	Skipped int
	Errors  int
}

// Reader scans and indexes one vault directory.
type Reader struct {
	vaultPath string
	indexPath string
	store     *memory.Store
}

// NewReader creates a vault reader over vaultPath, tracking state in
// the index file at indexPath.
func NewReader(vaultPath, indexPath string, store *memory.Store) *Reader {
	return &Reader{vaultPath: vaultPath, indexPath: indexPath, store: store}
}

// =============================================================================
// SCANNING
// =============================================================================

// Scan walks the vault for indexable .md files, honoring the skip list
// and the minimum size.
func (r *Reader) Scan() ([]NoteInfo, error) {
	log := logging.Get(logging.CategoryVault)

	if _, err := os.Stat(r.vaultPath); err != nil {
		log.Warnf("vault not found: %s", r.vaultPath)
		return nil, nil
	}

	var notes []NoteInfo
	err := filepath.WalkDir(r.vaultPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warnf("scan error at %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() < MinFileSize {
			return nil
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		notes = append(notes, NoteInfo{
			Path:     abs,
			Title:    strings.TrimSuffix(d.Name(), ".md"),
			Modified: float64(info.ModTime().UnixNano()) / 1e9,
			Size:     info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vault scan failed: %w", err)
	}

	log.Infof("scanned vault %s: %d indexable notes", r.vaultPath, len(notes))
	return notes, nil
}

// =============================================================================
// PARSING
// =============================================================================

// ParseNote reads one note into structured form. Read failures yield a
// note with empty content rather than an error; the caller skips it.
func (r *Reader) ParseNote(path string) ParsedNote {
	title := strings.TrimSuffix(filepath.Base(path), ".md")

	raw, err := os.ReadFile(path)
	if err != nil {
		logging.Get(logging.CategoryVault).Warnf("failed to read %s: %v", path, err)
		return ParsedNote{Title: title, Frontmatter: map[string]any{}, Path: path}
	}

	fm, body := splitFrontmatter(string(raw))
	content := stripMarkdown(body)
	if runes := []rune(content); len(runes) > MaxContentLength {
		content = string(runes[:MaxContentLength])
	}

	return ParsedNote{
		Title:       title,
		Frontmatter: fm,
		Content:     content,
		Links:       extractWikilinks(body),
		Tags:        extractTags(body, fm),
		Path:        path,
	}
}

// InferCategory picks the knowledge category for a note: frontmatter
// wins, then folder prefix rules, then "reference".
func InferCategory(path string, fm map[string]any) string {
	if cat := stringValue(fm, "category"); cat != "" {
		return cat
	}
	for _, rule := range folderCategoryRules {
		if strings.Contains(filepath.ToSlash(path), rule.prefix) {
			return rule.category
		}
	}
	return "reference"
}

// =============================================================================
// INDEXING
// =============================================================================

// IndexNote stores one parsed note as obsidian-sourced knowledge.
func (r *Reader) IndexNote(ctx context.Context, note ParsedNote) (int64, error) {
	category := InferCategory(note.Path, note.Frontmatter)
	return r.store.SaveKnowledge(ctx, category, note.Title, note.Content, "obsidian", note.Tags)
}

// IndexVault indexes every note, skipping files whose mtime has not
// advanced past their index entry. force ignores the index entirely.
func (r *Reader) IndexVault(ctx context.Context, force bool) (IndexStats, error) {
	log := logging.Get(logging.CategoryVault)

	notes, err := r.Scan()
	if err != nil {
		return IndexStats{}, err
	}

	index := map[string]IndexEntry{}
	if !force {
		index = r.loadIndex()
	}

	stats := IndexStats{Total: len(notes)}
	for _, info := range notes {
		if !force {
			if entry, ok := index[info.Path]; ok && info.Modified <= entry.IndexedTime {
				stats.Skipped++
				continue
			}
		}

		parsed := r.ParseNote(info.Path)
		if parsed.Content == "" {
			stats.Skipped++
			continue
		}

		id, err := r.IndexNote(ctx, parsed)
		if err != nil {
			log.Warnf("failed to index %q: %v", parsed.Title, err)
			stats.Errors++
			continue
		}

		if _, existed := index[info.Path]; existed {
			stats.Updated++
		} else {
			stats.New++
		}
		index[info.Path] = IndexEntry{
			IndexedTime: float64(time.Now().UnixNano()) / 1e9,
			Title:       parsed.Title,
			KnowledgeID: id,
		}
	}

	if err := r.saveIndex(index); err != nil {
		return stats, err
	}
	log.Infof("vault indexing complete: %d total, %d new, %d updated, %d skipped, %d errors",
		stats.Total, stats.New, stats.Updated, stats.Skipped, stats.Errors)
	return stats, nil
}

// Search returns vault-only knowledge hits for the query.
func (r *Reader) Search(ctx context.Context, query string, k int) ([]memory.SearchHit, error) {
	return r.store.SearchVaultKnowledge(ctx, query, k)
}

// =============================================================================
// INDEX FILE
// =============================================================================

func (r *Reader) loadIndex() map[string]IndexEntry {
	data, err := os.ReadFile(r.indexPath)
	if err != nil {
		return map[string]IndexEntry{}
	}
	index := map[string]IndexEntry{}
	if err := json.Unmarshal(data, &index); err != nil {
		logging.Get(logging.CategoryVault).Warnf("failed to load vault index: %v", err)
		return map[string]IndexEntry{}
	}
	return index
}

func (r *Reader) saveIndex(index map[string]IndexEntry) error {
	if dir := filepath.Dir(r.indexPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create index dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(r.indexPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to save vault index: %w", err)
	}
	return nil
}

// IndexedCount reports how many notes the index file tracks.
func (r *Reader) IndexedCount() int {
	return len(r.loadIndex())
}
