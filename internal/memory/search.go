package memory

import (
	"context"
	"fmt"
	"sort"

	"polaris/internal/embedding"
	"polaris/internal/logging"
)

// =============================================================================
// SEMANTIC + KEYWORD SEARCH
// =============================================================================

// SearchHit is one retrieval result across the memory tables.
type SearchHit struct {
	SourceTable string // "conversation" or "knowledge"
	ID          int64
	Title       string // empty for conversation hits
	Content     string
	Score       float64
}

// ContextSnippetLen caps each snippet in RelevantContext.
const ContextSnippetLen = 300

// SearchMemory retrieves the top-k most relevant rows across the
// conversations and knowledge tables. With a usable query embedding it
// ranks every embedded row by cosine similarity; otherwise it falls
// back to a keyword LIKE scan with score 0. Ties break toward the
// higher (more recent) id.
func (s *Store) SearchMemory(ctx context.Context, query string, k int) ([]SearchHit, error) {
	return s.search(ctx, query, k, "")
}

// SearchVaultKnowledge is SearchMemory restricted to knowledge rows
// that came from the vault indexer.
func (s *Store) SearchVaultKnowledge(ctx context.Context, query string, k int) ([]SearchHit, error) {
	return s.search(ctx, query, k, "obsidian")
}

func (s *Store) search(ctx context.Context, query string, k int, sourceFilter string) ([]SearchHit, error) {
	if k <= 0 {
		k = 5
	}

	if qvec, ok := s.embedder.TryEmbed(ctx, query); ok {
		hits, err := s.semanticSearch(ctx, qvec, k, sourceFilter)
		if err == nil {
			return hits, nil
		}
		logging.Get(logging.CategoryMemory).Warnf("semantic search failed, falling back to keyword: %v", err)
	}
	return s.keywordSearch(ctx, query, k, sourceFilter)
}

func (s *Store) semanticSearch(ctx context.Context, qvec []float32, k int, sourceFilter string) ([]SearchHit, error) {
	var all []SearchHit

	if sourceFilter == "" {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, content, embedding FROM conversations WHERE embedding IS NOT NULL`)
		if err != nil {
			return nil, fmt.Errorf("semantic search (conversations): %w", err)
		}
		for rows.Next() {
			var id int64
			var content string
			var blob []byte
			if err := rows.Scan(&id, &content, &blob); err != nil {
				rows.Close()
				return nil, err
			}
			all = append(all, SearchHit{
				SourceTable: "conversation",
				ID:          id,
				Content:     content,
				Score:       embedding.Cosine(qvec, embedding.Unpack(blob)),
			})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	ksql := `SELECT id, title, content, embedding FROM knowledge WHERE embedding IS NOT NULL`
	args := []any{}
	if sourceFilter != "" {
		ksql += ` AND source = ?`
		args = append(args, sourceFilter)
	}
	rows, err := s.db.QueryContext(ctx, ksql, args...)
	if err != nil {
		return nil, fmt.Errorf("semantic search (knowledge): %w", err)
	}
	for rows.Next() {
		var id int64
		var title, content string
		var blob []byte
		if err := rows.Scan(&id, &title, &content, &blob); err != nil {
			rows.Close()
			return nil, err
		}
		all = append(all, SearchHit{
			SourceTable: "knowledge",
			ID:          id,
			Title:       title,
			Content:     content,
			Score:       embedding.Cosine(qvec, embedding.Unpack(blob)),
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].ID > all[j].ID
	})
	if len(all) > k {
		all = all[:k]
	}
	return all, nil
}

func (s *Store) keywordSearch(ctx context.Context, query string, k int, sourceFilter string) ([]SearchHit, error) {
	pattern := "%" + query + "%"
	var hits []SearchHit

	if sourceFilter == "" {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, content FROM conversations WHERE content LIKE ? ORDER BY id DESC LIMIT ?`,
			pattern, k)
		if err != nil {
			return nil, fmt.Errorf("keyword search (conversations): %w", err)
		}
		for rows.Next() {
			var h SearchHit
			h.SourceTable = "conversation"
			if err := rows.Scan(&h.ID, &h.Content); err != nil {
				rows.Close()
				return nil, err
			}
			hits = append(hits, h)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	ksql := `SELECT id, title, content FROM knowledge WHERE (title LIKE ? OR content LIKE ?)`
	args := []any{pattern, pattern}
	if sourceFilter != "" {
		ksql += ` AND source = ?`
		args = append(args, sourceFilter)
	}
	ksql += ` ORDER BY id DESC LIMIT ?`
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, ksql, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search (knowledge): %w", err)
	}
	for rows.Next() {
		var h SearchHit
		h.SourceTable = "knowledge"
		if err := rows.Scan(&h.ID, &h.Title, &h.Content); err != nil {
			rows.Close()
			return nil, err
		}
		hits = append(hits, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// RelevantContext renders the top-k hits as prompt-ready text:
// "[table] content" snippets separated by blank lines. Empty string
// when nothing matches.
func (s *Store) RelevantContext(ctx context.Context, query string, k int) string {
	hits, err := s.SearchMemory(ctx, query, k)
	if err != nil {
		logging.Get(logging.CategoryMemory).Warnf("relevant context lookup failed: %v", err)
		return ""
	}

	out := ""
	for _, h := range hits {
		snippet := h.Content
		if runes := []rune(snippet); len(runes) > ContextSnippetLen {
			snippet = string(runes[:ContextSnippetLen])
		}
		if out != "" {
			out += "\n\n"
		}
		out += fmt.Sprintf("[%s] %s", h.SourceTable, snippet)
	}
	return out
}
