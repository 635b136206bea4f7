package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"polaris/internal/embedding"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine returns a fixed vector per known text and a default for
// everything else, so cosine ranking is deterministic in tests.
type fakeEngine struct {
	vectors map[string][]float32
	def     []float32
}

func (f *fakeEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return f.def, nil
}
func (f *fakeEngine) Dimensions() int { return 3 }
func (f *fakeEngine) Name() string    { return "fake" }

func newTestStore(t *testing.T, e *embedding.Embedder) *Store {
	t.Helper()
	if e == nil {
		e = embedding.NewEmbedderFromEngine(nil) // unavailable
	}
	s, err := Open(filepath.Join(t.TempDir(), "memory.db"), e)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveConversationAndGetRecent(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		_, err := s.SaveConversation(ctx, "u1", role, fmt.Sprintf("turn %d", i))
		require.NoError(t, err)
	}
	_, err := s.SaveConversation(ctx, "u2", "user", "other session")
	require.NoError(t, err)

	turns, err := s.GetRecent(ctx, "u1", 5)
	require.NoError(t, err)
	require.Len(t, turns, 5)

	// oldest-first within the window
	assert.Equal(t, "turn 2", turns[0].Content)
	assert.Equal(t, "turn 6", turns[4].Content)
	for _, turn := range turns {
		assert.Equal(t, "u1", turn.SessionID)
	}
}

func TestSaveKnowledgeTruncation(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	long := strings.Repeat("가", MaxKnowledgeContent+500)
	id, err := s.SaveKnowledge(ctx, "research", "long note", long, "manual", []string{"x"})
	require.NoError(t, err)
	require.Positive(t, id)

	var content string
	require.NoError(t, s.db.QueryRow(`SELECT content FROM knowledge WHERE id = ?`, id).Scan(&content))
	assert.Len(t, []rune(content), MaxKnowledgeContent)
}

func TestKeywordFallbackSearch(t *testing.T) {
	s := newTestStore(t, nil) // embedder unavailable -> keyword path
	ctx := context.Background()

	_, err := s.SaveConversation(ctx, "u1", "user", "MoS2 밴드갭 이야기")
	require.NoError(t, err)
	_, err = s.SaveKnowledge(ctx, "research", "mos2-note", "MoS2 monolayer properties", "manual", nil)
	require.NoError(t, err)
	_, err = s.SaveKnowledge(ctx, "life", "cat", "고양이 사료", "manual", nil)
	require.NoError(t, err)

	hits, err := s.SearchMemory(ctx, "MoS2", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Zero(t, h.Score, "keyword hits carry score 0")
	}
}

func TestSemanticSearchRanking(t *testing.T) {
	eng := &fakeEngine{
		vectors: map[string][]float32{
			"valley polarization question": {1, 0, 0},
			"valley note\nvalley physics":  {0.9, 0.1, 0},
			"cooking note\npasta recipe":   {0, 1, 0},
		},
		def: []float32{0, 0, 1},
	}
	s := newTestStore(t, embedding.NewEmbedderFromEngine(eng))
	ctx := context.Background()

	_, err := s.SaveKnowledge(ctx, "research", "valley note", "valley physics", "manual", nil)
	require.NoError(t, err)
	_, err = s.SaveKnowledge(ctx, "life", "cooking note", "pasta recipe", "manual", nil)
	require.NoError(t, err)

	hits, err := s.SearchMemory(ctx, "valley polarization question", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "valley note", hits[0].Title)
	assert.Greater(t, hits[0].Score, 0.5)
}

func TestSearchVaultKnowledgeFiltersSource(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	_, err := s.SaveKnowledge(ctx, "research", "vault note", "TMDC valley physics", "obsidian", nil)
	require.NoError(t, err)
	_, err = s.SaveKnowledge(ctx, "research", "manual note", "TMDC valley physics", "manual", nil)
	require.NoError(t, err)

	hits, err := s.SearchVaultKnowledge(ctx, "TMDC", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "vault note", hits[0].Title)
}

func TestRelevantContextFormat(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	_, err := s.SaveConversation(ctx, "u1", "user", "quantum dot synthesis talk")
	require.NoError(t, err)

	got := s.RelevantContext(ctx, "quantum", 3)
	assert.True(t, strings.HasPrefix(got, "[conversation] "), "got %q", got)

	assert.Empty(t, s.RelevantContext(ctx, "zzz-no-match", 3))
}

func TestRelevantContextTruncatesSnippets(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	long := "needle " + strings.Repeat("x", 600)
	_, err := s.SaveConversation(ctx, "u1", "user", long)
	require.NoError(t, err)

	got := s.RelevantContext(ctx, "needle", 1)
	require.NotEmpty(t, got)
	body := strings.TrimPrefix(got, "[conversation] ")
	assert.LessOrEqual(t, len([]rune(body)), ContextSnippetLen)
}

func TestPendingFeedbackOrder(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.SaveFeedback(ctx, Feedback{
			OriginalAction: fmt.Sprintf("orig %d", i),
			Correction:     fmt.Sprintf("corr %d", i),
		}, nil)
		require.NoError(t, err)
	}
	_, err := s.SaveFeedback(ctx, Feedback{Correction: "done", Applied: true}, nil)
	require.NoError(t, err)

	pending, err := s.GetPendingFeedback(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "corr 0", pending[0].Correction, "ascending id order")
}

func TestStats(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	_, err := s.SaveConversation(ctx, "u1", "user", "hello there")
	require.NoError(t, err)
	_, err = s.SaveKnowledge(ctx, "research", "t", "c", "manual", nil)
	require.NoError(t, err)

	st, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Conversations)
	assert.EqualValues(t, 1, st.Knowledge)
	assert.EqualValues(t, 0, st.Feedback)
}
