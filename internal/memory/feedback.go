package memory

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"polaris/internal/embedding"
	"polaris/internal/logging"
)

// =============================================================================
// CORRECTION FEEDBACK (아하 메모리)
// =============================================================================
// Detects when the user is correcting the assistant, stores the pair
// with an embedding, and formats the most relevant past mistakes as a
// caution block for the system prompt.

const (
	// MaxFeedbackLength caps stored original/correction text.
	MaxFeedbackLength = 200
	// MaxPromptFeedback is how many items a caution block carries.
	MaxPromptFeedback = 3
	// MaxPromptItemLength clips each side of a caution item.
	MaxPromptItemLength = 60
)

var correctionPatterns = []*regexp.Regexp{
	// Korean explicit corrections
	regexp.MustCompile(`틀렸어`),
	regexp.MustCompile(`틀렸는데`),
	regexp.MustCompile(`틀린 거`),
	regexp.MustCompile(`잘못됐어`),
	regexp.MustCompile(`잘못된 거`),
	regexp.MustCompile(`그게 아니라`),
	regexp.MustCompile(`그거 아니야`),
	regexp.MustCompile(`아니야[,.]?\s`),
	regexp.MustCompile(`아닌데`),
	regexp.MustCompile(`아니거든`),
	regexp.MustCompile(`그건 아니고`),
	regexp.MustCompile(`사실은`),
	regexp.MustCompile(`실제로는`),
	regexp.MustCompile(`정확히는`),
	regexp.MustCompile(`정정할게`),
	regexp.MustCompile(`고쳐줘`),
	regexp.MustCompile(`수정해`),
	regexp.MustCompile(`다시 해`),
	regexp.MustCompile(`다시 말해`),
	regexp.MustCompile(`제대로`),
	// English explicit corrections
	regexp.MustCompile(`(?i)that'?s wrong`),
	regexp.MustCompile(`(?i)that'?s not right`),
	regexp.MustCompile(`(?i)that'?s incorrect`),
	regexp.MustCompile(`(?i)you'?re wrong`),
	regexp.MustCompile(`(?i)not correct`),
	regexp.MustCompile(`(?i)actually[,.]?\s`),
	regexp.MustCompile(`(?i)no[,.]?\s+it'?s`),
	regexp.MustCompile(`(?i)correction:`),
	regexp.MustCompile(`(?i)wrong[.!]`),
}

// FeedbackManager owns correction detection, storage, and retrieval.
type FeedbackManager struct {
	store *Store
}

// NewFeedbackManager binds the manager to the shared memory store.
// The feedback column migration already ran in Open.
func NewFeedbackManager(store *Store) *FeedbackManager {
	return &FeedbackManager{store: store}
}

// DetectCorrection reports whether a message looks like the user is
// correcting the assistant. Stateless regex scan; messages shorter
// than 2 characters never match.
func DetectCorrection(msg string) bool {
	if len([]rune(msg)) < 2 {
		return false
	}
	for _, p := range correctionPatterns {
		if p.MatchString(msg) {
			return true
		}
	}
	return false
}

// SaveCorrection stores one correction pair, truncated to
// MaxFeedbackLength each, with a best-effort embedding of the
// correction text.
func (fm *FeedbackManager) SaveCorrection(ctx context.Context, sessionID, original, correction, category string) (int64, error) {
	original = clipRunes(original, MaxFeedbackLength)
	correction = clipRunes(correction, MaxFeedbackLength)

	var blob []byte
	if vec, ok := fm.store.embedder.TryEmbed(ctx, correction); ok {
		blob = embedding.Pack(vec)
	}

	id, err := fm.store.SaveFeedback(ctx, Feedback{
		OriginalAction: original,
		Correction:     correction,
		SessionID:      sessionID,
		Category:       category,
	}, blob)
	if err != nil {
		return 0, err
	}
	logging.Get(logging.CategoryMemory).Infof("saved correction (id=%d, category=%s)", id, category)
	return id, nil
}

// RelevantFeedback returns the top-k corrections for a query: cosine
// ranking over embedded rows when possible, otherwise the most recent.
func (fm *FeedbackManager) RelevantFeedback(ctx context.Context, query string, k int) ([]Feedback, error) {
	if k <= 0 {
		k = MaxPromptFeedback
	}

	if qvec, ok := fm.store.embedder.TryEmbed(ctx, query); ok {
		if hits, err := fm.semanticFeedback(ctx, qvec, k); err == nil {
			return hits, nil
		}
	}
	return fm.RecentFeedback(ctx, k)
}

func (fm *FeedbackManager) semanticFeedback(ctx context.Context, qvec []float32, k int) ([]Feedback, error) {
	rows, err := fm.store.db.QueryContext(ctx,
		`SELECT id, timestamp, original_action, correction, applied,
		        COALESCE(session_id, ''), COALESCE(category, ''), embedding
		 FROM feedback WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("semantic feedback search: %w", err)
	}
	defer rows.Close()

	type scored struct {
		fb    Feedback
		score float64
	}
	var cands []scored
	for rows.Next() {
		var f Feedback
		var applied int
		var blob []byte
		if err := rows.Scan(&f.ID, &f.Timestamp, &f.OriginalAction, &f.Correction, &applied, &f.SessionID, &f.Category, &blob); err != nil {
			return nil, err
		}
		f.Applied = applied != 0
		cands = append(cands, scored{f, embedding.Cosine(qvec, embedding.Unpack(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]Feedback, len(cands))
	for i, c := range cands {
		out[i] = c.fb
	}
	return out, nil
}

// RecentFeedback returns the newest corrections, newest first.
func (fm *FeedbackManager) RecentFeedback(ctx context.Context, limit int) ([]Feedback, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := fm.store.db.QueryContext(ctx,
		`SELECT id, timestamp, original_action, correction, applied,
		        COALESCE(session_id, ''), COALESCE(category, '')
		 FROM feedback ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent feedback query: %w", err)
	}
	defer rows.Close()
	return scanFeedback(rows)
}

// CorrectionCount counts corrections, optionally by category.
func (fm *FeedbackManager) CorrectionCount(ctx context.Context, category string) (int64, error) {
	var n int64
	var err error
	if category != "" {
		err = fm.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback WHERE category = ?`, category).Scan(&n)
	} else {
		err = fm.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback`).Scan(&n)
	}
	return n, err
}

// FormatAsCaution renders corrections as the prompt caution block.
// Empty input yields "".
func FormatAsCaution(feedbacks []Feedback) string {
	if len(feedbacks) == 0 {
		return ""
	}
	if len(feedbacks) > MaxPromptFeedback {
		feedbacks = feedbacks[:MaxPromptFeedback]
	}

	var b strings.Builder
	b.WriteString("[주의: 과거 실수 기록]")
	for _, fb := range feedbacks {
		b.WriteString("\n- 잘못: ")
		b.WriteString(ellipsize(fb.OriginalAction, MaxPromptItemLength))
		b.WriteString(" → 교정: ")
		b.WriteString(ellipsize(fb.Correction, MaxPromptItemLength))
	}
	return b.String()
}

func clipRunes(s string, n int) string {
	if runes := []rune(s); len(runes) > n {
		return string(runes[:n])
	}
	return s
}

func ellipsize(s string, n int) string {
	if runes := []rune(s); len(runes) > n {
		return string(runes[:n]) + "..."
	}
	return s
}
