// Package memory implements the layered long-term memory of Polaris:
// SQLite-backed conversations, knowledge, and feedback with best-effort
// semantic embeddings, plus the fact extractor and correction learning
// built on top of the same store.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"polaris/internal/embedding"
	"polaris/internal/logging"
)

// MaxKnowledgeContent caps stored knowledge bodies.
const MaxKnowledgeContent = 2000

// =============================================================================
// SCHEMA
// =============================================================================

const conversationsSchema = `
CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    session_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    embedding BLOB
);
CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id, id);
`

const knowledgeSchema = `
CREATE TABLE IF NOT EXISTS knowledge (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    category TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    embedding BLOB,
    source TEXT NOT NULL DEFAULT 'manual',
    tags_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_knowledge_source ON knowledge(source);
CREATE INDEX IF NOT EXISTS idx_knowledge_category ON knowledge(category);
`

const feedbackSchema = `
CREATE TABLE IF NOT EXISTS feedback (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    original_action TEXT NOT NULL,
    correction TEXT NOT NULL,
    applied INTEGER NOT NULL DEFAULT 0,
    embedding BLOB,
    session_id TEXT,
    category TEXT
);
`

// =============================================================================
// STORE
// =============================================================================

// Store owns the memory database. A single connection in WAL mode is
// shared by all goroutines; SQLite serializes the writes.
type Store struct {
	db       *sql.DB
	embedder *embedding.Embedder
	dbPath   string
}

// ConversationTurn is one row of the conversations table.
type ConversationTurn struct {
	ID        int64
	Timestamp string
	SessionID string
	Role      string
	Content   string
}

// Feedback is one stored correction.
type Feedback struct {
	ID             int64
	Timestamp      string
	OriginalAction string
	Correction     string
	Applied        bool
	SessionID      string
	Category       string
}

// Open opens (or creates) the memory database and ensures the schema.
// The embedder may be unavailable; every write path tolerates that.
func Open(dbPath string, embedder *embedding.Embedder) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory db: %w", err)
	}

	// Single connection keeps SQLite happy under concurrent goroutines.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	for _, schema := range []string{conversationsSchema, knowledgeSchema, feedbackSchema} {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

	s := &Store{db: db, embedder: embedder, dbPath: dbPath}
	if err := s.migrateFeedbackColumns(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Get(logging.CategoryMemory).Infof("memory store ready: %s", dbPath)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrateFeedbackColumns adds columns that older databases lack.
// ALTER TABLE on an existing column fails; that is the signal to skip.
func (s *Store) migrateFeedbackColumns() error {
	for _, col := range []string{
		"ALTER TABLE feedback ADD COLUMN embedding BLOB",
		"ALTER TABLE feedback ADD COLUMN session_id TEXT",
		"ALTER TABLE feedback ADD COLUMN category TEXT",
	} {
		_, _ = s.db.Exec(col)
	}
	return nil
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// SaveConversation appends one turn. Embedding is best-effort: an
// unavailable embedder never blocks the insert.
func (s *Store) SaveConversation(ctx context.Context, sessionID, role, content string) (int64, error) {
	var blob []byte
	if vec, ok := s.embedder.TryEmbed(ctx, content); ok {
		blob = embedding.Pack(vec)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (timestamp, session_id, role, content, embedding) VALUES (?, ?, ?, ?, ?)`,
		nowUTC(), sessionID, role, content, blob)
	if err != nil {
		return 0, fmt.Errorf("failed to save conversation: %w", err)
	}
	return res.LastInsertId()
}

// GetRecent returns the last `limit` turns of a session, oldest first.
func (s *Store) GetRecent(ctx context.Context, sessionID string, limit int) ([]ConversationTurn, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, session_id, role, content
		 FROM conversations WHERE session_id = ?
		 ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent turns: %w", err)
	}
	defer rows.Close()

	var turns []ConversationTurn
	for rows.Next() {
		var t ConversationTurn
		if err := rows.Scan(&t.ID, &t.Timestamp, &t.SessionID, &t.Role, &t.Content); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first; callers want chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// =============================================================================
// KNOWLEDGE
// =============================================================================

// SaveKnowledge stores one knowledge item, truncating the content to
// MaxKnowledgeContent characters.
func (s *Store) SaveKnowledge(ctx context.Context, category, title, content, source string, tags []string) (int64, error) {
	if runes := []rune(content); len(runes) > MaxKnowledgeContent {
		content = string(runes[:MaxKnowledgeContent])
	}

	var blob []byte
	if vec, ok := s.embedder.TryEmbed(ctx, title+"\n"+content); ok {
		blob = embedding.Pack(vec)
	}

	tagsJSON := "[]"
	if len(tags) > 0 {
		if b, err := json.Marshal(tags); err == nil {
			tagsJSON = string(b)
		}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge (timestamp, category, title, content, embedding, source, tags_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nowUTC(), category, title, content, blob, source, tagsJSON)
	if err != nil {
		return 0, fmt.Errorf("failed to save knowledge: %w", err)
	}
	return res.LastInsertId()
}

// =============================================================================
// FEEDBACK ROWS
// =============================================================================

// SaveFeedback inserts one feedback row as-is.
func (s *Store) SaveFeedback(ctx context.Context, f Feedback, embeddingBlob []byte) (int64, error) {
	applied := 0
	if f.Applied {
		applied = 1
	}
	ts := f.Timestamp
	if ts == "" {
		ts = nowUTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (timestamp, original_action, correction, applied, embedding, session_id, category)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ts, f.OriginalAction, f.Correction, applied, embeddingBlob, f.SessionID, f.Category)
	if err != nil {
		return 0, fmt.Errorf("failed to save feedback: %w", err)
	}
	return res.LastInsertId()
}

// GetPendingFeedback returns unapplied feedback rows, oldest first.
func (s *Store) GetPendingFeedback(ctx context.Context, limit int) ([]Feedback, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, original_action, correction, applied,
		        COALESCE(session_id, ''), COALESCE(category, '')
		 FROM feedback WHERE applied = 0 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending feedback: %w", err)
	}
	defer rows.Close()

	return scanFeedback(rows)
}

func scanFeedback(rows *sql.Rows) ([]Feedback, error) {
	var out []Feedback
	for rows.Next() {
		var f Feedback
		var applied int
		if err := rows.Scan(&f.ID, &f.Timestamp, &f.OriginalAction, &f.Correction, &applied, &f.SessionID, &f.Category); err != nil {
			return nil, err
		}
		f.Applied = applied != 0
		out = append(out, f)
	}
	return out, rows.Err()
}

// =============================================================================
// STATS
// =============================================================================

// Stats summarizes row counts for the status command.
type Stats struct {
	Conversations int64
	Knowledge     int64
	Feedback      int64
}

// GetStats counts rows in each table.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	queries := []struct {
		sql  string
		dest *int64
	}{
		{"SELECT COUNT(*) FROM conversations", &st.Conversations},
		{"SELECT COUNT(*) FROM knowledge", &st.Knowledge},
		{"SELECT COUNT(*) FROM feedback", &st.Feedback},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return st, err
		}
	}
	return st, nil
}
