package mail

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// =============================================================================
// SCHEMA
// =============================================================================

const messagesSchema = `
CREATE TABLE IF NOT EXISTS mail_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ext_id TEXT UNIQUE NOT NULL,
    thread_id TEXT,
    account_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    sender TEXT,
    subject TEXT,
    body_preview TEXT,
    received_at TEXT,
    is_unread INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mail_messages_received_at ON mail_messages(received_at);
CREATE INDEX IF NOT EXISTS idx_mail_messages_account_id ON mail_messages(account_id);
`

const classificationSchema = `
CREATE TABLE IF NOT EXISTS mail_classification (
    ext_id TEXT PRIMARY KEY,
    category TEXT NOT NULL,
    confidence REAL NOT NULL,
    reason TEXT,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mail_classification_category ON mail_classification(category);
`

const alertsSchema = `
CREATE TABLE IF NOT EXISTS mail_alerts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ext_id TEXT NOT NULL,
    alert_type TEXT NOT NULL,
    notified_at TEXT NOT NULL,
    UNIQUE(ext_id, alert_type)
);
`

const actionsSchema = `
CREATE TABLE IF NOT EXISTS mail_actions_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ext_id TEXT,
    action TEXT NOT NULL,
    status TEXT NOT NULL,
    detail TEXT,
    created_at TEXT NOT NULL
);
`

// =============================================================================
// STORE
// =============================================================================

// Store persists ingested mail, triage verdicts, alert bookkeeping,
// and the action log.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the mail database.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open mail db: %w", err)
	}
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

	for _, schema := range []string{messagesSchema, classificationSchema, alertsSchema, actionsSchema} {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to init mail schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// UpsertMessage inserts the message if its ext_id is new. Reports
// whether a row was actually inserted.
func (s *Store) UpsertMessage(ctx context.Context, m Message) (bool, error) {
	unread := 0
	if m.Unread {
		unread = 1
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO mail_messages
		(ext_id, thread_id, account_id, provider, sender, subject, body_preview, received_at, is_unread, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ExtID, m.ThreadID, m.AccountID, m.Provider, m.Sender, m.Subject,
		m.BodyPreview, m.ReceivedAt, unread, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("failed to upsert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveClassification stores or replaces the verdict for one message.
func (s *Store) SaveClassification(ctx context.Context, extID string, c Classification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mail_classification (ext_id, category, confidence, reason, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ext_id) DO UPDATE SET
			category=excluded.category,
			confidence=excluded.confidence,
			reason=excluded.reason,
			updated_at=excluded.updated_at`,
		extID, c.Category, c.Confidence, c.Reason, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save classification: %w", err)
	}
	return nil
}

// Digest returns recent messages joined with their classification,
// optionally filtered by category and account, newest first.
func (s *Store) Digest(ctx context.Context, category, accountID string, limit int) ([]DigestRow, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT m.ext_id, m.account_id, m.provider, m.sender, m.subject, m.body_preview, m.received_at,
		       COALESCE(c.category, ''), COALESCE(c.confidence, 0), COALESCE(c.reason, '')
		FROM mail_messages m
		LEFT JOIN mail_classification c ON c.ext_id = m.ext_id
		WHERE 1=1`
	var args []any
	if category != "" {
		query += " AND c.category = ?"
		args = append(args, category)
	}
	if accountID != "" {
		query += " AND m.account_id = ?"
		args = append(args, accountID)
	}
	query += " ORDER BY COALESCE(m.received_at, m.created_at) DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query digest: %w", err)
	}
	defer rows.Close()

	var out []DigestRow
	for rows.Next() {
		var r DigestRow
		if err := rows.Scan(&r.ExtID, &r.AccountID, &r.Provider, &r.Sender, &r.Subject,
			&r.BodyPreview, &r.ReceivedAt, &r.Category, &r.Confidence, &r.Reason); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UnalertedUrgent returns urgent messages that have not yet produced
// an alert, newest first.
func (s *Store) UnalertedUrgent(ctx context.Context, limit int) ([]DigestRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.ext_id, m.account_id, m.provider, m.sender, m.subject, m.body_preview, m.received_at,
		       c.category, c.confidence, COALESCE(c.reason, '')
		FROM mail_messages m
		JOIN mail_classification c ON c.ext_id = m.ext_id
		LEFT JOIN mail_alerts a ON a.ext_id = m.ext_id AND a.alert_type = 'urgent'
		WHERE c.category = 'urgent' AND a.id IS NULL
		ORDER BY COALESCE(m.received_at, m.created_at) DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query urgent mail: %w", err)
	}
	defer rows.Close()

	var out []DigestRow
	for rows.Next() {
		var r DigestRow
		if err := rows.Scan(&r.ExtID, &r.AccountID, &r.Provider, &r.Sender, &r.Subject,
			&r.BodyPreview, &r.ReceivedAt, &r.Category, &r.Confidence, &r.Reason); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkAlerted records that an alert went out for this message.
// Idempotent per (ext_id, alert_type).
func (s *Store) MarkAlerted(ctx context.Context, extID, alertType string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO mail_alerts (ext_id, alert_type, notified_at)
		VALUES (?, ?, ?)`,
		extID, alertType, time.Now().UTC().Format(time.RFC3339))
	return err
}

// LogAction appends one row to the action log.
func (s *Store) LogAction(ctx context.Context, extID, action, status, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mail_actions_log (ext_id, action, status, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		extID, action, status, detail, time.Now().UTC().Format(time.RFC3339))
	return err
}

// ActionCount returns how many action rows carry the given status.
func (s *Store) ActionCount(ctx context.Context, status string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mail_actions_log WHERE status = ?`, status).Scan(&n)
	return n, err
}
