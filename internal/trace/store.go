// Package trace records an append-only audit of every tool invocation
// and its approval decision. Rows are never edited; corrections are new
// rows referencing older thoughts.
package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"polaris/internal/logging"
)

const tracesSchema = `
CREATE TABLE IF NOT EXISTS traces (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    thought TEXT,
    tool TEXT NOT NULL,
    args TEXT,
    result TEXT,
    approval_level TEXT NOT NULL,
    approved_by TEXT,
    session_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_traces_session ON traces(session_id);
CREATE INDEX IF NOT EXISTS idx_traces_tool ON traces(tool);
CREATE INDEX IF NOT EXISTS idx_traces_timestamp ON traces(timestamp);
`

// Row is one immutable trace record.
type Row struct {
	ID            int64  `json:"id"`
	Timestamp     string `json:"timestamp"`
	Thought       string `json:"thought"`
	Tool          string `json:"tool"`
	Args          string `json:"args"`
	Result        string `json:"result"`
	ApprovalLevel string `json:"approval_level"`
	ApprovedBy    string `json:"approved_by"`
	SessionID     string `json:"session_id"`
}

// Store is the append-only trace database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens (or creates) the trace database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(tracesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure trace schema: %w", err)
	}

	logging.Get(logging.CategoryTrace).Infof("trace store ready: %s", dbPath)
	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Log appends one trace row with a fresh UTC timestamp. Args are
// serialized to JSON text; a nil map stores "{}".
func (s *Store) Log(ctx context.Context, thought, tool string, args map[string]any, result, approvalLevel, approvedBy, sessionID string) (int64, error) {
	argsJSON := "{}"
	if len(args) > 0 {
		if b, err := json.Marshal(args); err == nil {
			argsJSON = string(b)
		}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO traces (timestamp, thought, tool, args, result, approval_level, approved_by, session_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), thought, tool, argsJSON, result, approvalLevel, approvedBy, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to log trace: %w", err)
	}
	return res.LastInsertId()
}

// BySession returns a session's traces, newest first.
func (s *Store) BySession(ctx context.Context, sessionID string, limit int) ([]Row, error) {
	return s.query(ctx,
		`SELECT id, timestamp, COALESCE(thought,''), tool, COALESCE(args,''), COALESCE(result,''),
		        approval_level, COALESCE(approved_by,''), COALESCE(session_id,'')
		 FROM traces WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, capLimit(limit))
}

// ByTool returns traces for one tool, newest first.
func (s *Store) ByTool(ctx context.Context, tool string, limit int) ([]Row, error) {
	return s.query(ctx,
		`SELECT id, timestamp, COALESCE(thought,''), tool, COALESCE(args,''), COALESCE(result,''),
		        approval_level, COALESCE(approved_by,''), COALESCE(session_id,'')
		 FROM traces WHERE tool = ? ORDER BY id DESC LIMIT ?`, tool, capLimit(limit))
}

// ByDateRange returns traces between two inclusive ISO-8601 bounds,
// oldest first.
func (s *Store) ByDateRange(ctx context.Context, from, to string) ([]Row, error) {
	return s.query(ctx,
		`SELECT id, timestamp, COALESCE(thought,''), tool, COALESCE(args,''), COALESCE(result,''),
		        approval_level, COALESCE(approved_by,''), COALESCE(session_id,'')
		 FROM traces WHERE timestamp >= ? AND timestamp <= ? ORDER BY id ASC`, from, to)
}

// Recent returns the newest N traces.
func (s *Store) Recent(ctx context.Context, limit int) ([]Row, error) {
	return s.query(ctx,
		`SELECT id, timestamp, COALESCE(thought,''), tool, COALESCE(args,''), COALESCE(result,''),
		        approval_level, COALESCE(approved_by,''), COALESCE(session_id,'')
		 FROM traces ORDER BY id DESC LIMIT ?`, capLimit(limit))
}

// Count returns the total number of trace rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM traces`).Scan(&n)
	return n, err
}

// ExportJSON renders the whole table, oldest first, as a JSON array.
func (s *Store) ExportJSON(ctx context.Context) ([]byte, error) {
	rows, err := s.query(ctx,
		`SELECT id, timestamp, COALESCE(thought,''), tool, COALESCE(args,''), COALESCE(result,''),
		        approval_level, COALESCE(approved_by,''), COALESCE(session_id,'')
		 FROM traces ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []Row{}
	}
	return json.MarshalIndent(rows, "", "  ")
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("trace query failed: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Thought, &r.Tool, &r.Args, &r.Result,
			&r.ApprovalLevel, &r.ApprovedBy, &r.SessionID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func capLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}
