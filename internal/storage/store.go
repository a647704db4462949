package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deepvalue-ai/deepvalue/internal/models"
)

// ErrSessionNotFound is returned when no session row matches an ID.
var ErrSessionNotFound = errors.New("session not found")

// Store is the sqlite-backed manifest archive.
type Store struct {
	db *sql.DB
}

// Open creates or opens the archive at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		ticker TEXT NOT NULL,
		mode TEXT NOT NULL,
		depth INTEGER NOT NULL,
		state TEXT NOT NULL,
		decision TEXT,
		conviction TEXT,
		failure TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		manifest_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_ticker ON sessions(ticker, started_at DESC);`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	return nil
}

// SaveManifest archives one finished session. Saving the same session
// twice replaces the earlier row.
func (s *Store) SaveManifest(ctx context.Context, m *models.SessionManifest) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	var decision string
	if m.Decision != nil {
		decision = string(m.Decision.Decision)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions
		(session_id, ticker, mode, depth, state, decision, conviction, failure, started_at, finished_at, manifest_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, m.Ticker, string(m.Mode), m.Depth, string(m.State),
		decision, string(m.Conviction), string(m.Failure),
		m.StartedAt.UTC(), m.FinishedAt.UTC(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", m.SessionID, err)
	}
	return nil
}

// GetManifest loads one archived session in full.
func (s *Store) GetManifest(ctx context.Context, sessionID string) (*models.SessionManifest, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT manifest_json FROM sessions WHERE session_id = ?`, sessionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	var m models.SessionManifest
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
	}
	return &m, nil
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	SessionID  string
	Ticker     string
	Mode       models.Mode
	State      models.SessionState
	Decision   string
	Conviction string
	StartedAt  time.Time
}

// ListSessions returns recent sessions, newest first. An empty ticker
// lists across all subjects.
func (s *Store) ListSessions(ctx context.Context, ticker string, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT session_id, ticker, mode, state, decision, conviction, started_at
		FROM sessions`
	args := []any{}
	if ticker != "" {
		query += ` WHERE ticker = ?`
		args = append(args, ticker)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.SessionID, &sum.Ticker, &sum.Mode, &sum.State,
			&sum.Decision, &sum.Conviction, &sum.StartedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
