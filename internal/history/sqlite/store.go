// Package sqlite is a SQLite-backed history store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chatgraph/chatgraph/internal/domain"
	"github.com/chatgraph/chatgraph/internal/history"
)

// Store persists session history in SQLite.
type Store struct {
	db  *sql.DB
	ttl time.Duration
}

// New opens (or creates) the database at dbPath. ttl <= 0 disables expiry.
func New(dbPath string, ttl time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{db: db, ttl: ttl}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			seq INTEGER NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM sessions WHERE id = ?`, sessionID).Scan(&updatedAt)
	if err == sql.ErrNoRows {
		return nil, history.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", history.ErrUnavailable, err)
	}
	if s.ttl > 0 && time.Since(updatedAt) > s.ttl {
		return nil, history.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, metadata FROM messages WHERE session_id = ? ORDER BY seq ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", history.ErrUnavailable, err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var (
			role, content string
			metaRaw       sql.NullString
		)
		if err := rows.Scan(&role, &content, &metaRaw); err != nil {
			return nil, fmt.Errorf("%w: %v", history.ErrUnavailable, err)
		}
		msg := domain.Message{Role: domain.Role(role), Content: content}
		if metaRaw.Valid && metaRaw.String != "" {
			_ = json.Unmarshal([]byte(metaRaw.String), &msg.Metadata)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", history.ErrUnavailable, err)
	}

	return msgs, nil
}

func (s *Store) Put(ctx context.Context, sessionID string, msgs []domain.Message, maxLen int) error {
	trimmed := history.Trim(msgs, maxLen)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", history.ErrUnavailable, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, updated_at) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, now); err != nil {
		return fmt.Errorf("%w: %v", history.ErrUnavailable, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("%w: %v", history.ErrUnavailable, err)
	}

	for i, msg := range trimmed {
		var metaRaw any
		if len(msg.Metadata) > 0 {
			b, err := json.Marshal(msg.Metadata)
			if err != nil {
				return fmt.Errorf("marshal message metadata: %w", err)
			}
			metaRaw = string(b)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, role, content, metadata, seq) VALUES (?, ?, ?, ?, ?)`,
			sessionID, string(msg.Role), msg.Content, metaRaw, i); err != nil {
			return fmt.Errorf("%w: %v", history.ErrUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", history.ErrUnavailable, err)
	}
	return nil
}

// ExpireStale removes sessions idle past the TTL. Intended to be called
// periodically by the owner.
func (s *Store) ExpireStale(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-s.ttl)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", history.ErrUnavailable, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id NOT IN (SELECT id FROM sessions)`); err != nil {
		return 0, fmt.Errorf("%w: %v", history.ErrUnavailable, err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ history.Store = (*Store)(nil)
