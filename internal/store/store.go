// Package store persists user relationship state and per-chat message
// history in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stellarlinkco/pacebot/internal/cooldown"
	"github.com/stellarlinkco/pacebot/internal/domain"
	"github.com/stellarlinkco/pacebot/internal/social"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

// ChatMessage is one history row. Agent replies have FromAgent set and
// SenderID 0.
type ChatMessage struct {
	ChatID    int64
	SenderID  int64
	FromAgent bool
	Content   string
	CreatedAt time.Time
}

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id INTEGER PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			relationship TEXT NOT NULL DEFAULT 'stranger',
			trust REAL NOT NULL DEFAULT 0.5,
			interaction_count INTEGER NOT NULL DEFAULT 0,
			positive_interactions INTEGER NOT NULL DEFAULT 0,
			negative_interactions INTEGER NOT NULL DEFAULT 0,
			topics TEXT NOT NULL DEFAULT '[]',
			preferred_persona TEXT NOT NULL DEFAULT '',
			block_reason TEXT NOT NULL DEFAULT '',
			first_interaction INTEGER NOT NULL DEFAULT 0,
			last_interaction INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_relationship ON users(relationship)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			sender_id INTEGER NOT NULL DEFAULT 0,
			from_agent INTEGER NOT NULL DEFAULT 0,
			content TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_chat ON chat_messages(chat_id, created_at)`,
		fmt.Sprintf("PRAGMA user_version = %d", schemaVersion),
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

const userColumns = `user_id, username, display_name, relationship, trust,
	interaction_count, positive_interactions, negative_interactions, topics,
	preferred_persona, block_reason, first_interaction, last_interaction`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*social.UserState, error) {
	var (
		u               social.UserState
		relationship    string
		trust           float64
		topicsJSON      string
		firstMs, lastMs int64
	)
	if err := row.Scan(&u.UserID, &u.Username, &u.DisplayName, &relationship, &trust,
		&u.InteractionCount, &u.PositiveInteractions, &u.NegativeInteractions, &topicsJSON,
		&u.PreferredPersona, &u.BlockReason, &firstMs, &lastMs); err != nil {
		return nil, err
	}

	u.Relationship = social.Level(relationship)
	ts, err := social.NewTrustScore(trust)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", u.UserID, err)
	}
	u.Trust = ts

	var topics []string
	if err := json.Unmarshal([]byte(topicsJSON), &topics); err != nil {
		return nil, fmt.Errorf("user %d topics: %w", u.UserID, err)
	}
	u.AddTopics(topics...)
	u.FirstInteraction = fromMillis(firstMs)
	u.LastInteraction = fromMillis(lastMs)
	return &u, nil
}

// LoadUser returns domain.ErrNotFound for an unknown user.
func (s *Store) LoadUser(ctx context.Context, userID int64) (*social.UserState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

func (s *Store) SaveUser(ctx context.Context, u *social.UserState) error {
	topics, err := json.Marshal(u.Topics())
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			relationship = excluded.relationship,
			trust = excluded.trust,
			interaction_count = excluded.interaction_count,
			positive_interactions = excluded.positive_interactions,
			negative_interactions = excluded.negative_interactions,
			topics = excluded.topics,
			preferred_persona = excluded.preferred_persona,
			block_reason = excluded.block_reason,
			first_interaction = excluded.first_interaction,
			last_interaction = excluded.last_interaction,
			updated_at = excluded.updated_at
	`, u.UserID, u.Username, u.DisplayName, string(u.Relationship), u.Trust.Value(),
		u.InteractionCount, u.PositiveInteractions, u.NegativeInteractions, string(topics),
		u.PreferredPersona, u.BlockReason, toMillis(u.FirstInteraction), toMillis(u.LastInteraction))
	if err != nil {
		return fmt.Errorf("save user %d: %w", u.UserID, err)
	}
	return nil
}

// ListUsers returns every known user, most recently active first.
func (s *Store) ListUsers(ctx context.Context) ([]social.UserState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY last_interaction DESC, user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []social.UserState
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *Store) RecordMessage(ctx context.Context, m ChatMessage) error {
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	fromAgent := 0
	if m.FromAgent {
		fromAgent = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (chat_id, sender_id, from_agent, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.ChatID, m.SenderID, fromAgent, m.Content, created.UnixMilli())
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

// RecentMessages returns the chat's history at or after since, oldest first,
// in the shape the cooldown check consumes.
func (s *Store) RecentMessages(ctx context.Context, chatID int64, since time.Time) ([]cooldown.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_agent, created_at FROM chat_messages
		WHERE chat_id = ? AND created_at >= ?
		ORDER BY created_at ASC, id ASC
	`, chatID, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []cooldown.Message
	for rows.Next() {
		var (
			fromAgent int
			ms        int64
		)
		if err := rows.Scan(&fromAgent, &ms); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, cooldown.Message{
			ChatID:    chatID,
			FromAgent: fromAgent != 0,
			Timestamp: time.UnixMilli(ms),
		})
	}
	return out, rows.Err()
}

// PruneMessages deletes history older than before and reports how many rows went.
func (s *Store) PruneMessages(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune messages rows: %w", err)
	}
	return n, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
