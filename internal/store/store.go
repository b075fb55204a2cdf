// Package store provides SQLite-backed persistence for conversations and
// their messages. The schema is created on open.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is one chat thread. Title is nil until the first derivation
// succeeds. Timestamps are UTC ISO-8601 strings.
type Conversation struct {
	ID        string  `json:"id"`
	OwnerID   string  `json:"owner_id"`
	Title     *string `json:"title"`
	Pinned    bool    `json:"pinned"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// Message is a single user or assistant turn. Messages are ordered by
// creation within a conversation; that ordering is the source of truth for
// the history handed to the model.
type Message struct {
	ID             string `json:"id"`
	OwnerID        string `json:"owner_id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	title TEXT,
	pinned INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
`

// Store is the conversation/message repository.
type Store struct {
	db *sql.DB
}

// Open opens (and creates, if needed) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_busy_timeout=10000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// CreateConversation creates a new untitled conversation for owner.
func (s *Store) CreateConversation(ctx context.Context, owner string) (Conversation, error) {
	c := Conversation{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		CreatedAt: now(),
	}
	c.UpdatedAt = c.CreatedAt
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_id, title, pinned, created_at, updated_at) VALUES (?,?,NULL,0,?,?)`,
		c.ID, c.OwnerID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// GetConversation returns the conversation with the given id, or nil if it
// does not exist.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, pinned, created_at, updated_at FROM conversations WHERE id = ?`, id)
	var c Conversation
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Title, &c.Pinned, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

// ListConversations returns the owner's conversations, pinned first, then
// most recently updated first.
func (s *Store) ListConversations(ctx context.Context, owner string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, title, pinned, created_at, updated_at FROM conversations
		 WHERE owner_id = ? ORDER BY pinned DESC, updated_at DESC, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Title, &c.Pinned, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RenameConversation sets the conversation's title unconditionally.
func (s *Store) RenameConversation(ctx context.Context, id, title string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`, title, now(), id)
	return err
}

// UpdateConversationTitle sets the title only when none is set yet, and
// reports whether it was applied. Keeps title derivation at-most-once even
// if two turns race.
func (s *Store) UpdateConversationTitle(ctx context.Context, id, title string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND title IS NULL`, title, now(), id)
	if err != nil {
		return false, fmt.Errorf("update title: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetPinned pins or unpins a conversation.
func (s *Store) SetPinned(ctx context.Context, id string, pinned bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET pinned = ?, updated_at = ? WHERE id = ?`, pinned, now(), id)
	return err
}

// TouchConversation bumps the conversation's updated_at.
func (s *Store) TouchConversation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now(), id)
	return err
}

// DeleteConversation removes a conversation and all of its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	return err
}

// AppendMessage persists a new turn at the end of the conversation.
func (s *Store) AppendMessage(ctx context.Context, conversationID, owner, role, content string) (Message, error) {
	m := Message{
		ID:             uuid.NewString(),
		OwnerID:        owner,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now(),
	}
	m.UpdatedAt = m.CreatedAt
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, owner_id, conversation_id, role, content, created_at, updated_at) VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.OwnerID, m.ConversationID, m.Role, m.Content, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

// ListMessages returns all messages of a conversation in creation order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, conversation_id, role, content, created_at, updated_at FROM messages
		 WHERE conversation_id = ? ORDER BY created_at, rowid`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMessageContent overwrites a message's content in place.
func (s *Store) UpdateMessageContent(ctx context.Context, messageID, content string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, updated_at = ? WHERE id = ?`, content, now(), messageID)
	return err
}
