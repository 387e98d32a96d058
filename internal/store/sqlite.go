package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore is a durable local history backend for offline development:
// the same contract as the Backboard client, but persisted across restarts.
// Ownership is a real column here, so access control happens in the query
// instead of by metadata scraping.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        created_at TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        conversation_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('system', 'user', 'assistant')),
        content TEXT NOT NULL,
        timestamp TEXT NOT NULL,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id)
    );

    CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id);
    `
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, userID, systemPrompt string) (string, error) {
	conversationID := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, user_id, created_at) VALUES (?, ?, ?)",
		conversationID, userID, now)
	if err != nil {
		return "", fmt.Errorf("failed to insert conversation: %w", err)
	}

	seed := Message{Role: RoleSystem, Content: systemPrompt, Timestamp: now}
	if err := s.insertMessage(ctx, conversationID, seed); err != nil {
		return "", err
	}
	return conversationID, nil
}

func (s *SQLiteStore) Conversation(ctx context.Context, conversationID, userID string) (*ConversationDetail, error) {
	var owner, createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, created_at FROM conversations WHERE id = ?",
		conversationID).Scan(&owner, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if owner != userID {
		return nil, ErrAccessDenied
	}

	messages, err := s.messagesByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &ConversationDetail{
		ConversationID: conversationID,
		UserID:         owner,
		Title:          DeriveTitle(messages),
		UpdatedAt:      LastTimestamp(messages, createdAt),
		Messages:       messages,
	}, nil
}

func (s *SQLiteStore) Conversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, created_at FROM conversations WHERE user_id = ? ORDER BY created_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	type row struct{ id, createdAt string }
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversation rows: %w", err)
	}

	summaries := []ConversationSummary{}
	for _, r := range all {
		messages, err := s.messagesByConversation(ctx, r.id)
		if err != nil {
			return nil, err
		}
		if !HasUserMessage(messages) {
			continue
		}
		summaries = append(summaries, ConversationSummary{
			ConversationID: r.id,
			UserID:         userID,
			Title:          DeriveTitle(messages),
			UpdatedAt:      LastTimestamp(messages, r.createdAt),
			MessageCount:   len(messages),
		})
	}
	return summaries, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID, userID string, msg Message) error {
	var owner string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id FROM conversations WHERE id = ?", conversationID).Scan(&owner)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to verify conversation: %w", err)
	}
	if owner != userID {
		return ErrAccessDenied
	}
	return s.insertMessage(ctx, conversationID, msg)
}

func (s *SQLiteStore) insertMessage(ctx context.Context, conversationID string, msg Message) error {
	timestamp := msg.Timestamp
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, conversation_id, role, content, timestamp) VALUES (?, ?, ?, ?, ?)",
		uuid.NewString(), conversationID, string(msg.Role), msg.Content, timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) messagesByConversation(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content, timestamp FROM messages WHERE conversation_id = ? ORDER BY timestamp ASC, rowid ASC",
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var role string
		if err := rows.Scan(&role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Role = Role(role)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read message rows: %w", err)
	}
	return messages, nil
}
