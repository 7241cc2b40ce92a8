package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"

	_ "github.com/mattn/go-sqlite3"

	"MultiChat/internal/config"
	"MultiChat/internal/roles"
	"MultiChat/internal/session"
)

// Settings storage keys. Each setting persists independently.
const (
	KeyThreshold     = "context_threshold"
	KeyAutoSummarize = "auto_summarize"
	KeySearchEnabled = "search_enabled"
	KeyCurrentRole   = "current_role"
	KeyCurrentModel  = "current_model"
)

// Store is the durable key-value layer for conversations, settings and
// custom roles. It holds no business logic and never caches: every read
// and write round-trips through the database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the SQLite database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT,
			memo TEXT,
			last_message TEXT,
			model TEXT,
			created_at DATETIME,
			updated_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT,
			role TEXT,
			content TEXT,
			model TEXT,
			timestamp DATETIME,
			FOREIGN KEY(conversation_id) REFERENCES conversations(id)
		);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS custom_roles (
			id TEXT PRIMARY KEY,
			name TEXT,
			description TEXT,
			system_prompt TEXT
		);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveConversation writes the conversation and all of its messages in one
// transaction, replacing whatever was stored before. Saving is full
// serialize-on-write; there is no incremental update path.
func (s *Store) SaveConversation(conv *session.Conversation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO conversations
		 (id, title, memo, last_message, model, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.Memo, conv.LastMessage, conv.Model, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", conv.ID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	for _, msg := range conv.Messages {
		_, err = tx.Exec(
			"INSERT INTO messages (conversation_id, role, content, model, timestamp) VALUES (?, ?, ?, ?, ?)",
			conv.ID, msg.Role, msg.Content, msg.Model, msg.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("conversation saved", "conversation_id", conv.ID, "message_count", len(conv.Messages))
	return nil
}

// LoadConversation loads a single conversation with its messages.
func (s *Store) LoadConversation(id string) (*session.Conversation, error) {
	conv := &session.Conversation{ID: id}
	err := s.db.QueryRow(
		"SELECT title, memo, last_message, model, created_at, updated_at FROM conversations WHERE id = ?", id,
	).Scan(&conv.Title, &conv.Memo, &conv.LastMessage, &conv.Model, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("conversation not found: %w", err)
	}

	msgs, err := s.loadMessages(id)
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs
	return conv, nil
}

// LoadConversations loads every stored conversation, messages included.
func (s *Store) LoadConversations() ([]*session.Conversation, error) {
	rows, err := s.db.Query(
		"SELECT id, title, memo, last_message, model, created_at, updated_at FROM conversations",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	defer rows.Close()

	conversations := []*session.Conversation{}
	for rows.Next() {
		conv := &session.Conversation{}
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.Memo, &conv.LastMessage, &conv.Model, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}

	for _, conv := range conversations {
		msgs, err := s.loadMessages(conv.ID)
		if err != nil {
			return nil, err
		}
		conv.Messages = msgs
	}
	return conversations, nil
}

// loadMessages returns a conversation's messages in insertion order, which
// is send order.
func (s *Store) loadMessages(conversationID string) ([]session.Message, error) {
	rows, err := s.db.Query(
		"SELECT role, content, model, timestamp FROM messages WHERE conversation_id = ? ORDER BY id",
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	messages := []session.Message{}
	for rows.Next() {
		var msg session.Message
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.Model, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM conversations WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return tx.Commit()
}

// DeleteAllConversations removes every conversation and message.
func (s *Store) DeleteAllConversations() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages"); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM conversations"); err != nil {
		return fmt.Errorf("failed to delete conversations: %w", err)
	}
	return tx.Commit()
}

// HasConversation reports whether a conversation row exists.
func (s *Store) HasConversation(id string) (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM conversations WHERE id = ?", id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check conversation: %w", err)
	}
	return n > 0, nil
}

// GetSetting returns the value stored under key, if any.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting writes a single setting through to storage.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// LoadSettings reads all settings, falling back to defaults for anything
// absent or malformed.
func (s *Store) LoadSettings() (config.Settings, error) {
	settings := config.DefaultSettings()

	if v, ok, err := s.GetSetting(KeyThreshold); err != nil {
		return settings, err
	} else if ok {
		if n, err := strconv.Atoi(v); err == nil && config.ValidateThreshold(n) == nil {
			settings.Threshold = n
		}
	}
	if v, ok, err := s.GetSetting(KeyAutoSummarize); err != nil {
		return settings, err
	} else if ok {
		settings.AutoSummarize = v == "true"
	}
	if v, ok, err := s.GetSetting(KeySearchEnabled); err != nil {
		return settings, err
	} else if ok {
		settings.SearchEnabled = v == "true"
	}
	if v, ok, err := s.GetSetting(KeyCurrentRole); err != nil {
		return settings, err
	} else if ok && v != "" {
		settings.RoleID = v
	}
	if v, ok, err := s.GetSetting(KeyCurrentModel); err != nil {
		return settings, err
	} else if ok && v != "" {
		settings.Model = v
	}
	return settings, nil
}

// SaveThreshold persists the retention threshold.
func (s *Store) SaveThreshold(n int) error {
	return s.SetSetting(KeyThreshold, strconv.Itoa(n))
}

// SaveBool persists a boolean setting.
func (s *Store) SaveBool(key string, v bool) error {
	return s.SetSetting(key, strconv.FormatBool(v))
}

// LoadCustomRoles loads all user-defined roles.
func (s *Store) LoadCustomRoles() (map[string]roles.Role, error) {
	rows, err := s.db.Query("SELECT id, name, description, system_prompt FROM custom_roles")
	if err != nil {
		return nil, fmt.Errorf("failed to load custom roles: %w", err)
	}
	defer rows.Close()

	custom := map[string]roles.Role{}
	for rows.Next() {
		var id string
		var role roles.Role
		if err := rows.Scan(&id, &role.Name, &role.Description, &role.SystemPrompt); err != nil {
			return nil, fmt.Errorf("failed to scan custom role: %w", err)
		}
		custom[id] = role
	}
	return custom, rows.Err()
}

// SaveCustomRole persists one user-defined role.
func (s *Store) SaveCustomRole(id string, role roles.Role) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO custom_roles (id, name, description, system_prompt) VALUES (?, ?, ?, ?)",
		id, role.Name, role.Description, role.SystemPrompt,
	)
	if err != nil {
		return fmt.Errorf("failed to save custom role: %w", err)
	}
	return nil
}
