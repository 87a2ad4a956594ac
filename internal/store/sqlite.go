package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/haasonsaas/weave/pkg/models"
)

// SQLiteStore implements Store on a single SQLite database file with an
// FTS5 search index. Write transactions take the database write lock up
// front (txlock=immediate) so concurrent engine processes serialize per
// database rather than per Go process.
type SQLiteStore struct {
	db *sql.DB
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file path. Empty means a private in-memory
	// database.
	Path string

	// BusyTimeout is how long writers wait on the database lock.
	// Default: 5s.
	BusyTimeout time.Duration
}

// NewSQLiteStore opens or creates the database and ensures the schema.
// Schema setup is idempotent and safe on every construction.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf(
		"file:%s?_txlock=immediate&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)",
		cfg.Path, cfg.BusyTimeout.Milliseconds(),
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps in-memory databases coherent and avoids
	// writer starvation on file databases.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			title      TEXT,
			metadata   TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			chat_id    TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			parent_id  TEXT REFERENCES messages(id),
			name       TEXT NOT NULL,
			type       TEXT,
			data       TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_parent ON messages(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_parent ON messages(chat_id, parent_id)`,
		`CREATE TABLE IF NOT EXISTS branches (
			id              TEXT PRIMARY KEY,
			chat_id         TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			name            TEXT NOT NULL,
			head_message_id TEXT REFERENCES messages(id),
			is_active       INTEGER NOT NULL DEFAULT 0,
			created_at      TIMESTAMP NOT NULL,
			UNIQUE(chat_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_branches_chat ON branches(chat_id)`,
		`CREATE INDEX IF NOT EXISTS idx_branches_chat_active ON branches(chat_id, is_active)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id         TEXT PRIMARY KEY,
			chat_id    TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			name       TEXT NOT NULL,
			message_id TEXT NOT NULL REFERENCES messages(id),
			created_at TIMESTAMP NOT NULL,
			UNIQUE(chat_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_chat ON checkpoints(chat_id)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
			message_id UNINDEXED,
			chat_id UNINDEXED,
			content
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertChat(ctx context.Context, chat *models.Chat) error {
	if chat == nil || chat.ID == "" {
		return fmt.Errorf("%w: chat id is required", ErrValidation)
	}
	return s.withTx(ctx, "upsert chat", func(tx *sql.Tx) error {
		return upsertChatTx(ctx, tx, chat, sqliteDialect)
	})
}

func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, metadata, created_at, updated_at FROM chats WHERE id = ?`, id)
	return scanChat(row)
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, id string) error {
	return s.withTx(ctx, "delete chat", func(tx *sql.Tx) error {
		// The FTS table has no FK; cascade it by hand inside the same
		// transaction.
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages_fts WHERE chat_id = ?`, id); err != nil {
			return err
		}
		// Self-referencing parent_id and branch heads would block the
		// chat cascade; clear them first.
		if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE chat_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM branches WHERE chat_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET parent_id = NULL WHERE chat_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, id); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLiteStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.ID == "" || msg.ChatID == "" {
		return fmt.Errorf("%w: message id and chat id are required", ErrValidation)
	}
	return s.withTx(ctx, "add message", func(tx *sql.Tx) error {
		return addMessageTx(ctx, tx, msg, sqliteDialect)
	})
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, parent_id, name, type, data, created_at FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

func (s *SQLiteStore) ListMessages(ctx context.Context, chatID, branch string) ([]*models.Message, error) {
	head, err := s.branchHead(ctx, chatID, branch)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return []*models.Message{}, nil
	}

	// Walk parent pointers head to root, then flip to chat order.
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE chain(id, chat_id, parent_id, name, type, data, created_at, depth) AS (
			SELECT id, chat_id, parent_id, name, type, data, created_at, 0
			FROM messages WHERE id = ?
			UNION ALL
			SELECT m.id, m.chat_id, m.parent_id, m.name, m.type, m.data, m.created_at, c.depth + 1
			FROM messages m INNER JOIN chain c ON m.id = c.parent_id
		)
		SELECT id, chat_id, parent_id, name, type, data, created_at
		FROM chain ORDER BY depth DESC
	`, *head)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) ChatMessages(ctx context.Context, chatID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, parent_id, name, type, data, created_at
		FROM messages WHERE chat_id = ? ORDER BY created_at ASC, id ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("chat messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) SearchMessages(ctx context.Context, chatID, query string) ([]*models.Message, error) {
	match := ftsQuery(query)
	if match == "" {
		return []*models.Message{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.chat_id, m.parent_id, m.name, m.type, m.data, m.created_at
		FROM messages_fts f
		INNER JOIN messages m ON m.id = f.message_id
		WHERE messages_fts MATCH ? AND f.chat_id = ?
		ORDER BY m.created_at ASC, m.id ASC
	`, match, chatID)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) CreateBranch(ctx context.Context, branch *models.Branch) error {
	if branch == nil || branch.ChatID == "" || branch.Name == "" {
		return fmt.Errorf("%w: branch chat id and name are required", ErrValidation)
	}
	return s.withTx(ctx, "create branch", func(tx *sql.Tx) error {
		return createBranchTx(ctx, tx, branch, sqliteDialect)
	})
}

func (s *SQLiteStore) SetActiveBranch(ctx context.Context, chatID, name string) error {
	return s.withTx(ctx, "set active branch", func(tx *sql.Tx) error {
		return setActiveBranchTx(ctx, tx, chatID, name, sqliteDialect)
	})
}

func (s *SQLiteStore) ListBranches(ctx context.Context, chatID string) ([]*models.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, name, head_message_id, is_active, created_at
		FROM branches WHERE chat_id = ? ORDER BY created_at ASC, name ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()
	return scanBranches(rows)
}

func (s *SQLiteStore) CreateCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	if cp == nil || cp.ChatID == "" || cp.Name == "" || cp.MessageID == "" {
		return fmt.Errorf("%w: checkpoint chat id, name and message id are required", ErrValidation)
	}
	return s.withTx(ctx, "create checkpoint", func(tx *sql.Tx) error {
		return createCheckpointTx(ctx, tx, cp, sqliteDialect)
	})
}

func (s *SQLiteStore) RestoreCheckpoint(ctx context.Context, chatID, name, branch string) error {
	return s.withTx(ctx, "restore checkpoint", func(tx *sql.Tx) error {
		return restoreCheckpointTx(ctx, tx, chatID, name, branch, sqliteDialect)
	})
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context, chatID string) ([]*models.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, name, message_id, created_at
		FROM checkpoints WHERE chat_id = ? ORDER BY created_at ASC, name ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()
	return scanCheckpoints(rows)
}

func (s *SQLiteStore) Append(ctx context.Context, chat *models.Chat, branch string, msgs []*models.Message) error {
	if chat == nil || chat.ID == "" {
		return fmt.Errorf("%w: chat id is required", ErrValidation)
	}
	return s.withTx(ctx, "append", func(tx *sql.Tx) error {
		return appendTx(ctx, tx, chat, branch, msgs, sqliteDialect)
	})
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, mapping failures to the store error
// taxonomy. Once the transaction has begun it runs to completion or rolls
// back; caller cancellation no longer interrupts it mid-write.
func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	txCtx := context.WithoutCancel(ctx)
	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return &TransactionError{Op: op, Err: err}
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	if err := fn(tx); err != nil {
		return mapSQLiteErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return &TransactionError{Op: op, Err: err}
	}
	return nil
}

// mapSQLiteErr converts driver errors into the store taxonomy. Taxonomy
// errors produced inside the transaction body pass through unchanged.
func mapSQLiteErr(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrForeignKey),
		errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrValidation):
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %s", ErrForeignKey, op)
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %s", ErrAlreadyExists, op)
	default:
		return &TransactionError{Op: op, Err: err}
	}
}

// branchHead resolves the head message ID for the named branch, or the
// active branch when name is empty.
func (s *SQLiteStore) branchHead(ctx context.Context, chatID, branch string) (*string, error) {
	var (
		head sql.NullString
		err  error
	)
	if branch != "" {
		err = s.db.QueryRowContext(ctx,
			`SELECT head_message_id FROM branches WHERE chat_id = ? AND name = ?`, chatID, branch).Scan(&head)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT head_message_id FROM branches WHERE chat_id = ? AND is_active = 1`, chatID).Scan(&head)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: branch for chat %s", ErrNotFound, chatID)
	}
	if err != nil {
		return nil, fmt.Errorf("branch head: %w", err)
	}
	if !head.Valid {
		return nil, nil
	}
	value := head.String
	return &value, nil
}
