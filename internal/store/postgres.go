package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/haasonsaas/weave/pkg/models"
)

// PostgresStore implements Store on PostgreSQL via lib/pq. Search uses a
// tsvector side table maintained in the same transaction as each message
// write. Schema management goes through the embedded migrations
// (migrate.go); NewPostgresStore applies pending migrations so construction
// is idempotent.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing database handle and ensures the
// schema. The caller owns opening the connection so tests can inject mocks
// via NewPostgresStoreFromDB.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	migrator, err := NewMigrator(db, nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err := migrator.Up(ctx, 0); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps a handle without touching the schema. Used
// by tests and by callers that run migrations separately.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) UpsertChat(ctx context.Context, chat *models.Chat) error {
	if chat == nil || chat.ID == "" {
		return fmt.Errorf("%w: chat id is required", ErrValidation)
	}
	return s.withTx(ctx, "upsert chat", func(tx *sql.Tx) error {
		return upsertChatTx(ctx, tx, chat, postgresDialect)
	})
}

func (s *PostgresStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, metadata, created_at, updated_at FROM chats WHERE id = $1`, id)
	return scanChat(row)
}

func (s *PostgresStore) DeleteChat(ctx context.Context, id string) error {
	return s.withTx(ctx, "delete chat", func(tx *sql.Tx) error {
		// Branch heads and parent pointers reference messages without a
		// cascade; clear them so the chat cascade can run.
		if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE chat_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM branches WHERE chat_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET parent_id = NULL WHERE chat_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = $1`, id); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, id)
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

func (s *PostgresStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.ID == "" || msg.ChatID == "" {
		return fmt.Errorf("%w: message id and chat id are required", ErrValidation)
	}
	return s.withTx(ctx, "add message", func(tx *sql.Tx) error {
		return addMessageTx(ctx, tx, msg, postgresDialect)
	})
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, parent_id, name, type, data, created_at FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

func (s *PostgresStore) ListMessages(ctx context.Context, chatID, branch string) ([]*models.Message, error) {
	head, err := s.branchHead(ctx, chatID, branch)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return []*models.Message{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE chain AS (
			SELECT id, chat_id, parent_id, name, type, data, created_at, 0 AS depth
			FROM messages WHERE id = $1
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

func (s *PostgresStore) ChatMessages(ctx context.Context, chatID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, parent_id, name, type, data, created_at
		FROM messages WHERE chat_id = $1 ORDER BY created_at ASC, id ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("chat messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *PostgresStore) SearchMessages(ctx context.Context, chatID, query string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.chat_id, m.parent_id, m.name, m.type, m.data, m.created_at
		FROM message_search ms
		INNER JOIN messages m ON m.id = ms.message_id
		WHERE ms.chat_id = $1 AND ms.tokens @@ plainto_tsquery('english', $2)
		ORDER BY m.created_at ASC, m.id ASC
	`, chatID, query)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *PostgresStore) CreateBranch(ctx context.Context, branch *models.Branch) error {
	if branch == nil || branch.ChatID == "" || branch.Name == "" {
		return fmt.Errorf("%w: branch chat id and name are required", ErrValidation)
	}
	return s.withTx(ctx, "create branch", func(tx *sql.Tx) error {
		return createBranchTx(ctx, tx, branch, postgresDialect)
	})
}

func (s *PostgresStore) SetActiveBranch(ctx context.Context, chatID, name string) error {
	return s.withTx(ctx, "set active branch", func(tx *sql.Tx) error {
		return setActiveBranchTx(ctx, tx, chatID, name, postgresDialect)
	})
}

func (s *PostgresStore) ListBranches(ctx context.Context, chatID string) ([]*models.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, name, head_message_id, is_active, created_at
		FROM branches WHERE chat_id = $1 ORDER BY created_at ASC, name ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()
	return scanBranches(rows)
}

func (s *PostgresStore) CreateCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	if cp == nil || cp.ChatID == "" || cp.Name == "" || cp.MessageID == "" {
		return fmt.Errorf("%w: checkpoint chat id, name and message id are required", ErrValidation)
	}
	return s.withTx(ctx, "create checkpoint", func(tx *sql.Tx) error {
		return createCheckpointTx(ctx, tx, cp, postgresDialect)
	})
}

func (s *PostgresStore) RestoreCheckpoint(ctx context.Context, chatID, name, branch string) error {
	return s.withTx(ctx, "restore checkpoint", func(tx *sql.Tx) error {
		return restoreCheckpointTx(ctx, tx, chatID, name, branch, postgresDialect)
	})
}

func (s *PostgresStore) ListCheckpoints(ctx context.Context, chatID string) ([]*models.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, name, message_id, created_at
		FROM checkpoints WHERE chat_id = $1 ORDER BY created_at ASC, name ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()
	return scanCheckpoints(rows)
}

func (s *PostgresStore) Append(ctx context.Context, chat *models.Chat, branch string, msgs []*models.Message) error {
	if chat == nil || chat.ID == "" {
		return fmt.Errorf("%w: chat id is required", ErrValidation)
	}
	return s.withTx(ctx, "append", func(tx *sql.Tx) error {
		return appendTx(ctx, tx, chat, branch, msgs, postgresDialect)
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
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
		return mapPostgresErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return &TransactionError{Op: op, Err: err}
	}
	return nil
}

// mapPostgresErr converts pq errors into the store taxonomy.
func mapPostgresErr(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrForeignKey),
		errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrValidation):
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", ErrForeignKey, op)
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrAlreadyExists, op)
		}
	}
	return &TransactionError{Op: op, Err: err}
}

func (s *PostgresStore) branchHead(ctx context.Context, chatID, branch string) (*string, error) {
	var (
		head sql.NullString
		err  error
	)
	if branch != "" {
		err = s.db.QueryRowContext(ctx,
			`SELECT head_message_id FROM branches WHERE chat_id = $1 AND name = $2`, chatID, branch).Scan(&head)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT head_message_id FROM branches WHERE chat_id = $1 AND is_active = true`, chatID).Scan(&head)
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
