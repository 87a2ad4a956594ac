package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/weave/pkg/models"
)

// dialect abstracts over the differences between the SQL backends: the
// placeholder style and how the search index entry for a message is
// rewritten.
type dialect struct {
	// rebind converts ?-style placeholders to the backend's style.
	rebind func(query string) string

	// writeIndex rewrites the search index entry for a message inside the
	// caller's transaction.
	writeIndex func(ctx context.Context, tx *sql.Tx, msg *models.Message, content string) error
}

var sqliteDialect = dialect{
	rebind:     func(query string) string { return query },
	writeIndex: sqliteWriteIndex,
}

var postgresDialect = dialect{
	rebind:     rebindPositional,
	writeIndex: postgresWriteIndex,
}

// rebindPositional converts ? placeholders to $1..$n.
func rebindPositional(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqliteWriteIndex rewrites a message's FTS5 entry. When the extracted
// content is byte-identical to the indexed content the rewrite is skipped;
// an optimization only, freshness is unaffected.
func sqliteWriteIndex(ctx context.Context, tx *sql.Tx, msg *models.Message, content string) error {
	var existing string
	err := tx.QueryRowContext(ctx,
		`SELECT content FROM messages_fts WHERE message_id = ?`, msg.ID).Scan(&existing)
	switch {
	case err == nil && existing == content:
		return nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages_fts WHERE message_id = ?`, msg.ID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages_fts (message_id, chat_id, content) VALUES (?, ?, ?)`,
		msg.ID, msg.ChatID, content)
	return err
}

// postgresWriteIndex upserts a message's tsvector row.
func postgresWriteIndex(ctx context.Context, tx *sql.Tx, msg *models.Message, content string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO message_search (message_id, chat_id, content, tokens)
		VALUES ($1, $2, $3, to_tsvector('english', $3))
		ON CONFLICT (message_id) DO UPDATE
		SET chat_id = EXCLUDED.chat_id, content = EXCLUDED.content, tokens = EXCLUDED.tokens
	`, msg.ID, msg.ChatID, content)
	return err
}

func upsertChatTx(ctx context.Context, tx *sql.Tx, chat *models.Chat, d dialect) error {
	metadata, err := json.Marshal(chat.Metadata)
	if err != nil {
		return fmt.Errorf("marshal chat metadata: %w", err)
	}
	now := time.Now()
	created := chat.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err = tx.ExecContext(ctx, d.rebind(`
		INSERT INTO chats (id, user_id, title, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET user_id = excluded.user_id, title = excluded.title,
		    metadata = excluded.metadata, updated_at = excluded.updated_at
	`), chat.ID, chat.UserID, chat.Title, string(metadata), created, now)
	if err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}
	return nil
}

func addMessageTx(ctx context.Context, tx *sql.Tx, msg *models.Message, d dialect) error {
	// The FK only guarantees the parent exists; the forest invariant also
	// requires it to live in the same chat.
	if msg.ParentID != nil {
		var parentChat string
		err := tx.QueryRowContext(ctx,
			d.rebind(`SELECT chat_id FROM messages WHERE id = ?`), *msg.ParentID).Scan(&parentChat)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: parent %s", ErrForeignKey, *msg.ParentID)
		}
		if err != nil {
			return fmt.Errorf("check parent: %w", err)
		}
		if parentChat != msg.ChatID {
			return fmt.Errorf("%w: parent %s belongs to chat %s", ErrForeignKey, *msg.ParentID, parentChat)
		}
	}

	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	// created_at is deliberately absent from the update set: creation time
	// is immutable once written.
	_, err := tx.ExecContext(ctx, d.rebind(`
		INSERT INTO messages (id, chat_id, parent_id, name, type, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET parent_id = excluded.parent_id, name = excluded.name,
		    type = excluded.type, data = excluded.data
	`), msg.ID, msg.ChatID, msg.ParentID, msg.Name, msg.Type, string(msg.Data), created)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	if err := d.writeIndex(ctx, tx, msg, searchText(msg)); err != nil {
		return fmt.Errorf("rewrite search index: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		d.rebind(`UPDATE chats SET updated_at = ? WHERE id = ?`), time.Now(), msg.ChatID)
	if err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return nil
}

func createBranchTx(ctx context.Context, tx *sql.Tx, branch *models.Branch, d dialect) error {
	if branch.HeadMessageID != nil {
		var headChat string
		err := tx.QueryRowContext(ctx,
			d.rebind(`SELECT chat_id FROM messages WHERE id = ?`), *branch.HeadMessageID).Scan(&headChat)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && headChat != branch.ChatID) {
			return fmt.Errorf("%w: head message %s", ErrForeignKey, *branch.HeadMessageID)
		}
		if err != nil {
			return fmt.Errorf("check head: %w", err)
		}
	}

	id := branch.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := branch.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if branch.IsActive {
		if _, err := tx.ExecContext(ctx,
			d.rebind(`UPDATE branches SET is_active = ? WHERE chat_id = ?`), false, branch.ChatID); err != nil {
			return fmt.Errorf("deactivate branches: %w", err)
		}
	}
	_, err := tx.ExecContext(ctx, d.rebind(`
		INSERT INTO branches (id, chat_id, name, head_message_id, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), id, branch.ChatID, branch.Name, branch.HeadMessageID, branch.IsActive, created)
	if err != nil {
		return fmt.Errorf("create branch: %w", err)
	}
	branch.ID = id
	branch.CreatedAt = created
	return nil
}

func setActiveBranchTx(ctx context.Context, tx *sql.Tx, chatID, name string, d dialect) error {
	result, err := tx.ExecContext(ctx,
		d.rebind(`UPDATE branches SET is_active = ? WHERE chat_id = ? AND name = ?`), true, chatID, name)
	if err != nil {
		return fmt.Errorf("activate branch: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("activate branch: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: branch %s", ErrNotFound, name)
	}
	_, err = tx.ExecContext(ctx,
		d.rebind(`UPDATE branches SET is_active = ? WHERE chat_id = ? AND name != ?`), false, chatID, name)
	if err != nil {
		return fmt.Errorf("deactivate branches: %w", err)
	}
	return nil
}

func createCheckpointTx(ctx context.Context, tx *sql.Tx, cp *models.Checkpoint, d dialect) error {
	var msgChat string
	err := tx.QueryRowContext(ctx,
		d.rebind(`SELECT chat_id FROM messages WHERE id = ?`), cp.MessageID).Scan(&msgChat)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && msgChat != cp.ChatID) {
		return fmt.Errorf("%w: message %s", ErrForeignKey, cp.MessageID)
	}
	if err != nil {
		return fmt.Errorf("check message: %w", err)
	}

	id := cp.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := cp.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = tx.ExecContext(ctx, d.rebind(`
		INSERT INTO checkpoints (id, chat_id, name, message_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), id, cp.ChatID, cp.Name, cp.MessageID, created)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	cp.ID = id
	cp.CreatedAt = created
	return nil
}

func restoreCheckpointTx(ctx context.Context, tx *sql.Tx, chatID, name, branch string, d dialect) error {
	var messageID string
	err := tx.QueryRowContext(ctx,
		d.rebind(`SELECT message_id FROM checkpoints WHERE chat_id = ? AND name = ?`), chatID, name).Scan(&messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: checkpoint %s", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("get checkpoint: %w", err)
	}

	var result sql.Result
	if branch != "" {
		result, err = tx.ExecContext(ctx,
			d.rebind(`UPDATE branches SET head_message_id = ? WHERE chat_id = ? AND name = ?`),
			messageID, chatID, branch)
	} else {
		result, err = tx.ExecContext(ctx,
			d.rebind(`UPDATE branches SET head_message_id = ? WHERE chat_id = ? AND is_active = ?`),
			messageID, chatID, true)
	}
	if err != nil {
		return fmt.Errorf("move branch head: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("move branch head: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: branch for chat %s", ErrNotFound, chatID)
	}
	return nil
}

func appendTx(ctx context.Context, tx *sql.Tx, chat *models.Chat, branch string, msgs []*models.Message, d dialect) error {
	if err := upsertChatTx(ctx, tx, chat, d); err != nil {
		return err
	}
	if branch == "" {
		branch = models.MainBranch
	}

	var (
		branchID string
		head     sql.NullString
	)
	err := tx.QueryRowContext(ctx,
		d.rebind(`SELECT id, head_message_id FROM branches WHERE chat_id = ? AND name = ?`),
		chat.ID, branch).Scan(&branchID, &head)
	if errors.Is(err, sql.ErrNoRows) {
		var existing int
		if err := tx.QueryRowContext(ctx,
			d.rebind(`SELECT COUNT(*) FROM branches WHERE chat_id = ?`), chat.ID).Scan(&existing); err != nil {
			return fmt.Errorf("count branches: %w", err)
		}
		nb := models.NewBranch(chat.ID, branch)
		nb.IsActive = existing == 0
		if err := createBranchTx(ctx, tx, nb, d); err != nil {
			return err
		}
		branchID = nb.ID
	} else if err != nil {
		return fmt.Errorf("get branch: %w", err)
	}

	parent := (*string)(nil)
	if head.Valid {
		value := head.String
		parent = &value
	}
	for _, msg := range msgs {
		clone := msg.Clone()
		if clone.ID == "" {
			clone.ID = uuid.NewString()
		}
		if clone.ParentID == nil {
			clone.ParentID = parent
		}
		clone.ChatID = chat.ID
		if err := addMessageTx(ctx, tx, clone, d); err != nil {
			return err
		}
		// Reflect generated IDs back so the caller can track heads.
		msg.ID = clone.ID
		msg.ParentID = clone.ParentID
		msg.ChatID = clone.ChatID
		id := clone.ID
		parent = &id
	}

	var newHead any
	if parent != nil {
		newHead = *parent
	}
	if _, err := tx.ExecContext(ctx,
		d.rebind(`UPDATE branches SET head_message_id = ? WHERE id = ?`), newHead, branchID); err != nil {
		return fmt.Errorf("advance branch head: %w", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*models.Chat, error) {
	chat := &models.Chat{}
	var (
		title    sql.NullString
		metadata []byte
	)
	err := row.Scan(&chat.ID, &chat.UserID, &title, &metadata, &chat.CreatedAt, &chat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat: %w", err)
	}
	chat.Title = title.String
	if len(metadata) > 0 && string(metadata) != "null" {
		if err := json.Unmarshal(metadata, &chat.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal chat metadata: %w", err)
		}
	}
	return chat, nil
}

func scanMessageRow(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var (
		parent sql.NullString
		typ    sql.NullString
		data   []byte
	)
	err := row.Scan(&msg.ID, &msg.ChatID, &parent, &msg.Name, &typ, &data, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		value := parent.String
		msg.ParentID = &value
	}
	msg.Type = typ.String
	if len(data) > 0 {
		msg.Data = json.RawMessage(data)
	}
	return msg, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	msg, err := scanMessageRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return msg, nil
}

func scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	out := []*models.Message{}
	for rows.Next() {
		msg, err := scanMessageRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func scanBranches(rows *sql.Rows) ([]*models.Branch, error) {
	out := []*models.Branch{}
	for rows.Next() {
		b := &models.Branch{}
		var head sql.NullString
		if err := rows.Scan(&b.ID, &b.ChatID, &b.Name, &head, &b.IsActive, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		if head.Valid {
			value := head.String
			b.HeadMessageID = &value
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanCheckpoints(rows *sql.Rows) ([]*models.Checkpoint, error) {
	out := []*models.Checkpoint{}
	for rows.Next() {
		cp := &models.Checkpoint{}
		if err := rows.Scan(&cp.ID, &cp.ChatID, &cp.Name, &cp.MessageID, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}
