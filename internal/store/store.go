// Package store defines the persistence contract for chats, messages,
// branches and checkpoints, with interchangeable backends. Every backend
// must honor the same upsert, ordering and atomicity semantics; the shared
// conformance suite in store_test.go holds them to it.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/weave/pkg/models"
)

// Common store errors.
var (
	// ErrNotFound is returned when a chat, message, branch or checkpoint
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForeignKey is returned when a write references a chat, parent
	// message or branch that does not exist.
	ErrForeignKey = errors.New("foreign key violation")

	// ErrAlreadyExists is returned when a branch or checkpoint name is
	// already taken within its chat.
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation is returned for malformed entities.
	ErrValidation = errors.New("validation failed")
)

// TransactionError wraps a backend write failure. The enclosing transaction
// has been rolled back; nothing was partially applied.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("store transaction %s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// Store is the backend-agnostic persistence contract. All multi-row
// mutations execute inside one atomic transaction: either all writes land
// or none do, and no reader observes a partial state. Writes touching the
// same chat serialize through backend transactions, not in-process locks,
// because multiple engine instances may target one backend concurrently.
type Store interface {
	// Chat operations.

	// UpsertChat creates or updates chat metadata. Idempotent; bumps
	// UpdatedAt on update and never touches CreatedAt.
	UpsertChat(ctx context.Context, chat *models.Chat) error

	// GetChat returns the chat or ErrNotFound.
	GetChat(ctx context.Context, id string) (*models.Chat, error)

	// DeleteChat removes the chat and cascades through its messages,
	// branches, checkpoints and search index entries.
	DeleteChat(ctx context.Context, id string) error

	// Message operations.

	// AddMessage upserts a message by ID. Upserting an existing ID updates
	// Name, Type, Data and ParentID but never CreatedAt. The search index
	// entry for the message is rewritten in the same transaction. Returns
	// ErrForeignKey when the chat or parent does not exist, or the parent
	// belongs to another chat.
	AddMessage(ctx context.Context, msg *models.Message) error

	// GetMessage returns the message or ErrNotFound.
	GetMessage(ctx context.Context, id string) (*models.Message, error)

	// ListMessages returns the ancestor chain from the named branch's head
	// back to a root, oldest first. An empty branch name selects the
	// active branch. An empty branch (nil head) yields an empty slice.
	ListMessages(ctx context.Context, chatID, branch string) ([]*models.Message, error)

	// ChatMessages returns every message in the chat, oldest first. Used
	// for graph views.
	ChatMessages(ctx context.Context, chatID string) ([]*models.Message, error)

	// SearchMessages full-text matches against currently indexed content.
	// Results reflect the most recent upsert synchronously: a search right
	// after an upsert that removed a term must not return the stale match.
	SearchMessages(ctx context.Context, chatID, query string) ([]*models.Message, error)

	// Branch operations.

	// CreateBranch creates a named branch. Returns ErrAlreadyExists when
	// the (chat, name) pair is taken and ErrForeignKey when the head
	// references a message outside the chat.
	CreateBranch(ctx context.Context, branch *models.Branch) error

	// SetActiveBranch makes the named branch the chat's single active
	// branch. Returns ErrNotFound for an unknown branch.
	SetActiveBranch(ctx context.Context, chatID, name string) error

	// ListBranches returns the chat's branches, exactly one active.
	ListBranches(ctx context.Context, chatID string) ([]*models.Branch, error)

	// Checkpoint operations.

	// CreateCheckpoint records an immutable named pointer into history.
	// Never mutates the message graph.
	CreateCheckpoint(ctx context.Context, cp *models.Checkpoint) error

	// RestoreCheckpoint moves the named branch's head to the checkpoint's
	// message. An empty branch name targets the active branch. Messages
	// beyond the checkpoint are never deleted. Returns ErrNotFound when
	// the checkpoint does not exist.
	RestoreCheckpoint(ctx context.Context, chatID, name, branch string) error

	// ListCheckpoints returns the chat's checkpoints.
	ListCheckpoints(ctx context.Context, chatID string) ([]*models.Checkpoint, error)

	// Append atomically persists a run of messages onto the named branch:
	// upserts the chat, ensures the branch exists (creating an active
	// "main" when the chat has none), chains the messages parent to child
	// from the branch's current head, rewrites their search index entries
	// and advances the head to the last message. One transaction; on error
	// nothing is applied.
	Append(ctx context.Context, chat *models.Chat, branch string, msgs []*models.Message) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}
