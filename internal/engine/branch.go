package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/weave/internal/store"
	"github.com/haasonsaas/weave/pkg/models"
)

// Branch forks a new branch from the current branch's head and switches to
// it. Forking is O(1): the new branch is a head pointer sharing the
// ancestor chain; no messages are copied. Subsequent Save calls extend the
// new branch without touching the source branch's history.
func (e *Engine) Branch(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: branch name is required", store.ErrValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	head, err := e.head(ctx)
	if err != nil {
		return err
	}

	branch := models.NewBranch(e.chatID, name)
	branch.HeadMessageID = head
	branch.IsActive = true
	if err := e.store.CreateBranch(ctx, branch); err != nil {
		return err
	}

	e.logger.Info("forked branch", "from", e.branch, "to", name)
	e.branch = name
	return nil
}

// SwitchBranch makes an existing branch the active one. Only the target of
// subsequent Save and Resolve calls changes; no history is modified.
func (e *Engine) SwitchBranch(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: branch name is required", store.ErrValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.SetActiveBranch(ctx, e.chatID, name); err != nil {
		return err
	}
	e.branch = name
	return nil
}

// CurrentBranch reports the branch Save currently advances.
func (e *Engine) CurrentBranch() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.branch
}

// Branches lists the chat's branches. A never-saved chat has none.
func (e *Engine) Branches(ctx context.Context) ([]*models.Branch, error) {
	return e.store.ListBranches(ctx, e.chatID)
}

// Checkpoint records an immutable named marker at the current branch head.
// The marker survives later saves and branch switches unchanged.
func (e *Engine) Checkpoint(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: checkpoint name is required", store.ErrValidation)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	head, err := e.head(ctx)
	if err != nil {
		return err
	}
	if head == nil {
		return fmt.Errorf("%w: branch %q has no messages to checkpoint", store.ErrNotFound, e.branch)
	}

	return e.store.CreateCheckpoint(ctx, &models.Checkpoint{
		ChatID:    e.chatID,
		Name:      name,
		MessageID: *head,
	})
}

// Restore moves the current branch's head back to the named checkpoint.
// Messages recorded after the checkpoint stay in the forest; they are
// simply no longer reachable from this branch's head.
func (e *Engine) Restore(ctx context.Context, name string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.store.RestoreCheckpoint(ctx, e.chatID, name, e.branch); err != nil {
		return err
	}
	e.logger.Info("restored checkpoint", "checkpoint", name, "branch", e.branch)
	return nil
}

// Checkpoints lists the chat's checkpoints.
func (e *Engine) Checkpoints(ctx context.Context) ([]*models.Checkpoint, error) {
	return e.store.ListCheckpoints(ctx, e.chatID)
}

// head resolves the current branch's head message ID, ensuring the chat
// and its main branch exist first so branching works before the first
// save. Callers hold e.mu.
func (e *Engine) head(ctx context.Context) (*string, error) {
	branches, err := e.store.ListBranches(ctx, e.chatID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	for _, b := range branches {
		if b.Name == e.branch {
			return b.HeadMessageID, nil
		}
	}

	// First branch operation on a fresh chat: materialize the chat row and
	// the main branch so the fork has something to hang off.
	if err := e.store.UpsertChat(ctx, &models.Chat{ID: e.chatID, UserID: e.userID, Title: e.title}); err != nil {
		return nil, err
	}
	if len(branches) == 0 {
		if err := e.store.CreateBranch(ctx, models.NewMainBranch(e.chatID)); err != nil {
			return nil, err
		}
		if e.branch == models.MainBranch {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("%w: branch %q", store.ErrNotFound, e.branch)
}
