package models

import (
	"time"
)

// MainBranch is the branch every chat starts on.
const MainBranch = "main"

// Branch is a named pointer to a head message within a chat's message
// forest. Branches are views over the shared forest: forking stores a new
// head pointer, never a message copy. Names are unique per chat and exactly
// one branch per chat is active at any time.
type Branch struct {
	ID     string `json:"id"`
	ChatID string `json:"chat_id"`
	Name   string `json:"name"`

	// HeadMessageID is the leaf this branch points at (nil for an empty
	// branch). Subsequent saves append children under the head and advance
	// it.
	HeadMessageID *string `json:"head_message_id,omitempty"`

	// IsActive marks the branch whose head subsequent saves advance.
	IsActive bool `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
}

// Checkpoint is an immutable named pointer to a specific message, used for
// later restoration without altering history. Names are unique per chat.
type Checkpoint struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Name      string    `json:"name"`
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewBranch creates a branch with default values.
func NewBranch(chatID, name string) *Branch {
	return &Branch{
		ChatID:    chatID,
		Name:      name,
		CreatedAt: time.Now(),
	}
}

// NewMainBranch creates the active "main" branch for a chat.
func NewMainBranch(chatID string) *Branch {
	branch := NewBranch(chatID, MainBranch)
	branch.IsActive = true
	return branch
}

// Clone returns a deep copy of the branch.
func (b *Branch) Clone() *Branch {
	if b == nil {
		return nil
	}
	clone := *b
	if b.HeadMessageID != nil {
		head := *b.HeadMessageID
		clone.HeadMessageID = &head
	}
	return &clone
}

// Clone returns a copy of the checkpoint.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
