package models

import (
	"encoding/json"
	"time"
)

// Chat represents a single conversation. One row per conversation; it is
// created implicitly on the first write under its ID.
type Chat struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Title     string         `json:"title,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Message is one node in a chat's message forest. Messages with a nil
// ParentID are roots; every other message points at exactly one prior
// message in the same chat.
type Message struct {
	ID     string `json:"id"`
	ChatID string `json:"chat_id"`

	// ParentID is the ID of the preceding message (nil for roots).
	ParentID *string `json:"parent_id,omitempty"`

	// Name identifies the fragment this message was persisted from.
	Name string `json:"name"`

	// Type is the fragment kind ("user", "assistant", ...).
	Type string `json:"type,omitempty"`

	// Data is the opaque JSON payload.
	Data json.RawMessage `json:"data,omitempty"`

	// CreatedAt is immutable once set: upserting an existing ID updates
	// Name, Type, Data and ParentID but never the creation time.
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage creates a message node for a chat.
func NewMessage(chatID, name, typ string, data json.RawMessage) *Message {
	return &Message{
		ChatID:    chatID,
		Name:      name,
		Type:      typ,
		Data:      data,
		CreatedAt: time.Now(),
	}
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := *m
	if m.ParentID != nil {
		parent := *m.ParentID
		clone.ParentID = &parent
	}
	if m.Data != nil {
		clone.Data = append(json.RawMessage(nil), m.Data...)
	}
	return &clone
}

// Clone returns a deep copy of the chat.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Metadata != nil {
		clone.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
