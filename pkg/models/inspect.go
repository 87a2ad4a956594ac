package models

import "time"

// Estimate is the token/cost breakdown for a composed context. All fields
// are plain data so the whole structure survives JSON round-trips.
type Estimate struct {
	// Tokens is the total estimated token count across fragments.
	Tokens int `json:"tokens"`

	// Cost is the estimated input cost in USD.
	Cost float64 `json:"cost"`

	// Model is the resolved model ID (aliases resolved).
	Model string `json:"model"`

	// Provider is the model's provider.
	Provider string `json:"provider"`

	// Fragments holds per-fragment estimates in render order.
	Fragments []FragmentEstimate `json:"fragments"`
}

// FragmentEstimate is the per-fragment slice of an Estimate.
type FragmentEstimate struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Tokens int    `json:"tokens"`
	Chars  int    `json:"chars"`
}

// FragmentSets splits the composed context by provenance.
type FragmentSets struct {
	// Context holds standing fragments set on the engine but not yet
	// conversation turns.
	Context []Fragment `json:"context"`

	// Pending holds buffered turns not yet saved.
	Pending []Fragment `json:"pending"`

	// Persisted holds turns read back from the store for the active branch.
	Persisted []Fragment `json:"persisted"`
}

// GraphNode is a message node in the graph view, with a content preview
// instead of the full payload.
type GraphNode struct {
	ID       string  `json:"id"`
	ParentID *string `json:"parent_id,omitempty"`
	Name     string  `json:"name"`
	Type     string  `json:"type,omitempty"`
	Content  string  `json:"content"`
}

// GraphBranch is a branch row in the graph view.
type GraphBranch struct {
	Name          string  `json:"name"`
	HeadMessageID *string `json:"head_message_id,omitempty"`
	IsActive      bool    `json:"is_active"`
}

// Graph exposes the chat's message forest and branch heads for debugging.
type Graph struct {
	ChatID   string        `json:"chat_id"`
	Nodes    []GraphNode   `json:"nodes"`
	Branches []GraphBranch `json:"branches"`
}

// InspectMeta carries the identifying metadata of an inspection.
type InspectMeta struct {
	ChatID    string    `json:"chat_id"`
	Branch    string    `json:"branch"`
	Timestamp time.Time `json:"timestamp"`
}

// InspectResult is the full diagnostic view of a composed context: the
// rendered string, the fragment breakdown, a token/cost estimate and the
// message graph. It contains no handles and round-trips through
// serialize/deserialize unchanged.
type InspectResult struct {
	Rendered  string       `json:"rendered"`
	Estimate  *Estimate    `json:"estimate,omitempty"`
	Fragments FragmentSets `json:"fragments"`
	Graph     Graph        `json:"graph"`
	Meta      InspectMeta  `json:"meta"`
}
