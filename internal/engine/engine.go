// Package engine implements the stateful context engine: an in-memory
// pending fragment buffer over a Store, with branching, checkpoints,
// rendering composition and introspection.
//
// A session moves through three states that coexist across calls: empty,
// pending (fragments buffered via Set) and persisted (turns committed via
// Save). Resolve and Inspect compose all three into one ordered fragment
// list.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/weave/internal/estimate"
	"github.com/haasonsaas/weave/internal/observability"
	"github.com/haasonsaas/weave/internal/render"
	"github.com/haasonsaas/weave/internal/store"
	"github.com/haasonsaas/weave/pkg/models"
)

// previewLen caps graph node content previews.
const previewLen = 80

// Options configures an engine instance.
type Options struct {
	// ChatID scopes the engine to one conversation. Required.
	ChatID string

	// UserID is the chat owner. Required.
	UserID string

	// Branch is the branch Save advances. Default: "main".
	Branch string

	// Title is applied to the chat row on save.
	Title string

	// Backend labels metrics ("memory", "sqlite", "postgres").
	Backend string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional; nil disables instrumentation.
	Metrics *observability.Metrics
}

// InspectOptions configures Inspect.
type InspectOptions struct {
	// ModelID selects the model for the token/cost estimate. Empty skips
	// estimation; an unregistered ID fails with estimate.ErrModelNotFound.
	ModelID string

	// Renderer formats the composed fragments. Default: XML.
	Renderer render.Renderer
}

// Engine combines the pending buffer with a Store. Safe for concurrent use;
// reads never block other readers, and writes to the same chat serialize
// through the store's transactions rather than this process.
type Engine struct {
	store     store.Store
	estimator *estimate.Estimator

	mu       sync.RWMutex
	chatID   string
	userID   string
	title    string
	branch   string
	standing []models.Fragment // role/hint/reminder fragments, never persisted as turns
	pending  []models.Fragment // user/assistant turns awaiting Save

	backend string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates an engine over the given store and estimator.
func New(s store.Store, est *estimate.Estimator, opts Options) (*Engine, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: store is required", store.ErrValidation)
	}
	if est == nil {
		return nil, fmt.Errorf("%w: estimator is required", store.ErrValidation)
	}
	if opts.ChatID == "" || opts.UserID == "" {
		return nil, fmt.Errorf("%w: chat id and user id are required", store.ErrValidation)
	}
	if opts.Branch == "" {
		opts.Branch = models.MainBranch
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Backend == "" {
		opts.Backend = "memory"
	}
	return &Engine{
		store:     s,
		estimator: est,
		chatID:    opts.ChatID,
		userID:    opts.UserID,
		title:     opts.Title,
		branch:    opts.Branch,
		backend:   opts.Backend,
		logger:    opts.Logger.With("chat_id", opts.ChatID),
		metrics:   opts.Metrics,
	}, nil
}

// Set appends fragments to the in-memory buffer. Insertion order is
// preserved and becomes render order. Standing fragments (role, hint,
// reminder) stay in the buffer across saves; turns (user, assistant) are
// persisted by the next Save. No I/O occurs.
func (e *Engine) Set(fragments ...models.Fragment) error {
	for _, frag := range fragments {
		switch frag.Kind {
		case models.FragmentRole, models.FragmentHint, models.FragmentReminder,
			models.FragmentUser, models.FragmentAssistant:
		default:
			return fmt.Errorf("%w: unknown fragment kind %q", store.ErrValidation, frag.Kind)
		}
		if frag.Name == "" {
			return fmt.Errorf("%w: fragment name is required", store.ErrValidation)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, frag := range fragments {
		if frag.IsTurn() {
			e.pending = append(e.pending, frag)
		} else {
			e.standing = append(e.standing, frag)
		}
	}
	return nil
}

// Save atomically persists every pending turn, advancing the branch head
// to the last persisted message. On failure the pending buffer is left
// intact so a retry is non-destructive, and no partial head update is
// visible. Once the store transaction begins it runs to completion or
// rolls back regardless of caller cancellation.
func (e *Engine) Save(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) == 0 {
		return nil
	}

	msgs := make([]*models.Message, 0, len(e.pending))
	for _, frag := range e.pending {
		msgs = append(msgs, models.MessageFromFragment(e.chatID, frag))
	}
	chat := &models.Chat{ID: e.chatID, UserID: e.userID, Title: e.title}

	start := time.Now()
	err := e.store.Append(ctx, chat, e.branch, msgs)
	if e.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		e.metrics.Saves.WithLabelValues(e.backend, status).Inc()
		e.metrics.SaveDuration.WithLabelValues(e.backend).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.StoreErrors.WithLabelValues("append", errKind(err)).Inc()
		}
		e.logger.Error("save failed; pending buffer retained",
			"branch", e.branch, "pending", len(e.pending), "error", err)
		return err
	}

	e.logger.Debug("saved pending turns", "branch", e.branch, "count", len(msgs))
	e.pending = nil
	return nil
}

// Resolve composes the ordered fragment sequence (standing context, then
// persisted turns for the branch, then pending turns) and renders it.
// Deterministic: the same store state, buffer and renderer always produce
// the same output. Pure read; safe to abandon.
func (e *Engine) Resolve(ctx context.Context, renderer render.Renderer) (string, error) {
	if renderer == nil {
		renderer = render.NewXML()
	}
	sets, err := e.compose(ctx)
	if err != nil {
		return "", err
	}
	if e.metrics != nil {
		e.metrics.Resolves.WithLabelValues(renderer.Name(), "resolve").Inc()
	}
	return renderer.Render(flatten(sets))
}

// Inspect is a diagnostic superset of Resolve: it additionally returns the
// fragment breakdown by provenance, a token/cost estimate, and a graph view
// of the chat's forest and branches. The result is plain serializable data.
func (e *Engine) Inspect(ctx context.Context, opts InspectOptions) (*models.InspectResult, error) {
	renderer := opts.Renderer
	if renderer == nil {
		renderer = render.NewXML()
	}

	sets, err := e.compose(ctx)
	if err != nil {
		return nil, err
	}
	ordered := flatten(sets)

	rendered, err := renderer.Render(ordered)
	if err != nil {
		return nil, err
	}

	var est *models.Estimate
	if opts.ModelID != "" {
		est, err = e.estimator.Fragments(opts.ModelID, ordered)
		if err != nil {
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.TokensEstimated.WithLabelValues(est.Model).Observe(float64(est.Tokens))
		}
	}

	graph, err := e.graph(ctx)
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.Resolves.WithLabelValues(renderer.Name(), "inspect").Inc()
	}

	e.mu.RLock()
	branch := e.branch
	e.mu.RUnlock()

	return &models.InspectResult{
		Rendered:  rendered,
		Estimate:  est,
		Fragments: sets,
		Graph:     graph,
		Meta: models.InspectMeta{
			ChatID:    e.chatID,
			Branch:    branch,
			Timestamp: time.Now().UTC(),
		},
	}, nil
}

// compose gathers the three fragment sets. A chat that has never been
// saved has no branch row yet; that reads as empty persisted history, not
// an error.
func (e *Engine) compose(ctx context.Context) (models.FragmentSets, error) {
	e.mu.RLock()
	branch := e.branch
	standing := append([]models.Fragment(nil), e.standing...)
	pending := append([]models.Fragment(nil), e.pending...)
	e.mu.RUnlock()

	sets := models.FragmentSets{
		Context:   standing,
		Pending:   pending,
		Persisted: []models.Fragment{},
	}
	if sets.Context == nil {
		sets.Context = []models.Fragment{}
	}
	if sets.Pending == nil {
		sets.Pending = []models.Fragment{}
	}

	msgs, err := e.store.ListMessages(ctx, e.chatID, branch)
	if errors.Is(err, store.ErrNotFound) {
		return sets, nil
	}
	if err != nil {
		return sets, err
	}
	for _, msg := range msgs {
		sets.Persisted = append(sets.Persisted, models.FragmentFromMessage(msg))
	}
	return sets, nil
}

func flatten(sets models.FragmentSets) []models.Fragment {
	ordered := make([]models.Fragment, 0, len(sets.Context)+len(sets.Persisted)+len(sets.Pending))
	ordered = append(ordered, sets.Context...)
	ordered = append(ordered, sets.Persisted...)
	ordered = append(ordered, sets.Pending...)
	return ordered
}

// graph builds the forest and branch view for the chat.
func (e *Engine) graph(ctx context.Context) (models.Graph, error) {
	graph := models.Graph{
		ChatID:   e.chatID,
		Nodes:    []models.GraphNode{},
		Branches: []models.GraphBranch{},
	}

	msgs, err := e.store.ChatMessages(ctx, e.chatID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return graph, err
	}
	for _, msg := range msgs {
		graph.Nodes = append(graph.Nodes, models.GraphNode{
			ID:       msg.ID,
			ParentID: msg.ParentID,
			Name:     msg.Name,
			Type:     msg.Type,
			Content:  preview(models.FragmentFromMessage(msg).Text()),
		})
	}

	branches, err := e.store.ListBranches(ctx, e.chatID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return graph, err
	}
	for _, b := range branches {
		graph.Branches = append(graph.Branches, models.GraphBranch{
			Name:          b.Name,
			HeadMessageID: b.HeadMessageID,
			IsActive:      b.IsActive,
		})
	}
	return graph, nil
}

// errKind buckets a store error for the StoreErrors metric.
func errKind(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrForeignKey):
		return "foreign_key"
	case errors.Is(err, store.ErrAlreadyExists):
		return "conflict"
	case errors.Is(err, store.ErrValidation):
		return "validation"
	default:
		return "transaction"
	}
}

// preview truncates on a rune boundary so multi-byte content stays valid
// UTF-8.
func preview(text string) string {
	if len(text) <= previewLen {
		return text
	}
	cut := previewLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
