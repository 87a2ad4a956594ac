package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/weave/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for tests and
// local runs. All values are cloned on the way in and out so callers never
// share state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	chats       map[string]*models.Chat
	messages    map[string]*models.Message
	byChat      map[string][]string            // chatID -> message IDs in insertion order
	branches    map[string]map[string]*models.Branch    // chatID -> name -> branch
	checkpoints map[string]map[string]*models.Checkpoint // chatID -> name -> checkpoint
	index       map[string]string              // messageID -> search text
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:       map[string]*models.Chat{},
		messages:    map[string]*models.Message{},
		byChat:      map[string][]string{},
		branches:    map[string]map[string]*models.Branch{},
		checkpoints: map[string]map[string]*models.Checkpoint{},
		index:       map[string]string{},
	}
}

func (m *MemoryStore) UpsertChat(ctx context.Context, chat *models.Chat) error {
	if chat == nil || chat.ID == "" {
		return fmt.Errorf("%w: chat id is required", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.upsertChatLocked(chat)
	return nil
}

func (m *MemoryStore) upsertChatLocked(chat *models.Chat) {
	now := time.Now()
	if existing, ok := m.chats[chat.ID]; ok {
		clone := chat.Clone()
		clone.CreatedAt = existing.CreatedAt
		clone.UpdatedAt = now
		m.chats[chat.ID] = clone
		return
	}
	clone := chat.Clone()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = clone.CreatedAt
	m.chats[chat.ID] = clone
}

func (m *MemoryStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chat, ok := m.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	return chat.Clone(), nil
}

func (m *MemoryStore) DeleteChat(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chats[id]; !ok {
		return ErrNotFound
	}
	delete(m.chats, id)
	for _, msgID := range m.byChat[id] {
		delete(m.messages, msgID)
		delete(m.index, msgID)
	}
	delete(m.byChat, id)
	delete(m.branches, id)
	delete(m.checkpoints, id)
	return nil
}

func (m *MemoryStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.ID == "" || msg.ChatID == "" {
		return fmt.Errorf("%w: message id and chat id are required", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.addMessageLocked(msg)
}

func (m *MemoryStore) addMessageLocked(msg *models.Message) error {
	if _, ok := m.chats[msg.ChatID]; !ok {
		return fmt.Errorf("%w: chat %s", ErrForeignKey, msg.ChatID)
	}
	if msg.ParentID != nil {
		parent, ok := m.messages[*msg.ParentID]
		if !ok || parent.ChatID != msg.ChatID {
			return fmt.Errorf("%w: parent %s", ErrForeignKey, *msg.ParentID)
		}
	}

	clone := msg.Clone()
	if existing, ok := m.messages[msg.ID]; ok {
		// Upsert: creation time is immutable once set.
		clone.CreatedAt = existing.CreatedAt
	} else {
		if clone.CreatedAt.IsZero() {
			clone.CreatedAt = time.Now()
		}
		m.byChat[msg.ChatID] = append(m.byChat[msg.ChatID], msg.ID)
	}
	m.messages[msg.ID] = clone
	// Index rewrite happens with the message write; a search immediately
	// after an upsert sees the new content only.
	m.index[msg.ID] = searchText(clone)
	m.touchChatLocked(msg.ChatID)
	return nil
}

func (m *MemoryStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return msg.Clone(), nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, chatID, branch string) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := m.resolveBranchLocked(chatID, branch)
	if err != nil {
		return nil, err
	}
	return m.chainLocked(b.HeadMessageID), nil
}

// chainLocked walks parent pointers from head to root, then reverses to
// chat order.
func (m *MemoryStore) chainLocked(head *string) []*models.Message {
	var chain []*models.Message
	seen := map[string]bool{}
	for head != nil {
		msg, ok := m.messages[*head]
		if !ok || seen[msg.ID] {
			break
		}
		seen[msg.ID] = true
		chain = append(chain, msg.Clone())
		head = msg.ParentID
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	if chain == nil {
		chain = []*models.Message{}
	}
	return chain
}

func (m *MemoryStore) ChatMessages(ctx context.Context, chatID string) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byChat[chatID]
	out := make([]*models.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := m.messages[id]; ok {
			out = append(out, msg.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) SearchMessages(ctx context.Context, chatID, query string) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Message
	for _, id := range m.byChat[chatID] {
		if matchesSubstring(m.index[id], query) {
			if msg, ok := m.messages[id]; ok {
				out = append(out, msg.Clone())
			}
		}
	}
	if out == nil {
		out = []*models.Message{}
	}
	return out, nil
}

func (m *MemoryStore) CreateBranch(ctx context.Context, branch *models.Branch) error {
	if branch == nil || branch.ChatID == "" || branch.Name == "" {
		return fmt.Errorf("%w: branch chat id and name are required", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.createBranchLocked(branch)
}

func (m *MemoryStore) createBranchLocked(branch *models.Branch) error {
	if _, ok := m.chats[branch.ChatID]; !ok {
		return fmt.Errorf("%w: chat %s", ErrForeignKey, branch.ChatID)
	}
	chatBranches := m.branches[branch.ChatID]
	if chatBranches == nil {
		chatBranches = map[string]*models.Branch{}
		m.branches[branch.ChatID] = chatBranches
	}
	if _, ok := chatBranches[branch.Name]; ok {
		return fmt.Errorf("%w: branch %s", ErrAlreadyExists, branch.Name)
	}
	if branch.HeadMessageID != nil {
		head, ok := m.messages[*branch.HeadMessageID]
		if !ok || head.ChatID != branch.ChatID {
			return fmt.Errorf("%w: head message %s", ErrForeignKey, *branch.HeadMessageID)
		}
	}

	clone := branch.Clone()
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	if clone.IsActive {
		for _, other := range chatBranches {
			other.IsActive = false
		}
	}
	chatBranches[clone.Name] = clone
	m.touchChatLocked(branch.ChatID)
	return nil
}

func (m *MemoryStore) SetActiveBranch(ctx context.Context, chatID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chatBranches := m.branches[chatID]
	target, ok := chatBranches[name]
	if !ok {
		return fmt.Errorf("%w: branch %s", ErrNotFound, name)
	}
	for _, b := range chatBranches {
		b.IsActive = false
	}
	target.IsActive = true
	m.touchChatLocked(chatID)
	return nil
}

func (m *MemoryStore) ListBranches(ctx context.Context, chatID string) ([]*models.Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Branch, 0, len(m.branches[chatID]))
	for _, b := range m.branches[chatID] {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) CreateCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	if cp == nil || cp.ChatID == "" || cp.Name == "" || cp.MessageID == "" {
		return fmt.Errorf("%w: checkpoint chat id, name and message id are required", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chats[cp.ChatID]; !ok {
		return fmt.Errorf("%w: chat %s", ErrForeignKey, cp.ChatID)
	}
	msg, ok := m.messages[cp.MessageID]
	if !ok || msg.ChatID != cp.ChatID {
		return fmt.Errorf("%w: message %s", ErrForeignKey, cp.MessageID)
	}
	chatCheckpoints := m.checkpoints[cp.ChatID]
	if chatCheckpoints == nil {
		chatCheckpoints = map[string]*models.Checkpoint{}
		m.checkpoints[cp.ChatID] = chatCheckpoints
	}
	if _, ok := chatCheckpoints[cp.Name]; ok {
		return fmt.Errorf("%w: checkpoint %s", ErrAlreadyExists, cp.Name)
	}

	clone := cp.Clone()
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	chatCheckpoints[clone.Name] = clone
	return nil
}

func (m *MemoryStore) RestoreCheckpoint(ctx context.Context, chatID, name, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.checkpoints[chatID][name]
	if !ok {
		return fmt.Errorf("%w: checkpoint %s", ErrNotFound, name)
	}
	b, err := m.resolveBranchLocked(chatID, branch)
	if err != nil {
		return err
	}
	head := cp.MessageID
	b.HeadMessageID = &head
	m.touchChatLocked(chatID)
	return nil
}

func (m *MemoryStore) ListCheckpoints(ctx context.Context, chatID string) ([]*models.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Checkpoint, 0, len(m.checkpoints[chatID]))
	for _, cp := range m.checkpoints[chatID] {
		out = append(out, cp.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) Append(ctx context.Context, chat *models.Chat, branch string, msgs []*models.Message) error {
	if chat == nil || chat.ID == "" {
		return fmt.Errorf("%w: chat id is required", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if branch == "" {
		branch = models.MainBranch
	}

	// Stage the whole batch first so a failed validation leaves the store
	// untouched, matching the SQL backends' transactional behavior.
	var head *string
	if b := m.branches[chat.ID][branch]; b != nil {
		head = b.HeadMessageID
	}
	staged := make([]*models.Message, 0, len(msgs))
	inBatch := map[string]bool{}
	for _, msg := range msgs {
		clone := msg.Clone()
		if clone.ID == "" {
			clone.ID = uuid.NewString()
		}
		if clone.ParentID == nil {
			clone.ParentID = head
		}
		clone.ChatID = chat.ID
		if clone.ParentID != nil && !inBatch[*clone.ParentID] {
			parent, ok := m.messages[*clone.ParentID]
			if !ok || parent.ChatID != chat.ID {
				return fmt.Errorf("%w: parent %s", ErrForeignKey, *clone.ParentID)
			}
		}
		staged = append(staged, clone)
		inBatch[clone.ID] = true
		id := clone.ID
		head = &id
	}

	m.upsertChatLocked(chat)
	b := m.branches[chat.ID][branch]
	if b == nil {
		nb := models.NewBranch(chat.ID, branch)
		nb.IsActive = len(m.branches[chat.ID]) == 0
		if err := m.createBranchLocked(nb); err != nil {
			return err
		}
		b = m.branches[chat.ID][branch]
	}
	for _, clone := range staged {
		if err := m.addMessageLocked(clone); err != nil {
			return err
		}
	}
	b.HeadMessageID = head

	// Reflect generated IDs and parent links back to the caller, matching
	// the SQL backends.
	for i, clone := range staged {
		msgs[i].ID = clone.ID
		msgs[i].ChatID = clone.ChatID
		msgs[i].ParentID = clone.ParentID
	}
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// resolveBranchLocked returns the named branch, or the active branch when
// name is empty.
func (m *MemoryStore) resolveBranchLocked(chatID, name string) (*models.Branch, error) {
	chatBranches := m.branches[chatID]
	if name != "" {
		b, ok := chatBranches[name]
		if !ok {
			return nil, fmt.Errorf("%w: branch %s", ErrNotFound, name)
		}
		return b, nil
	}
	for _, b := range chatBranches {
		if b.IsActive {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: active branch for chat %s", ErrNotFound, chatID)
}

func (m *MemoryStore) touchChatLocked(chatID string) {
	if chat, ok := m.chats[chatID]; ok {
		chat.UpdatedAt = time.Now()
	}
}
