package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/aura-chat/peernet/internal/model"
)

// Memory is an in-process Repository.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]model.Identity
	messages map[string][]model.Message
}

// NewMemory creates an empty repository.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]model.Identity),
		messages: make(map[string][]model.Message),
	}
}

func (m *Memory) GetUser(_ context.Context, id string) (model.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return model.Identity{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) PutUser(_ context.Context, user model.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users[user.ID] = user
	return nil
}

func (m *Memory) AppendMessage(_ context.Context, msg model.StoredMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.messages[msg.ConversationID] {
		if existing.ID == msg.ID {
			return nil
		}
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg.Message)
	return nil
}

func (m *Memory) ListMessages(_ context.Context, conversationID string) ([]model.Message, error) {
	m.mu.RLock()
	out := append([]model.Message{}, m.messages[conversationID]...)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
