// Package snapshot persists peer-local state as opaque JSON blobs: one
// identity record and one conversation list per identity id.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

const (
	// IdentityKey holds the stored profile, without a session suffix.
	IdentityKey = "aura_user_identity_v3"

	// ConversationsPrefix prefixes the conversation list key.
	ConversationsPrefix = "aura_convos_"
)

// ErrInvalidKey is returned for keys that cannot be stored by a backend.
var ErrInvalidKey = errors.New("invalid snapshot key")

// ConversationsKey returns the key holding the conversations of identityID.
func ConversationsKey(identityID string) string {
	return ConversationsPrefix + identityID
}

// Store reads and writes snapshot blobs.
type Store interface {
	// Load decodes the blob stored under key into v. It reports false when
	// the key is absent.
	Load(ctx context.Context, key string, v any) (bool, error)
	// Save encodes v and stores it under key, replacing any previous blob.
	Save(ctx context.Context, key string, v any) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process Store.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Load(_ context.Context, key string, v any) (bool, error) {
	m.mu.RLock()
	data, ok := m.blobs[key]
	m.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return true, nil
}

func (m *Memory) Save(_ context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}

	m.mu.Lock()
	m.blobs[key] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.blobs, key)
	m.mu.Unlock()
	return nil
}

// Keys returns the stored keys. Used by tests.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.blobs))
	for k := range m.blobs {
		keys = append(keys, k)
	}
	return keys
}
