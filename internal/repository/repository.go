// Package repository stores users and messages for the persistence server.
package repository

import (
	"context"
	"errors"

	"github.com/aura-chat/peernet/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Repository is the storage contract of the persistence server.
type Repository interface {
	// GetUser returns the user with id, or ErrNotFound.
	GetUser(ctx context.Context, id string) (model.Identity, error)
	// PutUser creates or replaces a user record.
	PutUser(ctx context.Context, user model.Identity) error
	// AppendMessage stores a message. Storing the same conversation and
	// message id again leaves the first copy in place.
	AppendMessage(ctx context.Context, msg model.StoredMessage) error
	// ListMessages returns a conversation's messages ordered by timestamp.
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	// Ping reports whether the backend is usable.
	Ping(ctx context.Context) error
	// Close releases the backend.
	Close() error
}
