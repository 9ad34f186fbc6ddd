// Package persistence is the peer-side boundary to the remote store of users
// and messages. Every failure is absorbed here: callers only ever see
// ErrConnection from SyncIdentity.
package persistence

import (
	"context"
	"errors"

	"github.com/aura-chat/peernet/internal/model"
)

// ErrConnection means the persistence backend could not be reached or
// rejected the request. Peers degrade to local-only operation.
var ErrConnection = errors.New("persistence unreachable")

// Gateway is the contract peers use to talk to the persistence backend.
type Gateway interface {
	// SyncIdentity upserts the identity. On success the returned record is
	// authoritative. Any failure is reported as an error wrapping
	// ErrConnection.
	SyncIdentity(ctx context.Context, identity model.Identity) (model.Identity, error)

	// FetchMessages returns the stored history ordered by timestamp. Any
	// failure yields an empty slice.
	FetchMessages(ctx context.Context, conversationID string) []model.Message

	// AppendMessage stores a message. Failures are logged and swallowed.
	AppendMessage(ctx context.Context, conversationID string, msg model.Message)
}

// Offline is the gateway used when no backend is configured.
type Offline struct{}

func (Offline) SyncIdentity(context.Context, model.Identity) (model.Identity, error) {
	return model.Identity{}, ErrConnection
}

func (Offline) FetchMessages(context.Context, string) []model.Message { return nil }

func (Offline) AppendMessage(context.Context, string, model.Message) {}
