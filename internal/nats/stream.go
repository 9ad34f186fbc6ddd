package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/aura-chat/peernet/internal/model"
	"github.com/aura-chat/peernet/internal/repository"
)

const (
	// StreamName is the JetStream stream holding every stored message.
	StreamName = "AURA_MESSAGES"

	// SubjectPrefix prefixes message subjects; the conversation id follows
	// as a single encoded token.
	SubjectPrefix = "aura.messages"

	// UsersBucket is the key-value bucket of user records.
	UsersBucket = "aura_users"

	fetchBatch   = 256
	fetchMaxWait = 2 * time.Second
)

// token encodes an arbitrary id as a subject token and KV key.
func token(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// MessageSubject returns the subject messages of a conversation are
// published on.
func MessageSubject(conversationID string) string {
	return SubjectPrefix + "." + token(conversationID)
}

// Repository stores messages in a JetStream stream and users in a
// JetStream key-value bucket.
type Repository struct {
	client *Client
	stream jetstream.Stream
	users  jetstream.KeyValue
}

// NewRepository ensures the stream and bucket exist.
func NewRepository(ctx context.Context, client *Client) (*Repository, error) {
	js := client.JetStream()

	stream, err := js.Stream(ctx, StreamName)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        StreamName,
			Subjects:    []string{SubjectPrefix + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      365 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Duplicates:  10 * time.Minute,
			Description: "Stored chat messages, one subject per conversation",
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	users, err := js.KeyValue(ctx, UsersBucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		users, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      UsersBucket,
			Description: "User records keyed by encoded id",
			Storage:     jetstream.FileStorage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to ensure users bucket: %w", err)
	}

	return &Repository{client: client, stream: stream, users: users}, nil
}

func (r *Repository) GetUser(ctx context.Context, id string) (model.Identity, error) {
	entry, err := r.users.Get(ctx, token(id))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return model.Identity{}, repository.ErrNotFound
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("failed to get user: %w", err)
	}

	var u model.Identity
	if err := json.Unmarshal(entry.Value(), &u); err != nil {
		return model.Identity{}, fmt.Errorf("failed to decode user: %w", err)
	}
	return u, nil
}

func (r *Repository) PutUser(ctx context.Context, user model.Identity) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	if _, err := r.users.Put(ctx, token(user.ID), data); err != nil {
		return fmt.Errorf("failed to put user: %w", err)
	}
	return nil
}

// AppendMessage publishes the message with a message id header, so a retry
// inside the stream's duplicate window is dropped by the server. Older
// duplicates are removed when listing.
func (r *Repository) AppendMessage(ctx context.Context, msg model.StoredMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = r.client.JetStream().Publish(ctx, MessageSubject(msg.ConversationID), data,
		jetstream.WithMsgID(msg.ConversationID+"/"+msg.ID))
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (r *Repository) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	subject := MessageSubject(conversationID)

	info, err := r.stream.Info(ctx, jetstream.WithSubjectFilter(subject))
	if err != nil {
		return nil, fmt.Errorf("failed to read stream info: %w", err)
	}
	total := info.State.Subjects[subject]
	if total == 0 {
		return []model.Message{}, nil
	}

	consumer, err := r.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	seen := make(map[string]struct{}, total)
	out := make([]model.Message, 0, total)
	var read uint64

	for read < total {
		batch, err := consumer.Fetch(fetchBatch, jetstream.FetchMaxWait(fetchMaxWait))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch messages: %w", err)
		}

		got := 0
		for msg := range batch.Messages() {
			got++
			read++

			var stored model.StoredMessage
			if err := json.Unmarshal(msg.Data(), &stored); err != nil {
				continue
			}
			if _, dup := seen[stored.ID]; dup {
				continue
			}
			seen[stored.ID] = struct{}{}
			out = append(out, stored.Message)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
			return nil, fmt.Errorf("batch error: %w", err)
		}
		if got == 0 {
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (r *Repository) Ping(context.Context) error {
	if !r.client.IsConnected() {
		return errors.New("NATS not connected")
	}
	return nil
}

// Close is a no-op; the connection belongs to the caller.
func (r *Repository) Close() error {
	return nil
}

var _ repository.Repository = (*Repository)(nil)
