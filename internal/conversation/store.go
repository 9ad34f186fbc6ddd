// Package conversation owns the conversations of one local identity and
// reconciles them from three producers: local user actions, realtime events
// from other peers, and history fetched from the persistence backend.
//
// Messages are keyed by id. Merging the same message twice is a no-op, and
// fetched history is unioned into local state, so duplicate or out-of-order
// delivery never loses or repeats a message.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-chat/peernet/internal/model"
	"github.com/aura-chat/peernet/internal/persistence"
	"github.com/aura-chat/peernet/internal/realtime"
	"github.com/aura-chat/peernet/internal/snapshot"
	"github.com/aura-chat/peernet/pkg/logger"
	"github.com/aura-chat/peernet/pkg/metrics"
)

var (
	// ErrUnknownConversation is returned for operations on a conversation
	// that does not exist locally.
	ErrUnknownConversation = errors.New("unknown conversation")
	// ErrInvalidPeer is returned when starting a conversation with self or
	// with an empty identity.
	ErrInvalidPeer = errors.New("invalid conversation peer")
)

const (
	defaultReplyTimeout    = 60 * time.Second
	defaultSnapshotTimeout = 5 * time.Second

	welcomeText = "Welcome back! I'm Aura. Say hi, or scan for people nearby."
)

// Responder produces the AI companion's reply to prompt given the prior
// messages of the AI conversation.
type Responder interface {
	Respond(ctx context.Context, history []model.Message, prompt string) (string, error)
}

// Options wires a Store to its collaborators. Nil fields get working
// defaults: a no-op channel, the offline gateway, an in-memory snapshot
// store and no AI replies.
type Options struct {
	Channel      realtime.Channel
	Gateway      persistence.Gateway
	Snapshots    snapshot.Store
	Responder    Responder
	ReplyTimeout time.Duration
	Now          func() time.Time
	NewID        func() string
	Logger       *logger.Logger
}

// Store is the single source of truth for the local identity's
// conversations. It is safe for concurrent use.
type Store struct {
	self         model.Identity
	channel      realtime.Channel
	gateway      persistence.Gateway
	writes       *persistence.BestEffort
	snapshots    snapshot.Store
	responder    Responder
	replyTimeout time.Duration
	now          func() time.Time
	newID        func() string
	logger       *logger.Logger

	mu      sync.Mutex
	convos  []*model.Conversation
	index   map[string]*model.Conversation
	focused string
	typing  map[string]bool
	version uint64

	// saveMu orders snapshot writes, which run outside mu.
	saveMu       sync.Mutex
	savedVersion uint64

	bg sync.WaitGroup
}

// NewStore creates an empty store for self. Call Load before use.
func NewStore(self model.Identity, opts Options) *Store {
	s := &Store{
		self:         self,
		channel:      opts.Channel,
		gateway:      opts.Gateway,
		snapshots:    opts.Snapshots,
		responder:    opts.Responder,
		replyTimeout: opts.ReplyTimeout,
		now:          opts.Now,
		newID:        opts.NewID,
		logger:       logger.OrNop(opts.Logger).Component("conversation_store").WithPeer(self.ID, self.Name),
		index:        make(map[string]*model.Conversation),
		typing:       make(map[string]bool),
	}
	if s.channel == nil {
		s.channel = realtime.Noop{}
	}
	if s.gateway == nil {
		s.gateway = persistence.Offline{}
	}
	if s.snapshots == nil {
		s.snapshots = snapshot.NewMemory()
	}
	if s.replyTimeout <= 0 {
		s.replyTimeout = defaultReplyTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = NewMessageID
	}
	s.writes = persistence.NewBestEffort(s.gateway, 0)
	return s
}

// Self returns the local identity.
func (s *Store) Self() model.Identity {
	return s.self
}

// Load reads the conversation snapshot of the local identity. On first run,
// or when the snapshot is unreadable, the AI conversation is seeded. The
// first conversation becomes the focused one.
func (s *Store) Load(ctx context.Context) error {
	var saved []model.Conversation
	found, err := s.snapshots.Load(ctx, snapshot.ConversationsKey(s.self.ID), &saved)
	if err != nil {
		s.logger.Warn("conversation snapshot unreadable, starting fresh", zap.Error(err))
		found = false
	}

	s.mu.Lock()

	s.convos = nil
	s.index = make(map[string]*model.Conversation)
	if found {
		for i := range saved {
			c := saved[i]
			if c.ID == "" || s.index[c.ID] != nil {
				continue
			}
			s.convos = append(s.convos, &c)
			s.index[c.ID] = &c
		}
	}
	seeded := len(s.convos) == 0
	if seeded {
		s.seedLocked()
	}
	s.focused = s.convos[0].ID
	count := len(s.convos)

	if seeded {
		s.unlockAndSave()
	} else {
		s.mu.Unlock()
	}

	s.logger.Info("conversations loaded",
		zap.Int("count", count),
		zap.Bool("from_snapshot", found))
	return nil
}

func (s *Store) seedLocked() {
	now := s.now().UnixMilli()
	welcome := model.Message{
		ID:         s.newID(),
		SenderID:   model.AssistantID,
		SenderName: model.AssistantName,
		Text:       welcomeText,
		Timestamp:  now,
		Type:       model.MessageTypeText,
	}
	c := &model.Conversation{
		ID:                 model.AssistantConversationID,
		Type:               model.ConversationAI,
		Participants:       []string{model.AssistantID},
		ParticipantDetails: []model.Identity{model.AssistantIdentity(now)},
		Messages:           []model.Message{welcome},
		LastMessage:        &welcome,
	}
	s.convos = []*model.Conversation{c}
	s.index[c.ID] = c
}

// Conversations returns copies of every conversation in display order.
func (s *Store) Conversations() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Conversation, 0, len(s.convos))
	for _, c := range s.convos {
		out = append(out, c.Clone())
	}
	return out
}

// Get returns a copy of one conversation.
func (s *Store) Get(id string) (model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.index[id]
	if !ok {
		return model.Conversation{}, false
	}
	return c.Clone(), true
}

// Focused returns the id of the conversation the local viewer has open.
func (s *Store) Focused() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

// Send builds a text message from the local identity and applies it to
// conversationID.
func (s *Store) Send(conversationID, text string) (model.Message, error) {
	if err := model.ValidateText(text); err != nil {
		return model.Message{}, err
	}
	msg := model.Message{
		ID:         s.newID(),
		SenderID:   s.self.ID,
		SenderName: s.self.Name,
		Text:       text,
		Timestamp:  s.now().UnixMilli(),
		Type:       model.MessageTypeText,
		Status:     model.MessageStatusSent,
	}
	if err := s.ApplyLocalMessage(conversationID, msg); err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

// ApplyLocalMessage appends a message produced by the local identity. The
// message is visible immediately; persistence happens in the background and
// its failure is never reported. Peer-to-peer conversations publish the
// message on the channel; the AI conversation asks the responder for a
// reply.
func (s *Store) ApplyLocalMessage(conversationID string, msg model.Message) error {
	s.mu.Lock()
	c, ok := s.index[conversationID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	if c.HasMessage(msg.ID) {
		s.mu.Unlock()
		metrics.DuplicateMessages.Inc()
		return nil
	}
	history := append([]model.Message(nil), c.Messages...)
	insertMessage(c, msg)
	convType := c.Type
	peerToPeer := c.IsPeerToPeer()
	s.unlockAndSave()

	metrics.MessagesTotal.WithLabelValues("local", string(convType)).Inc()
	s.writes.Append(conversationID, msg)

	switch {
	case peerToPeer:
		s.channel.Publish(&model.MessageEvent{ConversationID: conversationID, Message: msg})
	case convType == model.ConversationAI && s.responder != nil:
		s.bg.Add(1)
		go s.reply(conversationID, history, msg.Text)
	}
	return nil
}

func (s *Store) reply(conversationID string, history []model.Message, prompt string) {
	defer s.bg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.replyTimeout)
	defer cancel()

	text, err := s.responder.Respond(ctx, history, prompt)
	if err != nil {
		s.logger.Warn("assistant reply failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return
	}

	msg := model.Message{
		ID:         s.newID(),
		SenderID:   model.AssistantID,
		SenderName: model.AssistantName,
		Text:       text,
		Timestamp:  s.now().UnixMilli(),
		Type:       model.MessageTypeText,
	}

	s.mu.Lock()
	c, ok := s.index[conversationID]
	if !ok || c.HasMessage(msg.ID) {
		s.mu.Unlock()
		return
	}
	insertMessage(c, msg)
	s.unlockAndSave()

	metrics.MessagesTotal.WithLabelValues("assistant", string(model.ConversationAI)).Inc()
	s.writes.Append(conversationID, msg)
}

// MergeInboundMessage applies a message received from another peer and
// reports whether state changed. A message already present is ignored. An
// unknown conversation is created only when the sender is someone else and
// the conversation id names the local identity as a participant.
func (s *Store) MergeInboundMessage(conversationID string, msg model.Message) bool {
	s.mu.Lock()

	c, ok := s.index[conversationID]
	switch {
	case ok && c.HasMessage(msg.ID):
		s.mu.Unlock()
		metrics.DuplicateMessages.Inc()
		return false

	case ok:
		insertMessage(c, msg)
		if conversationID == s.focused {
			c.UnreadCount = 0
		} else {
			c.UnreadCount++
		}

	case msg.SenderID != s.self.ID && ReferencesParticipant(conversationID, s.self.ID):
		c = s.synthesizeLocked(conversationID, msg)
		s.convos = append([]*model.Conversation{c}, s.convos...)
		s.index[conversationID] = c
		s.logger.Info("conversation started by peer",
			zap.String("conversation_id", conversationID),
			zap.String("peer_id", msg.SenderID))

	default:
		s.mu.Unlock()
		return false
	}

	convType := c.Type
	s.unlockAndSave()
	metrics.MessagesTotal.WithLabelValues("remote", string(convType)).Inc()
	return true
}

func (s *Store) synthesizeLocked(conversationID string, msg model.Message) *model.Conversation {
	sender := model.Identity{
		ID:        msg.SenderID,
		Name:      msg.SenderName,
		AvatarURL: model.DefaultAvatarURL(msg.SenderID),
		Theme:     model.ThemeDark,
		JoinedAt:  s.now().UnixMilli(),
	}
	last := msg
	return &model.Conversation{
		ID:                 conversationID,
		Type:               model.ConversationDM,
		Participants:       []string{msg.SenderID, s.self.ID},
		ParticipantDetails: []model.Identity{sender, s.self},
		Messages:           []model.Message{msg},
		LastMessage:        &last,
		UnreadCount:        1,
	}
}

// MergeFetchedHistory unions fetched messages into a conversation by id and
// returns how many were added. Messages already held locally are kept even
// when the fetch does not contain them, so an empty or stale fetch never
// removes anything.
func (s *Store) MergeFetchedHistory(conversationID string, fetched []model.Message) int {
	if len(fetched) == 0 {
		return 0
	}

	s.mu.Lock()

	c, ok := s.index[conversationID]
	if !ok {
		s.mu.Unlock()
		return 0
	}

	seen := make(map[string]struct{}, len(c.Messages)+len(fetched))
	merged := make([]model.Message, 0, len(c.Messages)+len(fetched))
	for _, m := range c.Messages {
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	added := 0
	for _, m := range fetched {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
		added++
	}
	if added == 0 {
		s.mu.Unlock()
		return 0
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	c.Messages = merged
	last := merged[len(merged)-1]
	c.LastMessage = &last
	convType := c.Type
	s.unlockAndSave()

	metrics.MessagesTotal.WithLabelValues("history", string(convType)).Add(float64(added))
	return added
}

// Refresh fetches the stored history of a conversation and merges it.
func (s *Store) Refresh(ctx context.Context, conversationID string) int {
	return s.MergeFetchedHistory(conversationID, s.gateway.FetchMessages(ctx, conversationID))
}

// Focus opens a conversation: its unread count resets, typing indicators
// are cleared and its history is fetched in the background.
func (s *Store) Focus(conversationID string) error {
	s.mu.Lock()
	c, ok := s.index[conversationID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	s.focused = conversationID
	c.UnreadCount = 0
	s.typing = make(map[string]bool)
	s.unlockAndSave()

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistence.DefaultWriteTimeout)
		defer cancel()
		if n := s.Refresh(ctx, conversationID); n > 0 {
			s.logger.Debug("history merged",
				zap.String("conversation_id", conversationID),
				zap.Int("added", n))
		}
	}()
	return nil
}

// StartConversation opens the DM with peer, creating it at the top of the
// list when it does not exist yet, and focuses it.
func (s *Store) StartConversation(peer model.Identity) (model.Conversation, error) {
	if peer.ID == "" || peer.ID == s.self.ID {
		return model.Conversation{}, fmt.Errorf("%w: %q", ErrInvalidPeer, peer.ID)
	}
	id := DMConversationID(s.self.ID, peer.ID)

	s.mu.Lock()
	if _, ok := s.index[id]; ok {
		s.mu.Unlock()
	} else {
		c := &model.Conversation{
			ID:                 id,
			Type:               model.ConversationDM,
			Participants:       []string{s.self.ID, peer.ID},
			ParticipantDetails: []model.Identity{peer, s.self},
			Messages:           []model.Message{},
		}
		s.convos = append([]*model.Conversation{c}, s.convos...)
		s.index[id] = c
		s.unlockAndSave()
	}

	if err := s.Focus(id); err != nil {
		return model.Conversation{}, err
	}
	c, _ := s.Get(id)
	return c, nil
}

// RecordTyping applies a TYPING signal from another peer. Only signals for
// the focused conversation are kept.
func (s *Store) RecordTyping(userID, conversationID string, isTyping bool) {
	if userID == "" || userID == s.self.ID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if conversationID != s.focused {
		return
	}
	if isTyping {
		s.typing[userID] = true
	} else {
		delete(s.typing, userID)
	}
}

// TypingUsers returns the ids of peers currently typing in the focused
// conversation, sorted.
func (s *Store) TypingUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.typing))
	for id := range s.typing {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SetTyping announces the local identity's typing state in the focused
// conversation. Only DMs carry typing signals.
func (s *Store) SetTyping(isTyping bool) {
	s.mu.Lock()
	c, ok := s.index[s.focused]
	isDM := ok && c.Type == model.ConversationDM
	focused := s.focused
	s.mu.Unlock()

	if !isDM {
		return
	}
	s.channel.Publish(&model.TypingEvent{UserID: s.self.ID, ConversationID: focused, IsTyping: isTyping})
}

// Wait blocks until background fetches, replies and writes have finished.
func (s *Store) Wait() {
	s.bg.Wait()
	s.writes.Wait()
}

// unlockAndSave copies the conversations, releases mu and writes the copy
// to the snapshot store. A copy older than the last one written is skipped.
func (s *Store) unlockAndSave() {
	s.version++
	version := s.version
	convos := make([]model.Conversation, len(s.convos))
	for i, c := range s.convos {
		convos[i] = c.Clone()
	}
	s.mu.Unlock()

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if version <= s.savedVersion {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultSnapshotTimeout)
	defer cancel()

	if err := s.snapshots.Save(ctx, snapshot.ConversationsKey(s.self.ID), convos); err != nil {
		s.logger.Warn("failed to save conversation snapshot", zap.Error(err))
		return
	}
	s.savedVersion = version
}

// insertMessage places msg by timestamp; equal timestamps keep arrival
// order. LastMessage always tracks the newest message.
func insertMessage(c *model.Conversation, msg model.Message) {
	i := sort.Search(len(c.Messages), func(i int) bool {
		return c.Messages[i].Timestamp > msg.Timestamp
	})
	c.Messages = append(c.Messages, model.Message{})
	copy(c.Messages[i+1:], c.Messages[i:])
	c.Messages[i] = msg

	last := c.Messages[len(c.Messages)-1]
	c.LastMessage = &last
}
