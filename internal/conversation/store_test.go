package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-chat/peernet/internal/model"
	"github.com/aura-chat/peernet/internal/realtime"
	"github.com/aura-chat/peernet/internal/snapshot"
)

type fakeGateway struct {
	mu       sync.Mutex
	history  map[string][]model.Message
	appended []string
	fetches  int
}

func (g *fakeGateway) SyncIdentity(_ context.Context, id model.Identity) (model.Identity, error) {
	return id, nil
}

func (g *fakeGateway) FetchMessages(_ context.Context, conversationID string) []model.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	return append([]model.Message(nil), g.history[conversationID]...)
}

func (g *fakeGateway) AppendMessage(_ context.Context, conversationID string, msg model.Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.appended = append(g.appended, conversationID+"/"+msg.ID)
}

func (g *fakeGateway) appendedIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.appended...)
}

type recordingChannel struct {
	mu     sync.Mutex
	events []model.Event
}

func (c *recordingChannel) Publish(ev model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *recordingChannel) Subscribe(realtime.Handler) realtime.Unsubscribe { return func() {} }
func (c *recordingChannel) Close() error                                    { return nil }

func (c *recordingChannel) published() []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Event(nil), c.events...)
}

type responderFunc func(ctx context.Context, history []model.Message, prompt string) (string, error)

func (f responderFunc) Respond(ctx context.Context, history []model.Message, prompt string) (string, error) {
	return f(ctx, history, prompt)
}

func sequentialIDs(prefix string) func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("%s%d", prefix, n.Add(1)) }
}

func person(id string) model.Identity {
	return model.Identity{ID: id, Name: id, AvatarURL: model.DefaultAvatarURL(id), JoinedAt: 1}
}

type fixture struct {
	store     *Store
	gateway   *fakeGateway
	channel   *recordingChannel
	snapshots *snapshot.Memory
}

func newFixture(t *testing.T, self model.Identity, opts Options) *fixture {
	t.Helper()

	f := &fixture{
		gateway:   &fakeGateway{history: map[string][]model.Message{}},
		channel:   &recordingChannel{},
		snapshots: snapshot.NewMemory(),
	}
	if opts.Gateway == nil {
		opts.Gateway = f.gateway
	}
	if opts.Channel == nil {
		opts.Channel = f.channel
	}
	if opts.Snapshots == nil {
		opts.Snapshots = f.snapshots
	}
	if opts.NewID == nil {
		opts.NewID = sequentialIDs(self.ID + "-")
	}
	f.store = NewStore(self, opts)
	require.NoError(t, f.store.Load(context.Background()))
	t.Cleanup(f.store.Wait)
	return f
}

func msg(id, sender string, ts int64) model.Message {
	return model.Message{ID: id, SenderID: sender, SenderName: sender, Text: "text " + id, Timestamp: ts, Type: model.MessageTypeText}
}

func messageIDs(c model.Conversation) []string {
	ids := make([]string, 0, len(c.Messages))
	for _, m := range c.Messages {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestLoad_SeedsAssistantConversationOnFirstRun(t *testing.T) {
	f := newFixture(t, person("mira"), Options{})

	convos := f.store.Conversations()
	require.Len(t, convos, 1)
	ai := convos[0]
	assert.Equal(t, model.AssistantConversationID, ai.ID)
	assert.Equal(t, model.ConversationAI, ai.Type)
	assert.Equal(t, []string{model.AssistantID}, ai.Participants)
	require.Len(t, ai.Messages, 1)
	assert.Equal(t, model.AssistantID, ai.Messages[0].SenderID)
	assert.Equal(t, model.AssistantConversationID, f.store.Focused())

	var saved []model.Conversation
	ok, err := f.snapshots.Load(context.Background(), snapshot.ConversationsKey("mira"), &saved)
	require.NoError(t, err)
	require.True(t, ok, "seeding writes a snapshot")
	assert.Len(t, saved, 1)
}

func TestLoad_RestoresSnapshot(t *testing.T) {
	snaps := snapshot.NewMemory()
	first := newFixture(t, person("mira"), Options{Snapshots: snaps})
	_, err := first.store.StartConversation(person("bob"))
	require.NoError(t, err)
	_, err = first.store.Send("bob--mira", "hello")
	require.NoError(t, err)
	first.store.Wait()

	second := newFixture(t, person("mira"), Options{Snapshots: snaps})
	convos := second.store.Conversations()
	require.Len(t, convos, 2)
	assert.Equal(t, "bob--mira", convos[0].ID)
	assert.Equal(t, "hello", convos[0].LastMessage.Text)
	assert.Equal(t, "bob--mira", second.store.Focused())
}

func TestLoad_UnreadableSnapshotFallsBackToSeed(t *testing.T) {
	snaps := snapshot.NewMemory()
	require.NoError(t, snaps.Save(context.Background(), snapshot.ConversationsKey("mira"), "not a list"))

	f := newFixture(t, person("mira"), Options{Snapshots: snaps})
	convos := f.store.Conversations()
	require.Len(t, convos, 1)
	assert.Equal(t, model.AssistantConversationID, convos[0].ID)
}

func TestMergeInbound_SameMessageTwiceKeepsOneCopy(t *testing.T) {
	f := newFixture(t, person("mira"), Options{})
	_, err := f.store.StartConversation(person("bob"))
	require.NoError(t, err)

	m := msg("m1", "bob", 10)
	assert.True(t, f.store.MergeInboundMessage("bob--mira", m))
	assert.False(t, f.store.MergeInboundMessage("bob--mira", m))

	c, ok := f.store.Get("bob--mira")
	require.True(t, ok)
	assert.Equal(t, []string{"m1"}, messageIDs(c))
}

func TestMergeInbound_OwnEchoIsIgnored(t *testing.T) {
	f := newFixture(t, person("mira"), Options{})
	_, err := f.store.StartConversation(person("bob"))
	require.NoError(t, err)

	sent, err := f.store.Send("bob--mira", "hi")
	require.NoError(t, err)
	assert.False(t, f.store.MergeInboundMessage("bob--mira", sent))

	c, _ := f.store.Get("bob--mira")
	assert.Len(t, c.Messages, 1)
}

func TestMergeInbound_SynthesizesConversationForSelf(t *testing.T) {
	f := newFixture(t, person("mira"), Options{})

	m := msg("m1", "bob", 10)
	m.SenderName = "Bob"
	require.True(t, f.store.MergeInboundMessage("bob--mira", m))

	convos := f.store.Conversations()
	require.Len(t, convos, 2)
	c := convos[0]
	assert.Equal(t, "bob--mira", c.ID, "new conversation is prepended")
	assert.Equal(t, model.ConversationDM, c.Type)
	assert.Equal(t, []string{"bob", "mira"}, c.Participants)
	partner, ok := c.Partner("mira")
	require.True(t, ok)
	assert.Equal(t, "Bob", partner.Name)
	assert.Equal(t, model.DefaultAvatarURL("bob"), partner.AvatarURL)
	assert.Equal(t, 1, c.UnreadCount)
	assert.Equal(t, "m1", c.LastMessage.ID)
}

func TestMergeInbound_IgnoresConversationsNotForSelf(t *testing.T) {
	f := newFixture(t, person("mira"), Options{})

	assert.False(t, f.store.MergeInboundMessage("alice--bob", msg("m1", "bob", 1)))
	assert.False(t, f.store.MergeInboundMessage("bob--mira", msg("m2", "mira", 1)), "own message never creates a conversation")
	assert.False(t, f.store.MergeInboundMessage("bob--miranda", msg("m3", "bob", 1)))
	assert.Len(t, f.store.Conversations(), 1)
}

func TestMergeInbound_UnreadOnlyWhenNotFocused(t *testing.T) {
	f := newFixture(t, person("mira"), Options{})
	_, err := f.store.StartConversation(person("bob"))
	require.NoError(t, err)
	_, err = f.store.StartConversation(person("zoe"))
	require.NoError(t, err)
	require.Equal(t, "mira--zoe", f.store.Focused())

	f.store.MergeInboundMessage("bob--mira", msg("b1", "bob", 1))
	f.store.MergeInboundMessage("bob--mira", msg("b2", "bob", 2))
	f.store.MergeInboundMessage("mira--zoe", msg("z1", "zoe", 3))

	bob, _ := f.store.Get("bob--mira")
	zoe, _ := f.store.Get("mira--zoe")
	assert.Equal(t, 2, bob.UnreadCount)
	assert.Equal(t, 0, zoe.UnreadCount)

	require.NoError(t, f.store.Focus("bob--mira"))
	bob, _ = f.store.Get("bob--mira")
	assert.Equal(t, 0, bob.UnreadCount)
}

func TestMergeInbound_OutOfOrderArrivalKeepsTimestampOrder(t *testing.T) {
	f := newFixture(t, person("mira"), Options{})
	_, err := f.store.StartConversation(person("bob"))
	require.NoError(t, err)

	require.True(t, f.store.MergeInboundMessage("bob--mira", msg("m2", "bob", 200)))
	require.True(t, f.store.MergeInboundMessage("bob--mira", msg("m1", "bob", 100)))
	require.True(t, f.store.MergeInboundMessage("bob--mira", msg("m3", "bob", 200)))

	c, ok := f.store.Get("bob--mira")
	require.True(t, ok)
	assert.Equal(t, []string{"m1", "m2", "m3"}, messageIDs(c))
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, "m3", c.LastMessage.ID, "late arrival with an older timestamp is not the last message")

	var saved []model.Conversation
	_, err = f.snapshots.Load(context.Background(), snapshot.ConversationsKey("mira"), &saved)
	require.NoError(t, err)
	require.NotEmpty(t, saved)
	assert.Equal(t, []string{"m1", "m2", "m3"}, messageIDs(saved[0]))
}

// gatedSnapshots holds the next Save until release is closed.
type gatedSnapshots struct {
	*snapshot.Memory
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSnapshots) Save(ctx context.Context, key string, v any) error {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.Memory.Save(ctx, key, v)
}

func TestSnapshotSaveDoesNotBlockReaders(t *testing.T) {
	snaps := &gatedSnapshots{
		Memory:  snapshot.NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := newFixture(t, person("mira"), Options{Snapshots: snaps})
	_, err := f.store.StartConversation(person("bob"))
	require.NoError(t, err)

	snaps.armed.Store(true)
	merged := make(chan bool, 2)
	go func() { merged <- f.store.MergeInboundMessage("bob--mira", msg("m1", "bob", 10)) }()

	select {
	case <-snaps.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot save never started")
	}

	read := make(chan model.Conversation, 1)
	go func() {
		c, _ := f.store.Get("bob--mira")
		read <- c
	}()
	select {
	case c := <-read:
		assert.Equal(t, []string{"m1"}, messageIDs(c))
	case <-time.After(2 * time.Second):
		t.Fatal("Get blocked behind a slow snapshot save")
	}

	go func() { merged <- f.store.MergeInboundMessage("bob--mira", msg("m2", "bob", 20)) }()
	require.Eventually(t, func() bool {
		c, _ := f.store.Get("bob--mira")
		return len(c.Messages) == 2
	}, 2*time.Second, 5*time.Millisecond, "second merge applies while the first save is held")

	close(snaps.release)
	assert.True(t, <-merged)
	assert.True(t, <-merged)

	var saved []model.Conversation
	_, err = snaps.Load(context.Background(), snapshot.ConversationsKey("mira"), &saved)
	require.NoError(t, err)
	require.NotEmpty(t, saved)
	assert.Equal(t, []string{"m1", "m2"}, messageIDs(saved[0]), "older save never overwrites a newer one")
}

func TestMergeFetchedHistory_EmptyFetchKeepsLocalMessages(t *testing.T) {
	f := newFixture(t, person("mira"), Options{})
	_, err := f.store.StartConversation(person("bob"))
	require.NoError(t, err)
	for _, text := range []string{"one", "two", "three"} {
		_, err := f.store.Send("bob--mira", text)
		require.NoError(t, err)
	}
	before, _ := f.store.Get("bob--mira")
	require.Len(t, before.Messages, 3)

	assert.Equal(t, 0, f.store.MergeFetchedHistory("bob--mira", nil))
	assert.Equal(t, 0, f.store.Refresh(context.Background(), "bob--mira"))

	after, _ := f.store.Get("bob--mira")
	assert.Equal(t, before.Messages, after.Messages)
}

func TestMergeFetchedHistory_UnionsByIDAndSortsByTimestamp(t *testing.T) {
	f := newFixture(t, person("mira"), Options{})
	_, err := f.store.StartConversation(person("bob"))
	require.NoError(t, err)

	// A realtime message lands while a slower fetch is in flight.
	f.store.MergeInboundMessage("bob--mira", msg("m3", "bob", 30))

	added := f.store.MergeFetchedHistory("bob--mira", []model.Message{
		msg("m1", "mira", 10),
		msg("m2", "bob", 20),
		msg("m1", "mira", 10),
	})
	assert.Equal(t, 2, added)

	c, _ := f.store.Get("bob--mira")
	assert.Equal(t, []string{"m1", "m2", "m3"}, messageIDs(c))
	assert.Equal(t, "m3", c.LastMessage.ID)

	assert.Equal(t, 0, f.store.MergeFetchedHistory("bob--mira", []model.Message{msg("m2", "bob", 20)}))
	assert.Equal(t, 0, f.store.MergeFetchedHistory("unknown", []model.Message{msg("x", "bob", 1)}))
}

func TestFocus_FetchesHistoryInBackground(t *testing.T) {
	f := newFixture(t, person("mira"), Options{})
	f.gateway.history["bob--mira"] = []model.Message{msg("old1", "bob", 1), msg("old2", "mira", 2)}

	_, err := f.store.StartConversation(person("bob"))
	require.NoError(t, err)
	f.store.Wait()

	c, _ := f.store.Get("bob--mira")
	assert.Equal(t, []string{"old1", "old2"}, messageIDs(c))

	assert.ErrorIs(t, f.store.Focus("nope"), ErrUnknownConversation)
}

func TestApplyLocal_PublishesAndPersistsPeerToPeer(t *testing.T) {
	f := newFixture(t, person("mira"), Options{})
	_, err := f.store.StartConversation(person("bob"))
	require.NoError(t, err)

	sent, err := f.store.Send("bob--mira", "hi")
	require.NoError(t, err)
	assert.Equal(t, "mira", sent.SenderID)
	assert.Equal(t, model.MessageStatusSent, sent.Status)

	c, _ := f.store.Get("bob--mira")
	require.Len(t, c.Messages, 1, "visible before any persistence completes")

	events := f.channel.published()
	require.Len(t, events, 1)
	ev, ok := events[0].(*model.MessageEvent)
	require.True(t, ok)
	assert.Equal(t, "bob--mira", ev.ConversationID)
	assert.Equal(t, sent.ID, ev.Message.ID)

	f.store.Wait()
	assert.Equal(t, []string{"bob--mira/" + sent.ID}, f.gateway.appendedIDs())
}

func TestApplyLocal_Errors(t *testing.T) {
	f := newFixture(t, person("mira"), Options{})

	assert.ErrorIs(t, f.store.ApplyLocalMessage("nope", msg("m1", "mira", 1)), ErrUnknownConversation)

	_, err := f.store.Send(model.AssistantConversationID, "")
	assert.Error(t, err)
	assert.Empty(t, f.channel.published())
}

func TestApplyLocal_AssistantReplyIsLocalOnly(t *testing.T) {
	var gotHistory []model.Message
	var gotPrompt string
	responder := responderFunc(func(_ context.Context, history []model.Message, prompt string) (string, error) {
		gotHistory, gotPrompt = history, prompt
		return "hello, Mira", nil
	})
	f := newFixture(t, person("mira"), Options{Responder: responder})

	_, err := f.store.Send(model.AssistantConversationID, "hi Aura")
	require.NoError(t, err)
	f.store.Wait()

	c, _ := f.store.Get(model.AssistantConversationID)
	require.Len(t, c.Messages, 3)
	reply := c.Messages[2]
	assert.Equal(t, model.AssistantID, reply.SenderID)
	assert.Equal(t, "hello, Mira", reply.Text)
	assert.Equal(t, "hi Aura", gotPrompt)
	assert.Len(t, gotHistory, 1, "history excludes the prompt")

	assert.Empty(t, f.channel.published(), "AI conversation is never broadcast")
	assert.Len(t, f.gateway.appendedIDs(), 2)
}

func TestApplyLocal_AssistantFailureKeepsUserMessage(t *testing.T) {
	responder := responderFunc(func(context.Context, []model.Message, string) (string, error) {
		return "", errors.New("quota exceeded")
	})
	f := newFixture(t, person("mira"), Options{Responder: responder})

	_, err := f.store.Send(model.AssistantConversationID, "hi")
	require.NoError(t, err)
	f.store.Wait()

	c, _ := f.store.Get(model.AssistantConversationID)
	assert.Len(t, c.Messages, 2)
}

func TestStartConversation(t *testing.T) {
	f := newFixture(t, person("mira"), Options{})

	c, err := f.store.StartConversation(person("bob"))
	require.NoError(t, err)
	assert.Equal(t, "bob--mira", c.ID)
	assert.Equal(t, []string{"mira", "bob"}, c.Participants)

	again, err := f.store.StartConversation(person("bob"))
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
	assert.Len(t, f.store.Conversations(), 2)
	assert.Equal(t, "bob--mira", f.store.Conversations()[0].ID)

	_, err = f.store.StartConversation(person("mira"))
	assert.ErrorIs(t, err, ErrInvalidPeer)
	_, err = f.store.StartConversation(model.Identity{})
	assert.ErrorIs(t, err, ErrInvalidPeer)
}

func TestTyping_OnlyFocusedConversation(t *testing.T) {
	f := newFixture(t, person("mira"), Options{})
	_, err := f.store.StartConversation(person("bob"))
	require.NoError(t, err)

	f.store.RecordTyping("bob", "bob--mira", true)
	f.store.RecordTyping("zoe", "mira--zoe", true)
	f.store.RecordTyping("mira", "bob--mira", true)
	assert.Equal(t, []string{"bob"}, f.store.TypingUsers())

	f.store.RecordTyping("bob", "bob--mira", false)
	assert.Empty(t, f.store.TypingUsers())

	f.store.RecordTyping("bob", "bob--mira", true)
	require.NoError(t, f.store.Focus(model.AssistantConversationID))
	assert.Empty(t, f.store.TypingUsers(), "focus change clears typing")
}

func TestSetTyping_PublishesOnlyForDM(t *testing.T) {
	f := newFixture(t, person("mira"), Options{})

	f.store.SetTyping(true)
	assert.Empty(t, f.channel.published())

	_, err := f.store.StartConversation(person("bob"))
	require.NoError(t, err)
	f.store.SetTyping(true)

	events := f.channel.published()
	require.Len(t, events, 1)
	assert.Equal(t, &model.TypingEvent{UserID: "mira", ConversationID: "bob--mira", IsTyping: true}, events[0])
}

func TestScenario_MessageReachesOtherPeerOverChannel(t *testing.T) {
	hub := realtime.NewHub(nil)
	miraCh := hub.Open(realtime.DefaultChannelName)
	bobCh := hub.Open(realtime.DefaultChannelName)
	defer miraCh.Close()
	defer bobCh.Close()

	mira := newFixture(t, person("mira"), Options{Channel: miraCh})
	bob := newFixture(t, person("bob"), Options{Channel: bobCh})

	bobCh.Subscribe(func(ev model.Event) {
		if m, ok := ev.(*model.MessageEvent); ok {
			bob.store.MergeInboundMessage(m.ConversationID, m.Message)
		}
	})

	_, err := mira.store.StartConversation(person("bob"))
	require.NoError(t, err)
	require.NoError(t, mira.store.ApplyLocalMessage("bob--mira", model.Message{
		ID: "m1", SenderID: "mira", SenderName: "Mira", Text: "hi", Timestamp: 1, Type: model.MessageTypeText,
	}))

	require.Eventually(t, func() bool {
		_, ok := bob.store.Get("bob--mira")
		return ok
	}, time.Second, 5*time.Millisecond)

	c, _ := bob.store.Get("bob--mira")
	require.Len(t, c.Messages, 1)
	assert.Equal(t, "m1", c.Messages[0].ID)
	assert.Equal(t, "hi", c.Messages[0].Text)
}
