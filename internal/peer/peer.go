// Package peer runs one participant on the realtime network: it wires the
// channel, presence and conversation store together and routes every
// inbound event through a single dispatch point.
package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-chat/peernet/internal/conversation"
	"github.com/aura-chat/peernet/internal/model"
	"github.com/aura-chat/peernet/internal/persistence"
	"github.com/aura-chat/peernet/internal/presence"
	"github.com/aura-chat/peernet/internal/realtime"
	"github.com/aura-chat/peernet/internal/snapshot"
	"github.com/aura-chat/peernet/pkg/logger"
)

// Options configures a Peer. Zero values take package defaults.
type Options struct {
	Gateway           persistence.Gateway
	Snapshots         snapshot.Store
	Responder         conversation.Responder
	HeartbeatInterval time.Duration
	Directory         presence.DirectoryConfig
	Logger            *logger.Logger
}

// Peer is a running participant.
type Peer struct {
	identity  model.Identity
	channel   realtime.Channel
	beacon    *presence.Beacon
	directory *presence.Directory
	store     *conversation.Store
	logger    *logger.Logger

	mu          sync.Mutex
	running     bool
	unsubscribe realtime.Unsubscribe
	stopBeacon  presence.StopFunc
}

// New assembles a peer for identity on ch. Nothing runs until Start.
func New(identity model.Identity, ch realtime.Channel, opts Options) *Peer {
	if ch == nil {
		ch = realtime.Noop{}
	}
	log := logger.OrNop(opts.Logger).WithPeer(identity.ID, identity.Name)

	return &Peer{
		identity:  identity,
		channel:   ch,
		beacon:    presence.NewBeacon(ch, opts.HeartbeatInterval, log),
		directory: presence.NewDirectory(identity, ch, opts.Directory, log),
		store: conversation.NewStore(identity, conversation.Options{
			Channel:   ch,
			Gateway:   opts.Gateway,
			Snapshots: opts.Snapshots,
			Responder: opts.Responder,
			Logger:    opts.Logger,
		}),
		logger: log.Component("peer"),
	}
}

// Identity returns the session identity of this peer.
func (p *Peer) Identity() model.Identity { return p.identity }

// Store returns the conversation store.
func (p *Peer) Store() *conversation.Store { return p.store }

// Directory returns the presence directory.
func (p *Peer) Directory() *presence.Directory { return p.directory }

// Start loads conversations, subscribes to the channel, starts the
// heartbeat and the expiry sweep, and opens the first conversation.
// Calling Start on a running peer does nothing.
func (p *Peer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	if err := p.store.Load(ctx); err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	p.unsubscribe = p.channel.Subscribe(p.Dispatch)
	p.stopBeacon = p.beacon.Start(p.identity)
	p.directory.Start()
	if err := p.store.Focus(p.store.Focused()); err != nil {
		p.logger.Warn("failed to open initial conversation", zap.Error(err))
	}
	p.running = true

	p.logger.Info("peer started")
	return nil
}

// Dispatch routes one inbound event. Unknown event kinds are ignored.
func (p *Peer) Dispatch(ev model.Event) {
	switch e := ev.(type) {
	case *model.PresenceEvent:
		p.directory.Observe(e)
	case *model.MessageEvent:
		p.store.MergeInboundMessage(e.ConversationID, e.Message)
	case *model.TypingEvent:
		p.store.RecordTyping(e.UserID, e.ConversationID, e.IsTyping)
	default:
		p.logger.Debug("ignoring event", zap.Any("event", ev))
	}
}

// Stop halts the heartbeat and sweep, detaches from the channel and waits
// for background work. Safe to call more than once.
func (p *Peer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.running = false

	p.unsubscribe()
	p.stopBeacon()
	p.directory.Stop()
	p.store.Wait()

	p.logger.Info("peer stopped")
}
