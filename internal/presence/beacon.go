// Package presence implements the lossy liveness protocol between peers: a
// beacon that periodically announces the local identity and a directory of
// peers discovered from those announcements.
package presence

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-chat/peernet/internal/model"
	"github.com/aura-chat/peernet/internal/realtime"
	"github.com/aura-chat/peernet/pkg/logger"
)

// DefaultInterval is the heartbeat period.
const DefaultInterval = 3 * time.Second

// StopFunc halts a running heartbeat. Only the first call has an effect.
type StopFunc func()

// Beacon publishes PRESENCE events on a channel. Each identity has at most
// one running heartbeat; starting an identity again replaces its heartbeat.
type Beacon struct {
	channel  realtime.Channel
	interval time.Duration
	logger   *logger.Logger

	mu     sync.Mutex
	active map[string]*heartbeat
}

// heartbeat publishes under mu, so once halt returns nothing more is
// announced for it.
type heartbeat struct {
	mu      sync.Mutex
	stopped bool
	stop    chan struct{}
}

func (h *heartbeat) halt() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stopped {
		h.stopped = true
		close(h.stop)
	}
}

func (h *heartbeat) announce(ch realtime.Channel, identity model.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	ch.Publish(&model.PresenceEvent{User: identity})
}

// NewBeacon creates a beacon. A non-positive interval uses DefaultInterval.
func NewBeacon(ch realtime.Channel, interval time.Duration, log *logger.Logger) *Beacon {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Beacon{
		channel:  ch,
		interval: interval,
		logger:   logger.OrNop(log).Component("presence_beacon"),
		active:   make(map[string]*heartbeat),
	}
}

// Start announces identity immediately and then once per interval until the
// returned StopFunc is called.
func (b *Beacon) Start(identity model.Identity) StopFunc {
	hb := &heartbeat{stop: make(chan struct{})}

	b.mu.Lock()
	if prev, ok := b.active[identity.ID]; ok {
		prev.halt()
	}
	b.active[identity.ID] = hb
	b.mu.Unlock()

	hb.announce(b.channel, identity)
	go b.run(identity, hb)

	b.logger.Debug("heartbeat started",
		zap.String("identity_id", identity.ID),
		zap.Duration("interval", b.interval))

	return func() {
		hb.halt()
		b.mu.Lock()
		if b.active[identity.ID] == hb {
			delete(b.active, identity.ID)
		}
		b.mu.Unlock()
	}
}

// StopAll halts every running heartbeat.
func (b *Beacon) StopAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, hb := range b.active {
		hb.halt()
		delete(b.active, id)
	}
}

// Running reports how many heartbeats are active.
func (b *Beacon) Running() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active)
}

func (b *Beacon) run(identity model.Identity, hb *heartbeat) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-hb.stop:
			return
		case <-ticker.C:
			hb.announce(b.channel, identity)
		}
	}
}
