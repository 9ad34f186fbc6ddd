package realtime

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/aura-chat/peernet/internal/model"
	"github.com/aura-chat/peernet/pkg/logger"
	"github.com/aura-chat/peernet/pkg/metrics"
)

const (
	transportLocal = "local"

	// mailboxSize is the per-endpoint inbound buffer. Events beyond it are
	// dropped for that endpoint.
	mailboxSize = 256
)

// Hub is an in-process bus. Every LocalChannel opened with the same name
// receives the events published by the others.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*LocalChannel]struct{}
	logger   *logger.Logger
}

// NewHub creates an empty hub. Pass nil logger to discard logs.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		channels: make(map[string]map[*LocalChannel]struct{}),
		logger:   logger.OrNop(log).Component("local_hub"),
	}
}

// Open attaches a new endpoint to the named channel.
func (h *Hub) Open(name string) *LocalChannel {
	c := &LocalChannel{
		hub:      h,
		name:     name,
		handlers: newHandlerSet(transportLocal, h.logger),
		inbox:    make(chan []byte, mailboxSize),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if _, ok := h.channels[name]; !ok {
		h.channels[name] = make(map[*LocalChannel]struct{})
	}
	h.channels[name][c] = struct{}{}
	h.mu.Unlock()

	go c.run()
	return c
}

func (h *Hub) detach(c *LocalChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers, ok := h.channels[c.name]
	if !ok {
		return
	}
	delete(peers, c)
	if len(peers) == 0 {
		delete(h.channels, c.name)
	}
}

// peersOf returns every endpoint on the channel except from.
func (h *Hub) peersOf(from *LocalChannel) []*LocalChannel {
	h.mu.RLock()
	defer h.mu.RUnlock()

	peers := h.channels[from.name]
	out := make([]*LocalChannel, 0, len(peers))
	for c := range peers {
		if c != from {
			out = append(out, c)
		}
	}
	return out
}

// LocalChannel is one peer's endpoint on a Hub. Events from a given sender
// are handled in publish order; each endpoint has its own delivery goroutine.
type LocalChannel struct {
	hub      *Hub
	name     string
	handlers *handlerSet
	inbox    chan []byte
	done     chan struct{}
	closed   atomic.Bool
	once     sync.Once
}

// Publish serializes the event and enqueues it on every other endpoint.
// Receivers decode their own copy, so no state is shared between peers.
func (c *LocalChannel) Publish(event model.Event) {
	if c.closed.Load() {
		return
	}

	data, err := model.EncodeEvent(event)
	if err != nil {
		c.hub.logger.Warn("failed to encode event", zap.Error(err))
		return
	}
	metrics.EventsPublished.WithLabelValues(transportLocal, string(event.EventType())).Inc()

	for _, peer := range c.hub.peersOf(c) {
		peer.enqueue(data)
	}
}

func (c *LocalChannel) enqueue(data []byte) {
	if c.closed.Load() {
		return
	}
	select {
	case c.inbox <- data:
	default:
		metrics.EventsDropped.WithLabelValues(transportLocal, "mailbox_full").Inc()
		c.hub.logger.Debug("dropped event for slow endpoint", zap.String("channel", c.name))
	}
}

// Subscribe registers a handler on this endpoint.
func (c *LocalChannel) Subscribe(handler Handler) Unsubscribe {
	return c.handlers.add(handler)
}

// Close detaches the endpoint from the hub and stops delivery.
func (c *LocalChannel) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		c.hub.detach(c)
		close(c.done)
	})
	return nil
}

func (c *LocalChannel) run() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.inbox:
			ev, ok := decode(data, transportLocal, c.hub.logger)
			if !ok {
				continue
			}
			c.handlers.dispatch(ev)
		}
	}
}
