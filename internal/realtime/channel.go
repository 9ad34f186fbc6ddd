// Package realtime distributes realtime events between peers sharing a named
// channel. Delivery is asynchronous and best effort: no acknowledgement, no
// retry, no echo back to the publishing instance. When the underlying bus is
// unavailable every operation degrades to a no-op.
package realtime

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-chat/peernet/internal/model"
	"github.com/aura-chat/peernet/pkg/logger"
	"github.com/aura-chat/peernet/pkg/metrics"
)

// DefaultChannelName is the channel shared by every peer unless configured.
const DefaultChannelName = "aura_realtime_network"

// Handler receives events published by other instances on the channel.
type Handler func(model.Event)

// Unsubscribe removes a handler. Calling it more than once is safe.
type Unsubscribe func()

// Channel is a named publish/subscribe endpoint owned by a single peer.
type Channel interface {
	// Publish delivers the event to every other instance on the channel.
	// It never blocks on subscribers and never reports failure.
	Publish(event model.Event)
	// Subscribe registers a handler invoked once per event received.
	Subscribe(handler Handler) Unsubscribe
	// Close detaches the endpoint. Further Publish calls are no-ops.
	Close() error
}

// handlerSet is the subscriber registry shared by channel implementations.
type handlerSet struct {
	mu        sync.RWMutex
	handlers  map[string]Handler
	order     []string
	transport string
	logger    *logger.Logger
}

func newHandlerSet(transport string, log *logger.Logger) *handlerSet {
	return &handlerSet{
		handlers:  make(map[string]Handler),
		transport: transport,
		logger:    log,
	}
}

func (s *handlerSet) add(h Handler) Unsubscribe {
	id := uuid.NewString()

	s.mu.Lock()
	s.handlers[id] = h
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *handlerSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.handlers, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// dispatch invokes every handler in registration order. A panicking handler
// is logged and skipped; it stays subscribed.
func (s *handlerSet) dispatch(ev model.Event) {
	s.mu.RLock()
	targets := make([]Handler, 0, len(s.order))
	for _, id := range s.order {
		targets = append(targets, s.handlers[id])
	}
	s.mu.RUnlock()

	metrics.EventsDelivered.WithLabelValues(s.transport, string(ev.EventType())).Inc()
	for _, h := range targets {
		s.invoke(h, ev)
	}
}

func (s *handlerSet) invoke(h Handler, ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.EventsDropped.WithLabelValues(s.transport, "handler_panic").Inc()
			s.logger.Error("realtime handler panicked",
				zap.String("event_type", string(ev.EventType())),
				zap.Any("panic", r),
			)
		}
	}()
	h(ev)
}

// decode turns wire bytes into an event, counting and logging rejects.
func decode(data []byte, transport string, log *logger.Logger) (model.Event, bool) {
	ev, err := model.DecodeEvent(data)
	if err != nil {
		metrics.EventsDropped.WithLabelValues(transport, "malformed").Inc()
		log.Debug("ignoring realtime event", zap.Error(err))
		return nil, false
	}
	return ev, true
}

// Noop is the channel used when no bus is available. It keeps the peer
// working in single-instance mode.
type Noop struct{}

// Publish does nothing.
func (Noop) Publish(model.Event) {}

// Subscribe registers nothing and returns a no-op Unsubscribe.
func (Noop) Subscribe(Handler) Unsubscribe { return func() {} }

// Close does nothing.
func (Noop) Close() error { return nil }
