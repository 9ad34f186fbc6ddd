package realtime

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/aura-chat/peernet/internal/model"
	"github.com/aura-chat/peernet/pkg/logger"
	"github.com/aura-chat/peernet/pkg/metrics"
)

const (
	transportNATS = "nats"

	// SubjectPrefix prefixes the NATS subject of every realtime channel.
	SubjectPrefix = "aura.realtime"

	// OriginHeader carries the publishing endpoint id so an endpoint can
	// skip its own events.
	OriginHeader = "Aura-Origin"
)

// Subject returns the NATS subject used for a channel name.
func Subject(name string) string {
	r := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	return SubjectPrefix + "." + r.Replace(name)
}

// NATSChannel is a channel endpoint on a NATS subject. All events for the
// endpoint are handled on one subscription goroutine, in arrival order.
type NATSChannel struct {
	conn     *nats.Conn
	subject  string
	origin   string
	sub      *nats.Subscription
	handlers *handlerSet
	logger   *logger.Logger
	closed   atomic.Bool
	once     sync.Once
}

// NewNATSChannel subscribes to the channel's subject on conn.
func NewNATSChannel(conn *nats.Conn, name string, log *logger.Logger) (*NATSChannel, error) {
	log = logger.OrNop(log).Component("nats_channel")

	c := &NATSChannel{
		conn:     conn,
		subject:  Subject(name),
		origin:   uuid.NewString(),
		handlers: newHandlerSet(transportNATS, log),
		logger:   log,
	}

	sub, err := conn.Subscribe(c.subject, c.receive)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", c.subject, err)
	}
	c.sub = sub

	return c, nil
}

// Publish sends the event on the channel subject. Errors are logged only.
func (c *NATSChannel) Publish(event model.Event) {
	if c.closed.Load() {
		return
	}

	data, err := model.EncodeEvent(event)
	if err != nil {
		c.logger.Warn("failed to encode event", zap.Error(err))
		return
	}

	msg := nats.NewMsg(c.subject)
	msg.Header.Set(OriginHeader, c.origin)
	msg.Data = data

	if err := c.conn.PublishMsg(msg); err != nil {
		metrics.EventsDropped.WithLabelValues(transportNATS, "publish_failed").Inc()
		c.logger.Debug("publish failed", zap.String("subject", c.subject), zap.Error(err))
		return
	}
	metrics.EventsPublished.WithLabelValues(transportNATS, string(event.EventType())).Inc()
}

// Subscribe registers a handler on this endpoint.
func (c *NATSChannel) Subscribe(handler Handler) Unsubscribe {
	return c.handlers.add(handler)
}

// Close unsubscribes from the subject. The connection stays open.
func (c *NATSChannel) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		if c.sub != nil {
			err = c.sub.Unsubscribe()
		}
	})
	return err
}

func (c *NATSChannel) receive(msg *nats.Msg) {
	if c.closed.Load() {
		return
	}
	if msg.Header.Get(OriginHeader) == c.origin {
		return
	}
	ev, ok := decode(msg.Data, transportNATS, c.logger)
	if !ok {
		return
	}
	c.handlers.dispatch(ev)
}
