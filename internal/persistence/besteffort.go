package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/aura-chat/peernet/internal/model"
)

// DefaultWriteTimeout bounds each background write.
const DefaultWriteTimeout = 10 * time.Second

// BestEffort runs message writes in the background. Append never blocks on
// the network and never reports failure; the wrapped gateway logs instead.
type BestEffort struct {
	gateway Gateway
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewBestEffort wraps gw. A non-positive timeout uses DefaultWriteTimeout.
func NewBestEffort(gw Gateway, timeout time.Duration) *BestEffort {
	if gw == nil {
		gw = Offline{}
	}
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &BestEffort{gateway: gw, timeout: timeout}
}

// Append schedules a write of msg and returns immediately.
func (b *BestEffort) Append(conversationID string, msg model.Message) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		b.gateway.AppendMessage(ctx, conversationID, msg)
	}()
}

// Wait blocks until every scheduled write has finished.
func (b *BestEffort) Wait() {
	b.wg.Wait()
}
