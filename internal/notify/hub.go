// Package notify fans ingestion updates out to live subscribers.
//
// Delivery is at-most-once and best-effort: each subscriber owns a bounded
// queue, a full queue drops the message for that subscriber only, and a
// subscriber that joins after a broadcast never sees it. A subscriber whose
// queue stays full for MaxConsecutiveDrops broadcasts is removed and its
// channel closed, so a stalled client cannot hold a registry slot forever.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/couchcryptid/quake-feed-service/internal/domain"
	"github.com/couchcryptid/quake-feed-service/internal/observability"
	"github.com/google/uuid"
)

// DefaultBuffer is the per-subscriber queue depth used when none is given.
const DefaultBuffer = 64

// MaxConsecutiveDrops is how many broadcasts in a row a subscriber may miss
// before it is removed.
const MaxConsecutiveDrops = 3

// Subscription is one live subscriber. Receive from C until it is closed.
type Subscription struct {
	ID string
	C  <-chan domain.Update

	ch    chan domain.Update
	once  sync.Once
	drops atomic.Int32 // consecutive broadcasts dropped
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub is the subscriber registry. It is created at process start and
// closed at shutdown; Close ends every subscription.
//
// Thread Safety: Hub is safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	closed  bool
	buffer  int
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewHub creates a Hub whose subscribers queue up to buffer messages.
func NewHub(buffer int, logger *slog.Logger, metrics *observability.Metrics) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:    make(map[string]*Subscription),
		buffer:  buffer,
		logger:  logger,
		metrics: metrics,
	}
}

// Subscribe registers a new subscriber. Subscribing to a closed hub
// returns an already-closed subscription.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan domain.Update, h.buffer)
	sub := &Subscription{ID: uuid.NewString(), C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.close()
		return sub
	}
	h.subs[sub.ID] = sub
	h.metrics.Subscribers.Set(float64(len(h.subs)))
	h.logger.Debug("subscriber added", "subscription_id", sub.ID, "subscribers", len(h.subs))
	return sub
}

// SubscribeContext is Subscribe with automatic removal once ctx is done,
// typically when the client connection goes away.
func (h *Hub) SubscribeContext(ctx context.Context) *Subscription {
	sub := h.Subscribe()
	go func() {
		<-ctx.Done()
		h.Unsubscribe(sub)
	}()
	return sub
}

// Unsubscribe removes sub and closes its channel. It is idempotent.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.ID]; ok {
		delete(h.subs, sub.ID)
		h.metrics.Subscribers.Set(float64(len(h.subs)))
		h.logger.Debug("subscriber removed", "subscription_id", sub.ID, "subscribers", len(h.subs))
	}
	sub.close()
}

// Broadcast queues u for every current subscriber without blocking.
// It returns how many subscribers received it and how many were skipped
// because their queue was full. Subscribers that have now missed
// MaxConsecutiveDrops broadcasts are unsubscribed.
func (h *Hub) Broadcast(u domain.Update) (delivered, dropped int) {
	var stalled []*Subscription

	h.mu.RLock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- u:
			sub.drops.Store(0)
			delivered++
		default:
			dropped++
			n := sub.drops.Add(1)
			h.logger.Warn("subscriber queue full, update dropped", "subscription_id", sub.ID, "consecutive_drops", n)
			if n >= MaxConsecutiveDrops {
				stalled = append(stalled, sub)
			}
		}
	}
	h.mu.RUnlock()

	h.metrics.NotificationsDelivered.Add(float64(delivered))
	h.metrics.NotificationsDropped.Add(float64(dropped))

	for _, sub := range stalled {
		h.logger.Warn("subscriber stalled, removing", "subscription_id", sub.ID)
		h.Unsubscribe(sub)
	}
	return delivered, dropped
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription. Later subscriptions are closed on arrival.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, sub := range h.subs {
		sub.close()
		delete(h.subs, id)
	}
	h.metrics.Subscribers.Set(0)
}
