// Package notify fans committed market events out to in-process subscribers.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/computemarket/cmkt/internal/models"
)

// DefaultBuffer is the per-subscriber queue length used when none is given.
const DefaultBuffer = 256

// Subscription receives events published after it was created. If the
// subscriber falls behind and its queue fills, the subscription is closed
// and Dropped reports true; the subscriber should resynchronize from the
// event log.
type Subscription struct {
	C <-chan models.Event

	id      uint64
	ch      chan models.Event
	hub     *Hub
	dropped atomic.Bool
}

// Dropped reports whether the hub closed the subscription for lagging.
func (s *Subscription) Dropped() bool {
	return s.dropped.Load()
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s.id)
}

// Hub is a non-blocking broadcaster. Publish never waits on a subscriber.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a new subscriber with the given queue length.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan models.Event, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{C: ch, id: h.nextID, ch: ch, hub: h}
	h.subs[sub.id] = sub
	return sub
}

// Publish delivers ev to every subscriber. Subscribers whose queue is full
// are dropped.
func (h *Hub) Publish(ev models.Event) {
	h.published.Add(1)

	var lagging []uint64
	h.mu.RLock()
	for id, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			lagging = append(lagging, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range lagging {
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			sub.dropped.Store(true)
			delete(h.subs, id)
			close(sub.ch)
			h.dropped.Add(1)
		}
		h.mu.Unlock()
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats returns counters for monitoring.
func (h *Hub) Stats() map[string]interface{} {
	return map[string]interface{}{
		"subscribers": h.Subscribers(),
		"published":   h.published.Load(),
		"dropped":     h.dropped.Load(),
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}
