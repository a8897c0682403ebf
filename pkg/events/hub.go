package events

import (
	"context"
	"sync"

	"github.com/dmitrymomot/subkit/pkg/subscription"
)

// Subscription is one consumer's feed of domain events. It must be closed
// (or its context canceled) when the consumer is done.
type Subscription struct {
	ch     chan subscription.Event
	closed bool
	mu     sync.RWMutex
}

func newSubscription(bufferSize int) *Subscription {
	return &Subscription{
		ch: make(chan subscription.Event, bufferSize),
	}
}

// Events returns the receive channel. It is closed when the subscription or
// the hub shuts down.
func (s *Subscription) Events() <-chan subscription.Event {
	return s.ch
}

// Close releases the subscription. Idempotent.
func (s *Subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.ch)
		s.closed = true
	}
	return nil
}

func (s *Subscription) send(evt subscription.Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

// Hub fans domain events out to in-process consumers. It implements
// subscription.Sink, so it plugs straight into the engine. Delivery is
// non-blocking: when a consumer's buffer is full the event is dropped for
// that consumer and the subscription is torn down, so a stuck consumer can
// never stall a subscription action.
type Hub struct {
	subs       map[*Subscription]struct{}
	bufferSize int
	closed     bool
	done       chan struct{}
	mu         sync.RWMutex
	cleanupWg  sync.WaitGroup
}

// NewHub creates an in-process event hub. bufferSize is each consumer's
// channel capacity; a minimum of 1 is enforced to keep sends non-blocking.
func NewHub(bufferSize int) *Hub {
	return &Hub{
		subs:       make(map[*Subscription]struct{}),
		bufferSize: max(bufferSize, 1),
		done:       make(chan struct{}),
	}
}

// Subscribe registers a consumer. The subscription is cleaned up when ctx
// is canceled. Subscribing to a closed hub yields an already-closed
// subscription.
func (h *Hub) Subscribe(ctx context.Context) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := newSubscription(h.bufferSize)
	if h.closed {
		_ = sub.Close()
		return sub
	}
	h.subs[sub] = struct{}{}

	if ctx.Done() != nil {
		h.cleanupWg.Add(1)
		go func() {
			defer h.cleanupWg.Done()
			select {
			case <-ctx.Done():
				h.unsubscribe(sub)
			case <-h.done:
				// Close already tore every subscription down.
			}
		}()
	}

	return sub
}

// Publish delivers the events to every active consumer. It never fails and
// never blocks; slow consumers lose events instead.
func (h *Hub) Publish(ctx context.Context, events ...subscription.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil
	}

	for _, evt := range events {
		for sub := range h.subs {
			if !sub.send(evt) {
				// Detach slow or closed consumers without holding up the
				// publish; the write lock is taken off this goroutine.
				go h.unsubscribe(sub)
			}
		}
	}

	return nil
}

// Close shuts the hub down and closes every subscription. Idempotent.
func (h *Hub) Close() error {
	h.mu.Lock()

	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.done)

	for sub := range h.subs {
		_ = sub.Close()
	}
	clear(h.subs)
	h.mu.Unlock()

	h.cleanupWg.Wait()

	return nil
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs, sub)
	_ = sub.Close()
}
