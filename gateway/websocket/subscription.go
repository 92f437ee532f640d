package websocket

import (
	"sync"
	"sync/atomic"

	"github.com/alexanderbartels/marble/event"
)

// subscriptionBuffer sizes the input channel of one pipeline subscription.
// Events arriving while a consumer is shutting down sit here until the
// subscription is released.
const subscriptionBuffer = 16

// subscription is an active binding between an event channel and its
// consuming combinator chain. It is created lazily when a connection is
// established or when a prior subscription has terminated and a new event
// arrives, and it is considered exhausted once its consumer errors or
// completes.
type subscription struct {
	in        chan event.Event
	done      chan struct{}
	exhausted atomic.Bool
	doneOnce  sync.Once
	closeOnce sync.Once
}

func newSubscription() *subscription {
	return &subscription{
		in:   make(chan event.Event, subscriptionBuffer),
		done: make(chan struct{}),
	}
}

// push forwards one event to the consuming chain. It reports false when the
// subscription terminated before the event could be delivered; the event is
// dropped and the next inbound frame triggers a resubscription.
func (s *subscription) push(ev event.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.in <- ev:
		return true
	case <-s.done:
		return false
	}
}

// markExhausted flags the subscription as terminated. Called by the
// consumer goroutine on error or completion; never closes the input channel
// because the producer side may still be pushing.
func (s *subscription) markExhausted() {
	s.exhausted.Store(true)
	s.doneOnce.Do(func() { close(s.done) })
}

// isExhausted reports whether the subscription has terminated.
func (s *subscription) isExhausted() bool {
	return s.exhausted.Load()
}

// release is the producer-side unsubscribe: it marks the subscription
// exhausted and closes the input channel so every stage goroutine of the
// chain drains and exits. Idempotent and safe to call after the consumer
// already terminated. Only the producing goroutine may call it.
func (s *subscription) release() {
	s.markExhausted()
	s.closeOnce.Do(func() { close(s.in) })
}
