package websocket

import (
	"sync"

	"github.com/alexanderbartels/marble/effect"
	"github.com/alexanderbartels/marble/errors"
	"github.com/alexanderbartels/marble/event"
)

// connection owns the per-connection state machine: the frame listener, the
// inbound (middleware) pipeline, and the outbound (effects) pipeline. Both
// pipelines are resubscribed lazily after a failure, so a single bad event
// degrades the pipeline without tearing down the connection.
type connection struct {
	listener *Listener
	client   *Client
	ectx     *effect.Context

	// mu guards the subscription pointers; the consumer goroutines read
	// them while the frame listener swaps them at rearm time.
	mu       sync.Mutex
	inbound  *subscription
	outbound *subscription
}

func newConnection(listener *Listener, client *Client, ectx *effect.Context) *connection {
	c := &connection{
		listener: listener,
		client:   client,
		ectx:     ectx,
	}
	c.inbound = c.subscribeInbound()
	c.outbound = c.subscribeOutbound()
	return c
}

// run is the frame listener. It reads until the socket closes, decoding
// each frame and dispatching it into the inbound pipeline. Decode failures
// are recovered locally; the connection survives them.
func (c *connection) run() {
	defer c.cleanup()

	conn := c.client.conn
	conn.SetPongHandler(func(string) error {
		c.client.alive.Store(true)
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		ev, derr := c.listener.transformer.Decode(data)
		if derr != nil {
			c.listener.trackError("decode")
			c.reportError(event.Error(event.TypeError, nil, derr))
			continue
		}
		c.dispatch(ev)
	}
}

// dispatch rearms whichever pipeline has terminated, then forwards the
// event. The exhausted check happens here, on arrival of a new inbound
// frame, never inside the pipelines themselves.
func (c *connection) dispatch(ev event.Event) {
	c.mu.Lock()
	if c.inbound.isExhausted() {
		c.inbound.release()
		c.inbound = c.subscribeInbound()
		c.listener.trackResubscription("inbound")
	}
	if c.outbound.isExhausted() {
		c.outbound.release()
		c.outbound = c.subscribeOutbound()
		c.listener.trackResubscription("outbound")
	}
	inbound := c.inbound
	c.mu.Unlock()

	inbound.push(ev)
}

// subscribeInbound binds a fresh event channel to the combined middleware
// chain. The chain's output feeds the outbound pipeline.
func (c *connection) subscribeInbound() *subscription {
	sub := newSubscription()
	out := c.listener.middleware(sub.in, c.ectx)
	go c.consumeInbound(sub, out)
	return sub
}

func (c *connection) consumeInbound(sub *subscription, out <-chan event.Event) {
	defer sub.markExhausted()

	for ev := range out {
		if ev.IsError() {
			// Flag exhaustion before the failure frame goes out so a
			// client reacting to it immediately triggers a rearm.
			sub.markExhausted()
			c.listener.trackError("pipeline")
			c.reportError(ev)
			go discard(out)
			return
		}
		c.forwardOutbound(ev)
	}
}

// discard drains the remainder of a terminated chain's output. Events may
// still be queued behind the failing one; without a reader the chain's
// stage goroutines would block on their send forever and never observe the
// input close from release.
func discard(out <-chan event.Event) {
	for range out {
	}
}

// forwardOutbound pushes a middleware-processed event into the connection's
// own event channel. If the outbound subscription terminated concurrently
// the event is dropped; the next inbound frame rearms the pipeline.
func (c *connection) forwardOutbound(ev event.Event) {
	c.mu.Lock()
	outbound := c.outbound
	c.mu.Unlock()

	outbound.push(ev)
}

// subscribeOutbound binds a fresh event channel to the combined effects
// chain and the output transformer, terminating in socket writes.
func (c *connection) subscribeOutbound() *subscription {
	sub := newSubscription()
	out := c.listener.effects(sub.in, c.ectx)
	if c.listener.output != nil {
		out = c.listener.output(out, c.ectx)
	}
	go c.consumeOutbound(sub, out)
	return sub
}

func (c *connection) consumeOutbound(sub *subscription, out <-chan event.Event) {
	defer sub.markExhausted()

	for ev := range out {
		if ev.IsError() {
			sub.markExhausted()
			c.listener.trackError("pipeline")
			c.reportError(ev)
			go discard(out)
			return
		}

		if err := c.client.SendResponse(ev); err != nil {
			if err == errors.ErrConnectionClosed {
				go discard(out)
				return
			}
			if errors.IsTransform(err) {
				// Encode failure: handled like a pipeline error on the
				// outbound side.
				sub.markExhausted()
				c.listener.trackError("encode")
				c.reportError(event.Error(ev.Type, nil, err))
				go discard(out)
				return
			}
			c.listener.trackError("send")
			c.listener.logger.Warn("outbound write failed",
				"client", c.client.id, "error", err)
			go discard(out)
			return
		}
	}
}

// reportError routes one error-tagged event through the error stage and
// writes the resulting failure event to the client. The error is reported
// exactly once, at the moment it occurs.
func (c *connection) reportError(ev event.Event) {
	in := make(chan event.Event, 1)
	in <- ev
	close(in)

	for failure := range c.listener.errorStage(in, c.ectx) {
		if err := c.client.SendResponse(failure); err != nil && err != errors.ErrConnectionClosed {
			c.listener.logger.Warn("error report write failed",
				"client", c.client.id, "error", err)
		}
	}
}

// cleanup releases both pipeline subscriptions and detaches the client.
// After this no further events are accepted for the connection.
func (c *connection) cleanup() {
	c.mu.Lock()
	c.inbound.release()
	c.outbound.release()
	c.mu.Unlock()

	c.client.terminate()
	c.listener.connectionClosed()
}
