package effect

import (
	"github.com/alexanderbartels/marble/event"
)

// Client is the per-connection capability surface attached to WebSocket
// effect contexts. It is exclusively owned by the connection's pipelines;
// no other connection's code path may touch it. HTTP contexts carry no
// client.
type Client interface {
	// ID returns the connection's unique identifier.
	ID() string
	// SendResponse encodes one event with the active transformer and writes
	// it to this connection's socket.
	SendResponse(ev event.Event) error
	// SendBroadcastResponse fans the event out to all currently connected,
	// alive clients. Per-client write failures are isolated.
	SendBroadcastResponse(ev event.Event) error
	// IsAlive reports the liveness flag toggled by the heartbeat protocol.
	IsAlive() bool
}

// Context is the EffectContext passed to every stage invocation: a shared
// read-only dependency lookup plus an optional per-connection client
// reference. The lookup table is fixed at construction; contexts derived
// with WithClient share it without copying.
type Context struct {
	deps   map[string]any
	client Client
}

// NewContext builds the process-wide effect context from a dependency table.
// The table is treated as read-only after this call; concurrent Ask calls
// from every connection require no locking.
func NewContext(deps map[string]any) *Context {
	return &Context{deps: deps}
}

// Ask looks up a registered dependency by key.
func (c *Context) Ask(key string) (any, bool) {
	dep, ok := c.deps[key]
	return dep, ok
}

// Client returns the per-connection client, or nil for HTTP pipelines.
func (c *Context) Client() Client {
	return c.client
}

// WithClient derives a connection-scoped context sharing the same dependency
// table. The listener calls this once at connection-accept time.
func (c *Context) WithClient(client Client) *Context {
	return &Context{deps: c.deps, client: client}
}
