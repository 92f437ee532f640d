package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alexanderbartels/marble/effect"
	"github.com/alexanderbartels/marble/errors"
	"github.com/alexanderbartels/marble/event"
)

var _ effect.Client = (*Client)(nil)

// writeTimeout bounds a single socket write so one stalled client cannot
// wedge a broadcast.
const writeTimeout = 10 * time.Second

// Client wraps a raw transport socket with the capabilities the effect
// pipelines need: per-event responses, fan-out to all live clients, and the
// liveness flag toggled by the heartbeat protocol. It is created at
// connection-accept time and mutated only by the lifecycle manager and the
// pipelines bound to it.
type Client struct {
	id          string
	conn        *websocket.Conn
	registry    *Registry
	transformer event.Transformer

	alive       atomic.Bool
	closed      atomic.Bool
	closeOnce   sync.Once
	writeMu     sync.Mutex
	connectedAt time.Time
}

func newClient(id string, conn *websocket.Conn, registry *Registry, transformer event.Transformer) *Client {
	client := &Client{
		id:          id,
		conn:        conn,
		registry:    registry,
		transformer: transformer,
		connectedAt: time.Now(),
	}
	client.alive.Store(true)
	return client
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string {
	return c.id
}

// IsAlive reports the heartbeat liveness flag.
func (c *Client) IsAlive() bool {
	return c.alive.Load()
}

// SendResponse encodes one event with the active transformer and writes it
// to this connection's socket.
func (c *Client) SendResponse(ev event.Event) error {
	if c.closed.Load() {
		return errors.ErrConnectionClosed
	}

	data, err := c.transformer.Encode(ev)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

// SendBroadcastResponse fans the event out to all currently connected,
// alive clients through the shared registry.
func (c *Client) SendBroadcastResponse(ev event.Event) error {
	return c.registry.Broadcast(ev)
}

// write performs one socket write under the connection's write lock; the
// underlying library does not tolerate concurrent writes.
func (c *Client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		return errors.WrapPipeline(err, "Client", "write", "socket write")
	}
	return nil
}

// ping sends one heartbeat probe.
func (c *Client) ping() error {
	return c.write(websocket.PingMessage, nil)
}

// terminate closes the socket and removes the client from the registry.
// Safe to call multiple times; cleanup happens exactly once.
func (c *Client) terminate() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.alive.Store(false)
		c.registry.remove(c.id)
		_ = c.conn.Close()
	})
}
