package websocket

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/alexanderbartels/marble/errors"
	"github.com/alexanderbartels/marble/event"
)

// Registry tracks every live client of one listener and implements the
// broadcast fan-out.
type Registry struct {
	mu          sync.RWMutex
	clients     map[string]*Client
	transformer event.Transformer
	logger      *slog.Logger
}

// NewRegistry creates an empty client registry using the given wire
// transformer for broadcast encoding.
func NewRegistry(transformer event.Transformer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clients:     make(map[string]*Client),
		transformer: transformer,
		logger:      logger,
	}
}

func (r *Registry) add(client *Client) {
	r.mu.Lock()
	r.clients[client.id] = client
	r.mu.Unlock()
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.clients, id)
	r.mu.Unlock()
}

// Count returns the number of currently connected clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// snapshot returns the current client set without holding the lock during
// iteration by callers.
func (r *Registry) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// Broadcast encodes the event once and writes it to every currently
// connected, alive client. A failing client is logged and terminated; it
// never fails the broadcast for the remaining clients. Only an encode
// failure is returned.
func (r *Registry) Broadcast(ev event.Event) error {
	data, err := r.transformer.Encode(ev)
	if err != nil {
		return errors.WrapTransform(err, "Registry", "Broadcast", "encode event")
	}

	for _, client := range r.snapshot() {
		if client.closed.Load() || !client.alive.Load() {
			continue
		}
		if werr := client.write(websocket.TextMessage, data); werr != nil {
			r.logger.Warn("broadcast write failed, terminating client",
				"client", client.id, "error", werr)
			client.terminate()
		}
	}
	return nil
}
