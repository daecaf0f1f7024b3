// Package registry implements the client registry and broadcast bus
// (spec §4.7): the set of currently connected clients, and the fan-out
// of a newly accepted event to each client's matching subscriptions.
// It replaces the teacher's relay.clients map plus broadcastEvent,
// which held a single mutex across the whole fan-out loop; here add
// and remove are only serialized against broadcast, and delivery to
// each client runs on its own goroutine so one slow client cannot
// stall the others (spec §4.7 "per-client independent task dispatch").
package registry

import (
	"sync"

	"github.com/paul/glienicke/pkg/event"
	"github.com/paul/glienicke/pkg/subscription"
)

// Client is anything the registry can broadcast to: a connected
// client's set of live subscriptions.
type Client interface {
	Subscriptions() []*subscription.Subscription
}

// Registry tracks connected clients and fans events out to them.
type Registry struct {
	mu      sync.RWMutex
	clients map[Client]struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{clients: make(map[Client]struct{})}
}

// Add registers a client.
func (r *Registry) Add(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c] = struct{}{}
}

// Remove unregisters a client. Idempotent.
func (r *Registry) Remove(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, c)
}

// Len reports the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Clients returns a snapshot of every registered client.
func (r *Registry) Clients() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	return clients
}

// Broadcast offers evt to every registered client's matching
// subscriptions. Each client is dispatched on its own goroutine and
// Broadcast waits for all of them to finish enqueueing before
// returning, so callers see a consistent snapshot of "delivered to
// every currently connected client's queues" without holding the
// registry lock during any queue send.
func (r *Registry) Broadcast(evt *event.Event) {
	r.mu.RLock()
	clients := make([]Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, sub := range c.Subscriptions() {
				if sub.Matches(evt) {
					sub.Enqueue(evt)
				}
			}
		}()
	}
	wg.Wait()
}
