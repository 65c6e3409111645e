// Package watch fans session changes out to subscribed clients.
package watch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Notification is a message pushed to a subscriber.
type Notification struct {
	Method string
	Params any
}

// Notifier delivers notifications to one client. Websocket connections
// implement it over JSON-RPC.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// maxNotifyFailures is how many consecutive failed deliveries evict a
// subscriber.
const maxNotifyFailures = 3

type subscriber struct {
	id       string
	notifier Notifier
	failures int
}

// registry tracks the subscribers of one stream.
type registry struct {
	prefix string

	mu   sync.Mutex
	subs map[string]*subscriber
}

func newRegistry(prefix string) *registry {
	return &registry{prefix: prefix, subs: make(map[string]*subscriber)}
}

func (r *registry) add(n Notifier) string {
	id := r.prefix + "_" + uuid.Must(uuid.NewV7()).String()
	r.mu.Lock()
	r.subs[id] = &subscriber{id: id, notifier: n}
	r.mu.Unlock()
	return id
}

func (r *registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[id]
	delete(r.subs, id)
	return ok
}

// removeNotifier drops every subscription held by one client.
func (r *registry) removeNotifier(n Notifier) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, sub := range r.subs {
		if sub.notifier == n {
			delete(r.subs, id)
			removed++
		}
	}
	return removed
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *registry) snapshot() []*subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	return out
}

// broadcast sends method to every subscriber, building params per
// subscription id, and returns how many deliveries succeeded.
func (r *registry) broadcast(ctx context.Context, method string, params func(id string) any) int {
	delivered := 0
	for _, sub := range r.snapshot() {
		err := sub.notifier.Notify(ctx, Notification{Method: method, Params: params(sub.id)})
		if r.record(sub, err) {
			delivered++
		}
	}
	return delivered
}

// record updates the failure streak and evicts the subscriber once it
// reaches maxNotifyFailures.
func (r *registry) record(sub *subscriber, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		sub.failures = 0
		return true
	}
	sub.failures++
	slog.Debug("failed to notify subscriber", "id", sub.id, "failures", sub.failures, "error", err)
	if sub.failures >= maxNotifyFailures {
		delete(r.subs, sub.id)
		slog.Info("evicted unresponsive subscriber", "id", sub.id)
	}
	return false
}
