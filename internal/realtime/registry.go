package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrChannelClosed is returned when sending to a channel whose connection has gone away.
	ErrChannelClosed = errors.New("realtime: channel closed")
	// ErrBackpressure is returned when a channel's outbound buffer is full. The channel is closed.
	ErrBackpressure = errors.New("realtime: channel buffer full")
)

// Message is a JSON frame delivered to a live channel.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Channel is a live delivery path to one connected client.
type Channel interface {
	ID() string
	Send(ctx context.Context, message Message) error
}

// Registry maps an identity to its current live channel. Only the most recent
// registration per identity is kept.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Channel
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Channel)}
}

// Register stores ch as the live channel for identity, replacing any earlier one.
func (r *Registry) Register(identity string, ch Channel) {
	identity = strings.TrimSpace(identity)
	if identity == "" || ch == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[identity] = ch
}

// Unregister removes the entry whose stored channel is ch. A channel that was
// replaced by a newer registration is not found and nothing is removed.
func (r *Registry) Unregister(ch Channel) (string, bool) {
	if ch == nil {
		return "", false
	}
	id := ch.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	for identity, stored := range r.entries {
		if stored.ID() == id {
			delete(r.entries, identity)
			return identity, true
		}
	}
	return "", false
}

// Lookup returns the live channel for identity.
func (r *Registry) Lookup(identity string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.entries[strings.TrimSpace(identity)]
	return ch, ok
}

// Len reports the number of registered identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
