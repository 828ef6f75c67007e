package realtime

import (
	"context"
	"fmt"
)

// Dispatcher pushes payloads to recipients that currently hold a live channel.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher constructs a dispatcher backed by registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Push sends {event, data} to the recipient's live channel. It reports false
// with no error when the recipient is offline.
func (d *Dispatcher) Push(ctx context.Context, recipientID, event string, payload any) (bool, error) {
	if d == nil || d.registry == nil {
		return false, nil
	}

	ch, ok := d.registry.Lookup(recipientID)
	if !ok {
		return false, nil
	}

	if err := ch.Send(ctx, Message{Event: event, Data: payload}); err != nil {
		return false, fmt.Errorf("realtime: push %s to %s: %w", event, recipientID, err)
	}
	return true, nil
}
