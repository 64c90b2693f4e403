// Package broadcast defines the port for publishing session transition
// events to subscribers (WebSocket clients, message queues).
package broadcast

import "context"

// Broadcaster delivers a typed event to all subscribers. Implementations
// must never block the orchestrator; delivery is best-effort.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Multi fans one broadcast out to several broadcasters.
type Multi []Broadcaster

// BroadcastEvent sends the event to every underlying broadcaster.
func (m Multi) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	for _, b := range m {
		b.BroadcastEvent(ctx, eventType, payload)
	}
}
