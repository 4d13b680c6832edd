// Package streaming provides in-memory pub/sub for live investigation events.
// The supervisor and the workflow engine publish every state change here;
// subscribers (the MCP notifier, warden run --watch) receive filtered feeds.
package streaming

import "context"

// Event is a real-time event emitted while an investigation runs.
type Event struct {
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	EventType  string `json:"event_type"`
	Payload    any    `json:"payload,omitempty"`
}

// Filter specifies which events a subscriber wants to receive.
// Zero-value fields match everything.
type Filter struct {
	EntityKind string   `json:"entity_kind,omitempty"`
	EntityID   string   `json:"entity_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// Hub provides pub/sub for real-time investigation events.
type Hub interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error)
}
