package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/forensicdev/warden/internal/streaming"
	"github.com/mark3labs/mcp-go/server"
)

// InvestigatorNotifier pushes notifications to connected investigators.
type InvestigatorNotifier interface {
	Notify(ctx context.Context, investigatorID string, payload map[string]any) error
}

// Notifier bridges the streaming hub to MCP push notifications. Run
// subscribes to the hub and forwards every event to each connected
// session; Notify targets a single investigator.
type Notifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
	hub       streaming.Hub
	logger    *slog.Logger
}

// NewNotifier creates a notifier over the given hub and sessions.
func NewNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry, hub streaming.Hub, logger *slog.Logger) *Notifier {
	return &Notifier{mcpServer: mcpServer, sessions: sessions, hub: hub, logger: logger}
}

// Run forwards hub events to connected sessions until ctx ends or the
// subscription closes. Returns nil on a clean shutdown.
func (n *Notifier) Run(ctx context.Context) error {
	events, cancel, err := n.hub.Subscribe(ctx, streaming.Filter{})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			n.broadcast(ctx, ev)
		}
	}
}

// broadcast pushes one stream event to every registered session.
func (n *Notifier) broadcast(ctx context.Context, ev streaming.Event) {
	payload := map[string]any{
		"entity_kind": ev.EntityKind,
		"entity_id":   ev.EntityID,
		"event_type":  ev.EventType,
	}
	if ev.Payload != nil {
		payload["payload"] = ev.Payload
	}
	for _, sid := range n.sessions.Sessions() {
		if err := n.sendTo(sid, payload); err != nil {
			n.logger.WarnContext(ctx, "notification push failed",
				"session_id", sid, "event_type", ev.EventType, "error", err)
		}
	}
}

// Notify sends a payload to one investigator's session. Best-effort:
// an unconnected investigator is not an error.
func (n *Notifier) Notify(_ context.Context, investigatorID string, payload map[string]any) error {
	sid, ok := n.sessions.SessionFor(investigatorID)
	if !ok {
		return nil
	}
	return n.sendTo(sid, payload)
}

// sendTo pushes one notification, pruning the mapping when the session
// expired between lookup and send.
func (n *Notifier) sendTo(sessionID string, payload map[string]any) error {
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
