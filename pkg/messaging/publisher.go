package messaging

import (
	"context"

	"github.com/portops/berthplan/shared/events"
)

// EventSubject is the NATS subject every domain event travels on between
// daemons; one subject keeps ordering simple for the small number of
// subscribers (the gateway's inbound bridge) at this scale.
const EventSubject = "port.events"

// EventPublisher adapts a Client onto the Notifier interface each of
// internal/allocation, internal/conflict and internal/ingestor declares
// locally, so those packages stay free of a direct pkg/messaging import.
type EventPublisher struct {
	client *Client
}

// NewEventPublisher wraps client for outbound domain event publishing.
func NewEventPublisher(client *Client) *EventPublisher {
	return &EventPublisher{client: client}
}

// Publish implements Notifier: publishes evt to EventSubject, queuing
// through the Client's reconnect buffer on a transient outage rather than
// failing the caller.
func (p *EventPublisher) Publish(ctx context.Context, evt *events.BaseEvent) error {
	return p.client.Publish(ctx, EventSubject, evt)
}
