package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lumina-be/pkg/events"

	"github.com/nats-io/nats.go"
)

// Subject returns the NATS subject an event type is published on.
func Subject(eventType string) string {
	return fmt.Sprintf("events.%s", eventType)
}

// Publisher forwards events to the NATS bus. Alerts are fire-and-forget, so it uses core
// publish and nothing is retained by the server.
type Publisher struct {
	nc *nats.Conn
}

// NewPublisher connects to url.
func NewPublisher(url string) (*Publisher, error) {
	nc, err := connect(url, "lumina-publisher")
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc}, nil
}

func connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// Publish sends an event's payload to events.<type>.
func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event.Payload())
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	subject := Subject(event.EventType())
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("Occurred-At", event.Timestamp().UTC().Format(time.RFC3339Nano))

	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish event to subject %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}
