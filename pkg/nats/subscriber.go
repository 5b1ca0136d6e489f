package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"lumina-be/pkg/events"

	"github.com/nats-io/nats.go"
)

// EventHandler is a function that processes an event.
type EventHandler func(ctx context.Context, event events.Event) error

// Subscriber listens for events on the NATS bus. Used by tools watching alerts from
// outside the server process.
type Subscriber struct {
	nc   *nats.Conn
	subs []*nats.Subscription
}

func NewSubscriber(url string) (*Subscriber, error) {
	nc, err := connect(url, "lumina-subscriber")
	if err != nil {
		return nil, err
	}
	return &Subscriber{nc: nc}, nil
}

// Subscribe registers handler for every event whose type matches eventType ("*" for all).
// Messages that fail to decode or whose handler fails are dropped; there is no redelivery.
func (s *Subscriber) Subscribe(eventType string, handler EventHandler, onError func(subject string, err error)) error {
	sub, err := s.nc.Subscribe(Subject(eventType), func(msg *nats.Msg) {
		event, err := decode(msg)
		if err == nil {
			err = handler(context.Background(), event)
		}
		if err != nil && onError != nil {
			onError(msg.Subject, err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

func decode(msg *nats.Msg) (events.Event, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode event data: %w", err)
	}

	occurredAt := time.Now()
	if msg.Header != nil {
		if ts, err := time.Parse(time.RFC3339Nano, msg.Header.Get("Occurred-At")); err == nil {
			occurredAt = ts
		}
	}

	return events.BaseEvent{
		Type:       strings.TrimPrefix(msg.Subject, "events."),
		Data:       payload,
		OccurredAt: occurredAt,
	}, nil
}

// Close closes the connection.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
	}
}
