package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"lumina-be/internal/dto"
	"lumina-be/internal/pkg/logger"
	"lumina-be/internal/websocket"
	"lumina-be/pkg/events"
	"lumina-be/pkg/facilitation"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const alertModule = "ALERT_SERVICE"

var ErrEmptyAlert = errors.New("alert message is required")

// SupervisorBroadcaster is the part of the hub the alert relay needs.
type SupervisorBroadcaster interface {
	Broadcast(category websocket.Category, v any) (int, error)
	Count(category websocket.Category) int
}

// EventPublisher forwards events outside the process. Typically the NATS publisher.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type IAlertService interface {
	RaiseAlert(ctx context.Context, alert facilitation.SupervisorAlert) error
	SupervisorCount() int
	Consume(ctx context.Context) error
}

// AlertService is the supervisor alert bus. Sessions and the HTTP ingress publish onto an
// in-process topic; Consume relays each alert to every live supervisor connection.
type AlertService struct {
	pubSub    *gochannel.GoChannel
	topicName string
	hub       SupervisorBroadcaster
	external  EventPublisher
	logger    logger.ILogger
}

// NewAlertService builds the bus. external may be nil.
func NewAlertService(pubSub *gochannel.GoChannel, topicName string, hub SupervisorBroadcaster, external EventPublisher, log logger.ILogger) *AlertService {
	return &AlertService{
		pubSub:    pubSub,
		topicName: topicName,
		hub:       hub,
		external:  external,
		logger:    log,
	}
}

func (s *AlertService) SupervisorCount() int {
	return s.hub.Count(websocket.CategorySupervisor)
}

// RaiseAlert implements facilitation.AlertSink.
func (s *AlertService) RaiseAlert(ctx context.Context, alert facilitation.SupervisorAlert) error {
	if strings.TrimSpace(alert.Message) == "" {
		return ErrEmptyAlert
	}
	if alert.Type == "" {
		alert.Type = facilitation.AlertTypeManual
	}

	payload, err := json.Marshal(dto.AlertMessage{Type: alert.Type, Payload: alert})
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("alert_type", alert.Type)
	if alert.GroupID != "" {
		msg.Metadata.Set("group_id", alert.GroupID)
	}
	msg.SetContext(ctx)

	return s.pubSub.Publish(s.topicName, msg)
}

func (s *AlertService) Consume(ctx context.Context) error {
	messages, err := s.pubSub.Subscribe(ctx, s.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			s.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (s *AlertService) processMessage(ctx context.Context, msg *message.Message) {
	var alert dto.AlertMessage
	if err := json.Unmarshal(msg.Payload, &alert); err != nil {
		s.logger.Error(alertModule, "Dropping undecodable alert", map[string]interface{}{
			"message_uuid": msg.UUID,
			"error":        err.Error(),
		})
		msg.Ack()
		return
	}

	delivered, err := s.hub.Broadcast(websocket.CategorySupervisor, json.RawMessage(msg.Payload))
	if err != nil {
		s.logger.Error(alertModule, "Broadcast failed", map[string]interface{}{
			"message_uuid": msg.UUID,
			"error":        err.Error(),
		})
		msg.Ack()
		return
	}

	s.logger.Info(alertModule, "Alert relayed", map[string]interface{}{
		"type":      alert.Type,
		"group_id":  alert.Payload.GroupID,
		"delivered": delivered,
	})

	if s.external != nil {
		ev := events.NewSupervisorAlert(alert.Type, alert.Payload.GroupID, alert.Payload.Message, alert.Payload.Intervention, time.Now())
		pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := s.external.Publish(pubCtx, ev); err != nil {
			s.logger.Warn(alertModule, "Failed to forward alert", map[string]interface{}{"error": err.Error()})
		}
		cancel()
	}

	msg.Ack()
}
