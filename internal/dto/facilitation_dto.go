package dto

import (
	"encoding/json"
	"time"

	"lumina-be/pkg/facilitation"
)

// Inbound message types on a group connection.
const (
	InboundInit    = "INIT"
	InboundAck     = "ACK"
	InboundDismiss = "DISMISS"
)

// InboundEnvelope is every text frame a group connection may send.
type InboundEnvelope struct {
	Type    string          `json:"type" validate:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type InitPayload struct {
	StudentNames   []string `json:"studentNames" validate:"required,min=1,dive,required"`
	DiscussionMode string   `json:"discussionMode,omitempty" validate:"omitempty,oneof=Breadth Depth"`
	Prompt         string   `json:"prompt,omitempty" validate:"max=2000"`
}

func (p InitPayload) ToEvent() facilitation.Init {
	return facilitation.Init{
		Participants: p.StudentNames,
		Mode:         facilitation.Mode(p.DiscussionMode),
		Prompt:       p.Prompt,
	}
}

type AlertRequest struct {
	Message string `json:"message" validate:"required"`
}

// AlertMessage is the frame supervisors receive.
type AlertMessage struct {
	Type    string                       `json:"type"`
	Payload facilitation.SupervisorAlert `json:"payload"`
}

type AlertResponse struct {
	Status      string `json:"status"`
	Supervisors int    `json:"supervisors"`
}

type GroupsResponse struct {
	Data  []facilitation.Snapshot `json:"data"`
	Total int                     `json:"total"`
}

type HealthResponse struct {
	Status      string    `json:"status"`
	Groups      int       `json:"groups"`
	Supervisors int       `json:"supervisors"`
	Time        time.Time `json:"time"`
}
