package events

import "time"

const (
	// SupervisorAlert is raised for every alert fanned out to supervisor dashboards.
	SupervisorAlert = "SUPERVISOR_ALERT"
)

// Event defines the contract for all events leaving the process.
type Event interface {
	// EventType returns the unique code for this event (e.g., "SUPERVISOR_ALERT").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// NewSupervisorAlert wraps an alert already sent to local supervisors. kind is the wire
// type ("SEVERE_ALERT" or "alert").
func NewSupervisorAlert(kind, groupID, message, intervention string, at time.Time) BaseEvent {
	data := map[string]interface{}{
		"type":    kind,
		"message": message,
	}
	if groupID != "" {
		data["groupId"] = groupID
	}
	if intervention != "" {
		data["intervention"] = intervention
	}
	return BaseEvent{Type: SupervisorAlert, Data: data, OccurredAt: at}
}
