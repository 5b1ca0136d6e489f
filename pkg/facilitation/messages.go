package facilitation

// Outbound message types sent to a group connection.
const (
	MessageSessionStarted = "session_started"
	MessageTranscript     = "transcript"
	MessageKeyTopics      = "key_topics"
	MessageSuggestion     = "intervention_suggestion"
	MessageError          = "error"
)

type SessionStartedMessage struct {
	Type    string                `json:"type"`
	Payload SessionStartedPayload `json:"payload"`
}

type SessionStartedPayload struct {
	SessionID    string   `json:"sessionId"`
	Participants []string `json:"participants"`
	Mode         Mode     `json:"mode"`
}

type TranscriptMessage struct {
	Type    string `json:"type"`
	Data    string `json:"data"`
	Speaker int    `json:"speaker"`
}

type KeyTopicsMessage struct {
	Type    string     `json:"type"`
	Payload []KeyTopic `json:"payload"`
}

type SuggestionMessage struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

func NewErrorMessage(err error) ErrorMessage {
	return ErrorMessage{Type: MessageError, Payload: err.Error()}
}
