package facilitation

import (
	"errors"
	"fmt"
)

// Mode selects which analyses run each cycle.
type Mode string

const (
	ModeBreadth Mode = "Breadth" // topic drift + participation balance
	ModeDepth   Mode = "Depth"   // topic drift only
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBreadth:
		return ModeBreadth, nil
	case ModeDepth:
		return ModeDepth, nil
	default:
		return "", fmt.Errorf("unknown discussion mode %q", s)
	}
}

// Phase is the coarse state of a session.
type Phase string

const (
	PhaseIdle        Phase = "Idle"
	PhaseAnalyzing   Phase = "Analyzing"
	PhaseAwaitingAck Phase = "AwaitingAck"
	PhaseSpeaking    Phase = "Speaking"
	PhaseClosed      Phase = "Closed"
)

type Kind string

const (
	KindMild   Kind = "Mild"
	KindSevere Kind = "Severe"
)

type Cause string

const (
	CauseSilence   Cause = "Silence"
	CauseOffTopic  Cause = "OffTopic"
	CauseImbalance Cause = "Imbalance"
)

// Segment is one diarized utterance. SpeakerIndex points into the session's participants.
type Segment struct {
	Text         string `json:"text"`
	SpeakerIndex int    `json:"speakerIndex"`
}

// Intervention is a transient decision produced by the policy and consumed once by delivery.
// Text may be empty for a Severe decision; delivery generates it.
type Intervention struct {
	Kind          Kind
	Cause         Cause
	Text          string
	TargetSpeaker *int
}

// SupervisorAlert is broadcast to supervisor connections and never stored.
type SupervisorAlert struct {
	Type         string `json:"-"`
	GroupID      string `json:"groupId,omitempty"`
	Message      string `json:"message"`
	Intervention string `json:"intervention,omitempty"`
}

const (
	AlertTypeSevere = "SEVERE_ALERT"
	AlertTypeManual = "alert"
)

type KeyTopic struct {
	Name       string  `json:"name" validate:"required"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=100"`
}

var (
	ErrNotInitialized      = errors.New("session not initialized: send INIT before audio")
	ErrAlreadyInitialized  = errors.New("session already initialized")
	ErrNoParticipants      = errors.New("at least one participant name is required")
	ErrTooManyParticipants = errors.New("too many participants")
	ErrEmptyAudio          = errors.New("audio fragment has no usable samples")
	ErrSessionClosed       = errors.New("session closed")
)
