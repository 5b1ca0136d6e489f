package facilitation

import "context"

type TranscribeOptions struct {
	ExpectedSpeakers int
}

type Transcription struct {
	Segments []Segment
}

// Transcriber turns an audio fragment into diarized segments. No segments means silence.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (Transcription, error)
}

type TopicRequest struct {
	Prompt  string
	Mode    Mode
	History []string
	Latest  string
}

type TopicVerdict struct {
	OffTopic   bool
	KeyTopics  []KeyTopic
	Suggestion string
}

type ParticipationRequest struct {
	Prompt       string
	Participants []string
	TurnCounts   map[int]int
	History      []string
}

type ParticipationVerdict struct {
	Balanced   bool
	Suggestion string
}

type GenerationRequest struct {
	Cause        Cause
	Prompt       string
	Participants []string
	History      []string
	Latest       string
}

// Classifier evaluates topic drift and participation balance, and writes the text of
// severe interventions.
type Classifier interface {
	ClassifyTopic(ctx context.Context, req TopicRequest) (TopicVerdict, error)
	AssessParticipation(ctx context.Context, req ParticipationRequest) (ParticipationVerdict, error)
	GenerateIntervention(ctx context.Context, req GenerationRequest) (string, error)
}

// Synthesizer renders intervention text to audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Outbound is the originating group connection.
type Outbound interface {
	SendJSON(v any) error
	SendBinary(data []byte) error
}

// AlertSink fans supervisor alerts out to every supervisor connection.
type AlertSink interface {
	RaiseAlert(ctx context.Context, alert SupervisorAlert) error
}
