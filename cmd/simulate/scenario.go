package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"lumina-be/pkg/facilitation"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted discussion: one entry per analysis cycle.
type Scenario struct {
	Name         string   `yaml:"name"`
	Prompt       string   `yaml:"prompt"`
	Mode         string   `yaml:"mode"`
	Participants []string `yaml:"participants"`
	Cycles       []Cycle  `yaml:"cycles"`
}

type Line struct {
	Speaker int    `yaml:"speaker"`
	Text    string `yaml:"text"`
}

// Cycle scripts what the adapters answer for one cycle. An empty Say is silence.
type Cycle struct {
	Say        []Line                  `yaml:"say"`
	OffTopic   bool                    `yaml:"offTopic"`
	KeyTopics  []facilitation.KeyTopic `yaml:"keyTopics"`
	Unbalanced bool                    `yaml:"unbalanced"`
	Suggestion string                  `yaml:"suggestion"`
	Spoken     string                  `yaml:"spoken"`
	SynthFails bool                    `yaml:"synthFails"`
	Ack        string                  `yaml:"ack"` // speak | dismiss
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(sc.Participants) == 0 {
		return nil, errors.New("scenario needs at least one participant")
	}
	if len(sc.Cycles) == 0 {
		return nil, errors.New("scenario has no cycles")
	}
	for i, c := range sc.Cycles {
		if c.Ack != "" && c.Ack != "speak" && c.Ack != "dismiss" {
			return nil, fmt.Errorf("cycle %d: ack must be speak or dismiss, got %q", i+1, c.Ack)
		}
	}
	return &sc, nil
}

// Output is one message the engine sent during the run.
type Output struct {
	Cycle   int
	Channel string // group | supervisor
	Kind    string
	Text    string
}

// script plays the adapters and the outbound side of a session.
type script struct {
	sc    *Scenario
	cur   atomic.Int32
	emit  func(Output)
	mu    sync.Mutex
	trace []Output
}

func (s *script) cycle() Cycle { return s.sc.Cycles[s.cur.Load()] }

func (s *script) record(o Output) {
	o.Cycle = int(s.cur.Load()) + 1
	s.mu.Lock()
	s.trace = append(s.trace, o)
	s.mu.Unlock()
	if s.emit != nil {
		s.emit(o)
	}
}

func (s *script) Transcribe(context.Context, []byte, facilitation.TranscribeOptions) (facilitation.Transcription, error) {
	var tr facilitation.Transcription
	for _, l := range s.cycle().Say {
		tr.Segments = append(tr.Segments, facilitation.Segment{Text: l.Text, SpeakerIndex: l.Speaker})
	}
	return tr, nil
}

func (s *script) ClassifyTopic(context.Context, facilitation.TopicRequest) (facilitation.TopicVerdict, error) {
	c := s.cycle()
	v := facilitation.TopicVerdict{OffTopic: c.OffTopic, KeyTopics: c.KeyTopics}
	if c.OffTopic {
		v.Suggestion = c.Suggestion
	}
	return v, nil
}

func (s *script) AssessParticipation(context.Context, facilitation.ParticipationRequest) (facilitation.ParticipationVerdict, error) {
	c := s.cycle()
	return facilitation.ParticipationVerdict{Balanced: !c.Unbalanced, Suggestion: c.Suggestion}, nil
}

func (s *script) GenerateIntervention(context.Context, facilitation.GenerationRequest) (string, error) {
	return s.cycle().Spoken, nil
}

func (s *script) Synthesize(_ context.Context, text string) ([]byte, error) {
	if s.cycle().SynthFails {
		return nil, errors.New("synthesis unavailable")
	}
	return []byte(text), nil
}

func (s *script) SendJSON(v any) error {
	switch m := v.(type) {
	case facilitation.SessionStartedMessage:
		s.record(Output{Channel: "group", Kind: m.Type, Text: fmt.Sprintf("%v (%s)", m.Payload.Participants, m.Payload.Mode)})
	case facilitation.TranscriptMessage:
		s.record(Output{Channel: "group", Kind: m.Type, Text: fmt.Sprintf("%s: %s", s.speaker(m.Speaker), m.Data)})
	case facilitation.KeyTopicsMessage:
		s.record(Output{Channel: "group", Kind: m.Type, Text: fmt.Sprintf("%v", m.Payload)})
	case facilitation.SuggestionMessage:
		s.record(Output{Channel: "group", Kind: m.Type, Text: m.Payload})
	case facilitation.ErrorMessage:
		s.record(Output{Channel: "group", Kind: m.Type, Text: m.Payload})
	default:
		s.record(Output{Channel: "group", Kind: "unknown", Text: fmt.Sprintf("%+v", v)})
	}
	return nil
}

func (s *script) SendBinary(data []byte) error {
	s.record(Output{Channel: "group", Kind: "audio", Text: string(data)})
	return nil
}

func (s *script) RaiseAlert(_ context.Context, a facilitation.SupervisorAlert) error {
	s.record(Output{Channel: "supervisor", Kind: a.Type, Text: a.Message + " | " + a.Intervention})
	return nil
}

func (s *script) speaker(i int) string {
	if i >= 0 && i < len(s.sc.Participants) {
		return s.sc.Participants[i]
	}
	return fmt.Sprintf("speaker %d", i)
}

// Run drives a real session through the scenario and returns everything it sent. Each
// cycle is fed one audio fragment and waited for before the next.
func Run(sc *Scenario, cfg facilitation.Config, deps facilitation.Dependencies, emit func(Output)) ([]Output, error) {
	cfg.Cadence = facilitation.CadenceEvent
	sp := &script{sc: sc, emit: emit}
	deps.Transcriber = sp
	deps.Classifier = sp
	deps.Synthesizer = sp
	deps.Alerts = sp

	session := facilitation.NewSession("simulated-group", sp, cfg, deps)
	defer session.Close()

	err := session.Dispatch(facilitation.Init{
		Participants: sc.Participants,
		Mode:         facilitation.Mode(sc.Mode),
		Prompt:       sc.Prompt,
	})
	if err != nil {
		return nil, err
	}

	for i, c := range sc.Cycles {
		sp.cur.Store(int32(i))
		if err := session.Dispatch(facilitation.AudioFragment{Data: []byte{0}}); err != nil {
			return sp.outputs(), err
		}
		want := uint64(i + 1)
		if err := waitFor(session, func(s facilitation.Snapshot) bool { return s.Cycles >= want && !s.Busy }); err != nil {
			return sp.outputs(), fmt.Errorf("cycle %d: %w", i+1, err)
		}

		if c.Ack == "" {
			continue
		}
		if err := session.Dispatch(facilitation.Acknowledge{Speak: c.Ack == "speak"}); err != nil {
			return sp.outputs(), err
		}
		if err := waitFor(session, func(s facilitation.Snapshot) bool { return !s.AwaitingAck && !s.Busy }); err != nil {
			return sp.outputs(), fmt.Errorf("cycle %d ack: %w", i+1, err)
		}
	}
	return sp.outputs(), nil
}

func (s *script) outputs() []Output {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Output(nil), s.trace...)
}

func waitFor(session *facilitation.Session, done func(facilitation.Snapshot) bool) error {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if done(session.Snapshot()) {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return errors.New("timed out waiting for the session")
}
