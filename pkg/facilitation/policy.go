package facilitation

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

const (
	silenceSuggestion  = "It's gone a little quiet. Who would like to share the next idea?"
	offTopicSuggestion = "Interesting thought! How does it connect back to the discussion question?"
	severeFallback     = "Let's come back to our discussion question together. What is one idea we haven't talked about yet?"
)

func imbalanceSuggestion(name string) string {
	return fmt.Sprintf("We haven't heard much from %s yet. %s, what do you think?", name, name)
}

// State is the part of a session the escalation policy reads and writes.
type State struct {
	Participants      []string
	Mode              Mode
	SilenceStreak     int
	OffTopicStreak    int
	SpeakerTurnCounts map[int]int
	History           []string
	AwaitingAck       bool
	PendingCause      Cause
}

func (s State) clone() State {
	s.Participants = slices.Clone(s.Participants)
	s.SpeakerTurnCounts = maps.Clone(s.SpeakerTurnCounts)
	if s.SpeakerTurnCounts == nil {
		s.SpeakerTurnCounts = make(map[int]int)
	}
	s.History = slices.Clip(s.History)
	return s
}

// CycleSignals carries what the adapters said about one cycle. A nil verdict is neutral:
// unclassified counts as on-topic, unassessed counts as balanced.
type CycleSignals struct {
	Segments      []Segment
	Topic         *TopicVerdict
	Participation *ParticipationVerdict
}

type Policy struct {
	MildSilenceAt    int
	SevereSilenceAt  int
	SevereOffTopicAt int
}

func DefaultPolicy() Policy {
	return Policy{MildSilenceAt: 2, SevereSilenceAt: 3, SevereOffTopicAt: 2}
}

// Transition applies one completed analysis cycle and returns the next state and the
// intervention to deliver, if any. It never mutates st.
func (p Policy) Transition(st State, sig CycleSignals) (State, *Intervention) {
	next := st.clone()
	spoken := SpokenSegments(sig.Segments)

	if len(spoken) == 0 {
		next.SilenceStreak++
		switch {
		case next.SilenceStreak >= p.SevereSilenceAt:
			next.SilenceStreak = 0
			return next.emit(&Intervention{Kind: KindSevere, Cause: CauseSilence})
		case next.SilenceStreak == p.MildSilenceAt:
			return next.emit(&Intervention{Kind: KindMild, Cause: CauseSilence, Text: silenceSuggestion})
		}
		return next, nil
	}

	next.SilenceStreak = 0
	next.SpeakerTurnCounts = MergeTurnCounts(next.SpeakerTurnCounts, spoken, len(next.Participants))

	var decision *Intervention
	if sig.Topic != nil && sig.Topic.OffTopic {
		next.OffTopicStreak++
		if next.OffTopicStreak >= p.SevereOffTopicAt {
			next.OffTopicStreak = 0
			decision = &Intervention{Kind: KindSevere, Cause: CauseOffTopic, Text: strings.TrimSpace(sig.Topic.Suggestion)}
		} else {
			text := strings.TrimSpace(sig.Topic.Suggestion)
			if text == "" {
				text = offTopicSuggestion
			}
			decision = &Intervention{Kind: KindMild, Cause: CauseOffTopic, Text: text}
		}
	} else {
		next.OffTopicStreak = 0
	}

	if decision == nil && next.Mode == ModeBreadth && sig.Participation != nil && !sig.Participation.Balanced {
		if target := LeastHeard(next.Participants, next.SpeakerTurnCounts); target >= 0 {
			decision = &Intervention{
				Kind:          KindMild,
				Cause:         CauseImbalance,
				Text:          imbalanceSuggestion(next.Participants[target]),
				TargetSpeaker: &target,
			}
		}
	}

	next.History = append(next.History, JoinSegments(spoken))
	return next.emit(decision)
}

// emit applies acknowledgement bookkeeping. A mild suggestion of the same cause as the one
// still awaiting acknowledgement is swallowed; a severe one always goes out and clears it.
func (s State) emit(iv *Intervention) (State, *Intervention) {
	if iv == nil {
		return s, nil
	}
	switch iv.Kind {
	case KindMild:
		if s.AwaitingAck && s.PendingCause == iv.Cause {
			return s, nil
		}
		s.AwaitingAck = true
		s.PendingCause = iv.Cause
	case KindSevere:
		s.AwaitingAck = false
		s.PendingCause = ""
	}
	return s, iv
}

// SpokenSegments drops segments with no text.
func SpokenSegments(segments []Segment) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		out = append(out, Segment{Text: text, SpeakerIndex: seg.SpeakerIndex})
	}
	return out
}

func JoinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		parts = append(parts, seg.Text)
	}
	return strings.Join(parts, " ")
}

// MergeTurnCounts adds one turn per segment to a copy of base. Speaker indexes outside
// [0, participants) are not attributed to anyone.
func MergeTurnCounts(base map[int]int, segments []Segment, participants int) map[int]int {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[int]int, participants)
	}
	for _, seg := range segments {
		if seg.SpeakerIndex < 0 || seg.SpeakerIndex >= participants {
			continue
		}
		out[seg.SpeakerIndex]++
	}
	return out
}

// LeastHeard returns the participant index with the fewest turns, lowest index on ties,
// or -1 when there are no participants.
func LeastHeard(participants []string, counts map[int]int) int {
	best := -1
	for i := range participants {
		if best == -1 || counts[i] < counts[best] {
			best = i
		}
	}
	return best
}

// ContextWindow returns the trailing window entries of history; window <= 0 returns all.
func ContextWindow(history []string, window int) []string {
	if window <= 0 || len(history) <= window {
		return slices.Clone(history)
	}
	return slices.Clone(history[len(history)-window:])
}
