package facilitation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newState(mode Mode, names ...string) State {
	return State{Participants: names, Mode: mode, SpeakerTurnCounts: map[int]int{}}
}

func silent() CycleSignals { return CycleSignals{} }

func spoken(text string, speaker int, offTopic bool) CycleSignals {
	return CycleSignals{
		Segments: []Segment{{Text: text, SpeakerIndex: speaker}},
		Topic:    &TopicVerdict{OffTopic: offTopic, Suggestion: "Back to uniforms?"},
	}
}

func TestSilenceStreakEscalation(t *testing.T) {
	p := DefaultPolicy()
	st := newState(ModeDepth, "Ana", "Ben")

	var got []*Intervention
	var streaks []int
	for i := 0; i < 7; i++ {
		var iv *Intervention
		st, iv = p.Transition(st, silent())
		got = append(got, iv)
		streaks = append(streaks, st.SilenceStreak)
	}

	assert.Equal(t, []int{1, 2, 0, 1, 2, 0, 1}, streaks)

	assert.Nil(t, got[0])
	require.NotNil(t, got[1])
	assert.Equal(t, KindMild, got[1].Kind)
	assert.Equal(t, CauseSilence, got[1].Cause)
	assert.NotEmpty(t, got[1].Text)

	require.NotNil(t, got[2])
	assert.Equal(t, KindSevere, got[2].Kind)
	assert.Empty(t, got[2].Text, "severe silence text is generated at delivery")

	assert.Nil(t, got[3])
	require.NotNil(t, got[4], "severe cleared the pending acknowledgement")
	assert.Equal(t, KindMild, got[4].Kind)
	require.NotNil(t, got[5])
	assert.Equal(t, KindSevere, got[5].Kind)
	assert.Nil(t, got[6])
}

func TestSpeechResetsSilenceBeforeTopicCheck(t *testing.T) {
	p := DefaultPolicy()
	st := newState(ModeDepth, "Ana")
	st.SilenceStreak = 2

	st, iv := p.Transition(st, spoken("uniforms limit expression", 0, false))

	assert.Nil(t, iv)
	assert.Equal(t, 0, st.SilenceStreak)
	assert.Equal(t, []string{"uniforms limit expression"}, st.History)
}

func TestOffTopicStreakEscalation(t *testing.T) {
	p := DefaultPolicy()
	st := newState(ModeDepth, "Ana", "Ben")

	st, iv := p.Transition(st, spoken("did you see the match", 0, true))
	require.NotNil(t, iv)
	assert.Equal(t, KindMild, iv.Kind)
	assert.Equal(t, CauseOffTopic, iv.Cause)
	assert.Equal(t, 1, st.OffTopicStreak)
	assert.True(t, st.AwaitingAck)

	st, iv = p.Transition(st, spoken("that goal was amazing", 1, true))
	require.NotNil(t, iv)
	assert.Equal(t, KindSevere, iv.Kind)
	assert.Equal(t, "Back to uniforms?", iv.Text)
	assert.Equal(t, 0, st.OffTopicStreak)
	assert.False(t, st.AwaitingAck)
}

func TestOnTopicResetsOffTopicStreak(t *testing.T) {
	p := DefaultPolicy()
	st := newState(ModeDepth, "Ana")

	st, _ = p.Transition(st, spoken("football", 0, true))
	require.Equal(t, 1, st.OffTopicStreak)

	st, iv := p.Transition(st, spoken("uniforms are cheaper", 0, false))
	assert.Nil(t, iv)
	assert.Equal(t, 0, st.OffTopicStreak)
}

func TestUnclassifiedCycleCountsAsOnTopic(t *testing.T) {
	p := DefaultPolicy()
	st := newState(ModeDepth, "Ana")
	st.OffTopicStreak = 1

	st, iv := p.Transition(st, CycleSignals{Segments: []Segment{{Text: "hmm", SpeakerIndex: 0}}})

	assert.Nil(t, iv)
	assert.Equal(t, 0, st.OffTopicStreak)
}

func TestMildOffTopicFallsBackToGenericText(t *testing.T) {
	p := DefaultPolicy()
	st := newState(ModeDepth, "Ana")

	_, iv := p.Transition(st, CycleSignals{
		Segments: []Segment{{Text: "pizza", SpeakerIndex: 0}},
		Topic:    &TopicVerdict{OffTopic: true},
	})

	require.NotNil(t, iv)
	assert.Equal(t, offTopicSuggestion, iv.Text)
}

func TestImbalanceNamesLeastHeardParticipant(t *testing.T) {
	p := DefaultPolicy()
	st := newState(ModeBreadth, "Ana", "Ben", "Cleo", "Dev")

	segments := make([]Segment, 5)
	for i := range segments {
		segments[i] = Segment{Text: "I think uniforms help", SpeakerIndex: 0}
	}
	st, iv := p.Transition(st, CycleSignals{
		Segments:      segments,
		Topic:         &TopicVerdict{},
		Participation: &ParticipationVerdict{Balanced: false},
	})

	require.NotNil(t, iv)
	assert.Equal(t, KindMild, iv.Kind)
	assert.Equal(t, CauseImbalance, iv.Cause)
	require.NotNil(t, iv.TargetSpeaker)
	assert.Equal(t, 1, *iv.TargetSpeaker)
	assert.Contains(t, iv.Text, "Ben")
	assert.Equal(t, 5, st.SpeakerTurnCounts[0])
}

func TestImbalanceIgnoredInDepthMode(t *testing.T) {
	p := DefaultPolicy()
	st := newState(ModeDepth, "Ana", "Ben")

	_, iv := p.Transition(st, CycleSignals{
		Segments:      []Segment{{Text: "uniforms", SpeakerIndex: 0}},
		Participation: &ParticipationVerdict{Balanced: false},
	})

	assert.Nil(t, iv)
}

func TestOffTopicShortCircuitsImbalance(t *testing.T) {
	p := DefaultPolicy()
	st := newState(ModeBreadth, "Ana", "Ben")

	_, iv := p.Transition(st, CycleSignals{
		Segments:      []Segment{{Text: "pizza", SpeakerIndex: 0}},
		Topic:         &TopicVerdict{OffTopic: true},
		Participation: &ParticipationVerdict{Balanced: false},
	})

	require.NotNil(t, iv)
	assert.Equal(t, CauseOffTopic, iv.Cause)
}

func TestMildOfSameCauseNotRepeatedWhileAwaitingAck(t *testing.T) {
	p := DefaultPolicy()
	st := newState(ModeBreadth, "Ana", "Ben")
	imbalanced := CycleSignals{
		Segments:      []Segment{{Text: "uniforms", SpeakerIndex: 0}},
		Topic:         &TopicVerdict{},
		Participation: &ParticipationVerdict{Balanced: false},
	}

	st, first := p.Transition(st, imbalanced)
	require.NotNil(t, first)

	st, second := p.Transition(st, imbalanced)
	assert.Nil(t, second)
	assert.True(t, st.AwaitingAck)
	assert.Equal(t, 2, st.SpeakerTurnCounts[0], "counters keep accumulating")

	st.AwaitingAck = false
	_, third := p.Transition(st, imbalanced)
	assert.NotNil(t, third)
}

func TestTransitionDoesNotMutateInput(t *testing.T) {
	p := DefaultPolicy()
	st := newState(ModeBreadth, "Ana", "Ben")
	st.History = make([]string, 1, 8)
	st.History[0] = "first"

	_, _ = p.Transition(st, spoken("second", 1, false))

	assert.Equal(t, []string{"first"}, st.History)
	assert.Empty(t, st.SpeakerTurnCounts)
	assert.Equal(t, "", st.History[:2][1], "backing array untouched")
}

func TestOutOfRangeSpeakerNotCounted(t *testing.T) {
	counts := MergeTurnCounts(nil, []Segment{
		{Text: "a", SpeakerIndex: 0},
		{Text: "b", SpeakerIndex: 3},
		{Text: "c", SpeakerIndex: -1},
	}, 2)

	assert.Equal(t, map[int]int{0: 1}, counts)
}

func TestLeastHeard(t *testing.T) {
	names := []string{"Ana", "Ben", "Cleo"}
	assert.Equal(t, 1, LeastHeard(names, map[int]int{0: 3, 1: 0, 2: 0}))
	assert.Equal(t, 2, LeastHeard(names, map[int]int{0: 3, 1: 2, 2: 1}))
	assert.Equal(t, -1, LeastHeard(nil, nil))
}

func TestContextWindow(t *testing.T) {
	h := []string{"a", "b", "c", "d"}
	assert.Equal(t, h, ContextWindow(h, 0))
	assert.Equal(t, []string{"c", "d"}, ContextWindow(h, 2))
	assert.Equal(t, h, ContextWindow(h, 10))
}
