package facilitation

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"lumina-be/internal/pkg/logger"
)

const sessionModule = "FACILITATION_SESSION"

type Config struct {
	Prompt          string
	DefaultMode     Mode
	Cadence         Cadence
	Interval        time.Duration
	Policy          Policy
	HistoryWindow   int
	MaxParticipants int
}

type Dependencies struct {
	Transcriber Transcriber
	Classifier  Classifier
	Synthesizer Synthesizer
	Alerts      AlertSink
	Logger      logger.ILogger
	// Observer receives every published snapshot, including the final Closed one.
	// It is called while holding the snapshot lock and must not block.
	Observer func(Snapshot)
}

// Event is an inbound event from the group connection.
type Event interface{ isEvent() }

type Init struct {
	Participants []string
	Mode         Mode
	Prompt       string
}

type AudioFragment struct{ Data []byte }

// Acknowledge answers the outstanding suggestion: Speak asks the facilitator to say it
// aloud, otherwise it is dismissed.
type Acknowledge struct{ Speak bool }

type Close struct{}

func (Init) isEvent()          {}
func (AudioFragment) isEvent() {}
func (Acknowledge) isEvent()   {}
func (Close) isEvent()         {}

type internalEvent interface{ internal() }

type transcribed struct{ segments []Segment }

type cycleAnalyzed struct {
	seq     uint64
	signals CycleSignals
}

type speechReady struct {
	seq    uint64
	speech Speech
	alert  bool
}

type acknowledged struct{ speak bool }

func (transcribed) internal()   {}
func (cycleAnalyzed) internal() {}
func (speechReady) internal()   {}
func (acknowledged) internal()  {}

type cycleInput struct {
	seq          uint64
	segments     []Segment
	prompt       string
	mode         Mode
	participants []string
	history      []string
	turnCounts   map[int]int
}

// Snapshot is a read-only copy of a session for observers.
type Snapshot struct {
	SessionID         string      `json:"sessionId"`
	Participants      []string    `json:"participants"`
	Mode              Mode        `json:"mode"`
	Phase             Phase       `json:"phase"`
	Busy              bool        `json:"busy"`
	SilenceStreak     int         `json:"silenceStreak"`
	OffTopicStreak    int         `json:"offTopicStreak"`
	SpeakerTurnCounts map[int]int `json:"speakerTurnCounts"`
	AwaitingAck       bool        `json:"awaitingAck"`
	HistoryLength     int         `json:"historyLength"`
	BufferedSegments  int         `json:"bufferedSegments"`
	Cycles            uint64      `json:"cycles"`
	StartedAt         time.Time   `json:"startedAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// Session is the facilitation state of one group connection. Every field below the
// lifecycle block is owned by the run goroutine; adapters run on worker goroutines and
// post their results back to it, so at most one cycle or delivery is ever in flight.
type Session struct {
	id        string
	createdAt time.Time
	cfg       Config
	deps      Dependencies
	out       Outbound
	deliverer *Deliverer
	tracer    trace.Tracer
	log       logger.ILogger

	mu      sync.Mutex
	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan internalEvent
	audio  chan []byte
	done   chan struct{}

	state       State
	prompt      string
	phase       Phase
	buffer      []Segment
	sched       *Scheduler
	cycleSeq    uint64
	speechSeq   uint64
	cycles      uint64
	outstanding *Intervention
	speakQueued bool

	snapMu sync.Mutex
	snap   Snapshot
}

func NewSession(id string, out Outbound, cfg Config, deps Dependencies) *Session {
	if deps.Logger == nil {
		deps.Logger = logger.NewNopLogger()
	}
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = ModeBreadth
	}
	if cfg.Cadence == "" {
		cfg.Cadence = CadenceEvent
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	s := &Session{
		id:        id,
		createdAt: now,
		cfg:       cfg,
		deps:      deps,
		out:       out,
		deliverer: NewDeliverer(deps.Classifier, deps.Synthesizer, deps.Alerts, deps.Logger),
		tracer:    otel.Tracer("lumina/facilitation"),
		log:       deps.Logger,
		ctx:       ctx,
		cancel:    cancel,
		inbox:     make(chan internalEvent, 16),
		audio:     make(chan []byte, 32),
		done:      make(chan struct{}),
		phase:     PhaseIdle,
	}
	s.snap = Snapshot{SessionID: id, Phase: PhaseIdle, StartedAt: now, UpdatedAt: now}
	return s
}

func (s *Session) ID() string { return s.id }

// Done is closed once the session has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Snapshot() Snapshot {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return s.snap
}

// Dispatch feeds one inbound event into the session. Errors describe invalid client input
// and leave the session unchanged.
func (s *Session) Dispatch(ev Event) error {
	switch e := ev.(type) {
	case Init:
		return s.init(e)
	case AudioFragment:
		return s.enqueueAudio(e.Data)
	case Acknowledge:
		if err := s.ready(); err != nil {
			return err
		}
		if !s.post(acknowledged{speak: e.Speak}) {
			return ErrSessionClosed
		}
		return nil
	case Close:
		s.Close()
		return nil
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
}

func (s *Session) init(e Init) error {
	names := make([]string, 0, len(e.Participants))
	for _, n := range e.Participants {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return ErrNoParticipants
	}
	if s.cfg.MaxParticipants > 0 && len(names) > s.cfg.MaxParticipants {
		return fmt.Errorf("%w: %d given, at most %d", ErrTooManyParticipants, len(names), s.cfg.MaxParticipants)
	}

	mode := e.Mode
	if mode == "" {
		mode = s.cfg.DefaultMode
	}
	mode, err := ParseMode(string(mode))
	if err != nil {
		return err
	}

	prompt := strings.TrimSpace(e.Prompt)
	if prompt == "" {
		prompt = s.cfg.Prompt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.started {
		return ErrAlreadyInitialized
	}
	s.started = true

	s.state = State{Participants: names, Mode: mode, SpeakerTurnCounts: make(map[int]int, len(names))}
	s.prompt = prompt
	s.sched = NewScheduler(s.cfg.Cadence, s.cfg.Interval)

	s.log.Info(sessionModule, "Session initialized", map[string]interface{}{
		"session_id":   s.id,
		"participants": len(names),
		"mode":         string(mode),
		"cadence":      string(s.cfg.Cadence),
	})

	go s.run()
	go s.transcribeLoop(len(names))
	return nil
}

func (s *Session) enqueueAudio(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyAudio
	}
	if err := s.ready(); err != nil {
		return err
	}
	select {
	case s.audio <- data:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

func (s *Session) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if !s.started {
		return ErrNotInitialized
	}
	return nil
}

// Close stops the session. Work still in flight finishes on its own and its results are
// dropped. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	s.cancel()
	if !started {
		close(s.done)
	}

	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	s.snap.Phase = PhaseClosed
	s.snap.Busy = false
	s.snap.UpdatedAt = time.Now()
	if s.deps.Observer != nil {
		s.deps.Observer(s.snap)
	}
	s.log.Info(sessionModule, "Session closed", map[string]interface{}{"session_id": s.id})
}

func (s *Session) post(ev internalEvent) bool {
	select {
	case s.inbox <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) run() {
	defer close(s.done)

	s.sched.Start()
	defer s.sched.Stop()

	s.send(SessionStartedMessage{
		Type: MessageSessionStarted,
		Payload: SessionStartedPayload{
			SessionID:    s.id,
			Participants: s.state.Participants,
			Mode:         s.state.Mode,
		},
	})
	s.publish()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.sched.C():
			if s.sched.OnTick(s.busy()) {
				s.startCycle()
				s.publish()
			}
		case ev := <-s.inbox:
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev internalEvent) {
	switch e := ev.(type) {
	case transcribed:
		s.onTranscribed(e)
	case cycleAnalyzed:
		s.onCycleAnalyzed(e)
	case speechReady:
		s.onSpeechReady(e)
	case acknowledged:
		s.onAcknowledge(e.speak)
	}
}

// transcribeLoop transcribes fragments one at a time in arrival order.
func (s *Session) transcribeLoop(expectedSpeakers int) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.audio:
			tr, err := s.deps.Transcriber.Transcribe(s.ctx, data, TranscribeOptions{ExpectedSpeakers: expectedSpeakers})
			if err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.log.Warn(sessionModule, "Transcription failed, treating fragment as silence", map[string]interface{}{
					"session_id": s.id,
					"bytes":      len(data),
					"error":      err.Error(),
				})
				tr = Transcription{}
			}
			if !s.post(transcribed{segments: tr.Segments}) {
				return
			}
		}
	}
}

func (s *Session) onTranscribed(e transcribed) {
	n := len(s.state.Participants)
	spoken := SpokenSegments(e.segments)
	for _, seg := range spoken {
		if seg.SpeakerIndex < 0 || seg.SpeakerIndex >= n {
			s.log.Warn(sessionModule, "Speaker index outside participant list, turn not counted", map[string]interface{}{
				"session_id":    s.id,
				"speaker_index": seg.SpeakerIndex,
				"participants":  n,
			})
		}
		s.send(TranscriptMessage{Type: MessageTranscript, Data: seg.Text, Speaker: seg.SpeakerIndex})
		s.buffer = append(s.buffer, seg)
	}

	if s.sched.OnTranscribed(s.busy(), len(spoken) == 0) {
		s.startCycle()
	}
	s.publish()
}

func (s *Session) busy() bool {
	return s.phase == PhaseAnalyzing || s.phase == PhaseSpeaking
}

// startCycle hands the buffered segments to an analysis worker. Segments transcribed
// while it runs land in a fresh buffer for the next cycle.
func (s *Session) startCycle() {
	segments := s.buffer
	s.buffer = nil
	s.cycleSeq++
	s.phase = PhaseAnalyzing

	go s.analyze(cycleInput{
		seq:          s.cycleSeq,
		segments:     segments,
		prompt:       s.prompt,
		mode:         s.state.Mode,
		participants: s.state.Participants,
		history:      ContextWindow(s.state.History, s.cfg.HistoryWindow),
		turnCounts:   MergeTurnCounts(s.state.SpeakerTurnCounts, segments, len(s.state.Participants)),
	})
}

func (s *Session) analyze(in cycleInput) {
	ctx, span := s.tracer.Start(s.ctx, "facilitation.cycle", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.Int64("cycle.seq", int64(in.seq)),
		attribute.Int("cycle.segments", len(in.segments)),
	))
	defer span.End()

	sig := CycleSignals{Segments: in.segments}
	if len(in.segments) > 0 {
		topic, err := s.deps.Classifier.ClassifyTopic(ctx, TopicRequest{
			Prompt:  in.prompt,
			Mode:    in.mode,
			History: in.history,
			Latest:  JoinSegments(in.segments),
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			span.RecordError(err)
			s.log.Warn(sessionModule, "Topic classification failed, treating cycle as on-topic", map[string]interface{}{
				"session_id": s.id,
				"error":      err.Error(),
			})
		} else {
			sig.Topic = &topic
		}

		if in.mode == ModeBreadth && (sig.Topic == nil || !sig.Topic.OffTopic) {
			pv, err := s.deps.Classifier.AssessParticipation(ctx, ParticipationRequest{
				Prompt:       in.prompt,
				Participants: in.participants,
				TurnCounts:   in.turnCounts,
				History:      in.history,
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				span.RecordError(err)
				s.log.Warn(sessionModule, "Participation assessment failed, treating cycle as balanced", map[string]interface{}{
					"session_id": s.id,
					"error":      err.Error(),
				})
			} else {
				sig.Participation = &pv
			}
		}
	}

	s.post(cycleAnalyzed{seq: in.seq, signals: sig})
}

func (s *Session) onCycleAnalyzed(e cycleAnalyzed) {
	if e.seq != s.cycleSeq || s.phase != PhaseAnalyzing {
		s.log.Debug(sessionModule, "Dropping stale cycle result", map[string]interface{}{"session_id": s.id, "seq": e.seq})
		return
	}

	s.cycles++
	next, iv := s.cfg.Policy.Transition(s.state, e.signals)
	s.state = next
	s.phase = PhaseIdle

	if e.signals.Topic != nil && len(e.signals.Topic.KeyTopics) > 0 {
		s.send(KeyTopicsMessage{Type: MessageKeyTopics, Payload: e.signals.Topic.KeyTopics})
	}

	if iv != nil {
		s.log.Info(sessionModule, "Intervention decided", map[string]interface{}{
			"session_id": s.id,
			"kind":       string(iv.Kind),
			"cause":      string(iv.Cause),
		})
		s.deliver(*iv)
	}

	s.afterIdle()
	s.publish()
}

func (s *Session) deliver(iv Intervention) {
	switch iv.Kind {
	case KindMild:
		if err := s.deliverer.SendMild(s.out, iv); err != nil {
			s.log.Debug(sessionModule, "Suggestion not delivered", map[string]interface{}{"session_id": s.id, "error": err.Error()})
		}
		s.outstanding = &iv
	case KindSevere:
		s.outstanding = nil
		s.speak(iv, true)
	}
}

// speak moves the session to Speaking and renders iv on a worker goroutine.
func (s *Session) speak(iv Intervention, alert bool) {
	s.speechSeq++
	s.phase = PhaseSpeaking
	s.sched.Suspend()

	gen := GenerationRequest{
		Cause:        iv.Cause,
		Prompt:       s.prompt,
		Participants: s.state.Participants,
		History:      ContextWindow(s.state.History, s.cfg.HistoryWindow),
	}
	if n := len(s.state.History); n > 0 {
		gen.Latest = s.state.History[n-1]
	}

	seq := s.speechSeq
	go func() {
		ctx, span := s.tracer.Start(s.ctx, "facilitation.deliver", trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.String("intervention.cause", string(iv.Cause)),
			attribute.Bool("intervention.alert", alert),
		))
		defer span.End()

		sp := s.deliverer.Prepare(ctx, iv, gen)
		if sp.SynthErr != nil {
			span.RecordError(sp.SynthErr)
		}
		s.post(speechReady{seq: seq, speech: sp, alert: alert})
	}()
}

func (s *Session) onSpeechReady(e speechReady) {
	if e.seq != s.speechSeq || s.phase != PhaseSpeaking {
		s.log.Debug(sessionModule, "Dropping stale speech", map[string]interface{}{"session_id": s.id, "seq": e.seq})
		return
	}

	if err := s.deliverer.SendSpeech(s.out, e.speech); err != nil {
		s.log.Debug(sessionModule, "Speech not delivered", map[string]interface{}{"session_id": s.id, "error": err.Error()})
	}
	if e.alert {
		if err := s.deliverer.Alert(s.ctx, s.id, e.speech.Intervention); err != nil {
			s.log.Warn(sessionModule, "Supervisor alert failed", map[string]interface{}{"session_id": s.id, "error": err.Error()})
		}
	}

	s.phase = PhaseIdle
	s.sched.Resume()
	s.afterIdle()
	s.publish()
}

// afterIdle runs whatever was deferred while the session was busy.
func (s *Session) afterIdle() {
	if s.phase != PhaseIdle {
		return
	}
	if s.speakQueued {
		s.elevate()
		if s.phase != PhaseIdle {
			return
		}
	}
	if s.sched.TakePending() {
		s.startCycle()
	}
}

func (s *Session) onAcknowledge(speak bool) {
	if !s.state.AwaitingAck || s.outstanding == nil {
		s.log.Debug(sessionModule, "Acknowledgement with nothing outstanding", map[string]interface{}{"session_id": s.id})
		return
	}
	if !speak {
		s.clearOutstanding()
		s.publish()
		return
	}
	if s.busy() {
		s.speakQueued = true
		return
	}
	s.elevate()
	s.publish()
}

// elevate speaks the outstanding suggestion aloud. No supervisor alert is raised.
func (s *Session) elevate() {
	s.speakQueued = false
	if !s.state.AwaitingAck || s.outstanding == nil {
		return
	}
	iv := *s.outstanding
	s.clearOutstanding()
	s.speak(iv, false)
}

func (s *Session) clearOutstanding() {
	s.outstanding = nil
	s.state.AwaitingAck = false
	s.state.PendingCause = ""
}

func (s *Session) send(v any) {
	if err := s.out.SendJSON(v); err != nil {
		s.log.Debug(sessionModule, "Outbound message dropped", map[string]interface{}{"session_id": s.id, "error": err.Error()})
	}
}

func (s *Session) publish() {
	phase := s.phase
	if phase == PhaseIdle && s.state.AwaitingAck {
		phase = PhaseAwaitingAck
	}
	snap := Snapshot{
		SessionID:         s.id,
		Participants:      s.state.Participants,
		Mode:              s.state.Mode,
		Phase:             phase,
		Busy:              s.busy(),
		SilenceStreak:     s.state.SilenceStreak,
		OffTopicStreak:    s.state.OffTopicStreak,
		SpeakerTurnCounts: maps.Clone(s.state.SpeakerTurnCounts),
		AwaitingAck:       s.state.AwaitingAck,
		HistoryLength:     len(s.state.History),
		BufferedSegments:  len(s.buffer),
		Cycles:            s.cycles,
		StartedAt:         s.createdAt,
		UpdatedAt:         time.Now(),
	}

	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	if s.snap.Phase == PhaseClosed {
		return
	}
	s.snap = snap
	if s.deps.Observer != nil {
		s.deps.Observer(snap)
	}
}
