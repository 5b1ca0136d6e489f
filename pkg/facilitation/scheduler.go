package facilitation

import (
	"fmt"
	"strings"
	"time"
)

// Cadence decides what triggers an analysis cycle.
type Cadence string

const (
	CadenceInterval Cadence = "interval" // every N seconds over whatever was buffered
	CadenceEvent    Cadence = "event"    // once per completed transcription
)

const defaultInterval = 20 * time.Second

func ParseCadence(s string) (Cadence, error) {
	switch Cadence(strings.ToLower(strings.TrimSpace(s))) {
	case CadenceInterval:
		return CadenceInterval, nil
	case CadenceEvent, "":
		return CadenceEvent, nil
	default:
		return "", fmt.Errorf("unknown analysis cadence %q", s)
	}
}

// Scheduler is owned by the session goroutine and is not safe for concurrent use.
// State transitions drive it through Suspend and Resume; a trigger that arrives while a
// cycle or delivery is in flight is remembered and handed back by TakePending.
//
// Deferred speech shares one pending cycle, since its segments are merged in the buffer.
// Each deferred silent transcription keeps a cycle of its own so the silence streak
// still counts it.
type Scheduler struct {
	cadence       Cadence
	interval      time.Duration
	ticker        *time.Ticker
	suspended     bool
	pending       bool
	pendingSilent int
}

func NewScheduler(cadence Cadence, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{cadence: cadence, interval: interval}
}

func (s *Scheduler) Start() {
	if s.cadence == CadenceInterval && s.ticker == nil {
		s.ticker = time.NewTicker(s.interval)
	}
}

func (s *Scheduler) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
}

// C is nil, and so blocks forever in a select, unless an interval ticker is running.
func (s *Scheduler) C() <-chan time.Time {
	if s.ticker == nil || s.suspended {
		return nil
	}
	return s.ticker.C
}

func (s *Scheduler) Suspend() {
	if s.suspended {
		return
	}
	s.suspended = true
	if s.ticker != nil {
		s.ticker.Stop()
	}
}

func (s *Scheduler) Resume() {
	if !s.suspended {
		return
	}
	s.suspended = false
	if s.ticker != nil {
		s.ticker.Reset(s.interval)
	}
}

func (s *Scheduler) Suspended() bool { return s.suspended }

// OnTranscribed reports whether a finished transcription should start a cycle now.
// silent marks a transcription that added nothing to the buffer.
func (s *Scheduler) OnTranscribed(busy, silent bool) bool {
	if s.cadence != CadenceEvent {
		return false
	}
	if !busy && !s.suspended {
		return true
	}
	if silent {
		s.pendingSilent++
		return false
	}
	// Speech resets the silence streak, so silences deferred before it no longer count.
	s.pendingSilent = 0
	s.pending = true
	return false
}

// OnTick reports whether an interval tick should start a cycle now.
func (s *Scheduler) OnTick(busy bool) bool {
	if s.cadence != CadenceInterval {
		return false
	}
	return s.trigger(busy)
}

func (s *Scheduler) trigger(busy bool) bool {
	if busy || s.suspended {
		s.pending = true
		return false
	}
	return true
}

// TakePending reports and consumes one cycle that was deferred while busy.
func (s *Scheduler) TakePending() bool {
	if s.suspended {
		return false
	}
	switch {
	case s.pending:
		s.pending = false
	case s.pendingSilent > 0:
		s.pendingSilent--
	default:
		return false
	}
	return true
}
