package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumina-be/pkg/facilitation"
)

func TestObserveTracksLiveSessions(t *testing.T) {
	repo := NewSessionRepository(time.Hour)
	t0 := time.Now()

	repo.Observe(facilitation.Snapshot{SessionID: "b", Phase: facilitation.PhaseIdle, StartedAt: t0.Add(time.Second)})
	repo.Observe(facilitation.Snapshot{SessionID: "a", Phase: facilitation.PhaseAnalyzing, StartedAt: t0})
	repo.Observe(facilitation.Snapshot{SessionID: "b", Phase: facilitation.PhaseSpeaking, StartedAt: t0.Add(time.Second)})

	list := repo.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].SessionID)
	assert.Equal(t, facilitation.PhaseSpeaking, list[1].Phase)

	snap, ok := repo.Get("b")
	require.True(t, ok)
	assert.Equal(t, facilitation.PhaseSpeaking, snap.Phase)
}

func TestObserveForgetsClosedSessions(t *testing.T) {
	repo := NewSessionRepository(time.Hour)
	repo.Observe(facilitation.Snapshot{SessionID: "a", Phase: facilitation.PhaseIdle})

	repo.Observe(facilitation.Snapshot{SessionID: "a", Phase: facilitation.PhaseClosed})

	_, ok := repo.Get("a")
	assert.False(t, ok)
	assert.Empty(t, repo.List())
}

func TestEntriesExpire(t *testing.T) {
	repo := NewSessionRepository(20 * time.Millisecond)
	repo.Save(facilitation.Snapshot{SessionID: "a"})

	assert.Eventually(t, func() bool {
		_, ok := repo.Get("a")
		return !ok
	}, time.Second, 10*time.Millisecond)
}
