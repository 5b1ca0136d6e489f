package memory

import (
	"sort"
	"time"

	"lumina-be/pkg/facilitation"

	"github.com/patrickmn/go-cache"
)

// SessionRepository keeps the latest snapshot of every live group session. Entries expire
// after ttl so a session that never reports Closed cannot linger forever.
type SessionRepository struct {
	cache *cache.Cache
}

func NewSessionRepository(ttl time.Duration) *SessionRepository {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	c := cache.New(ttl, 10*time.Minute)
	return &SessionRepository{
		cache: c,
	}
}

func (r *SessionRepository) Save(snap facilitation.Snapshot) {
	r.cache.Set(snap.SessionID, snap, cache.DefaultExpiration)
}

func (r *SessionRepository) Get(sessionID string) (facilitation.Snapshot, bool) {
	if x, found := r.cache.Get(sessionID); found {
		return x.(facilitation.Snapshot), true
	}
	return facilitation.Snapshot{}, false
}

func (r *SessionRepository) Delete(sessionID string) {
	r.cache.Delete(sessionID)
}

// List returns all live snapshots, oldest session first.
func (r *SessionRepository) List() []facilitation.Snapshot {
	items := r.cache.Items()
	out := make([]facilitation.Snapshot, 0, len(items))
	for _, it := range items {
		out = append(out, it.Object.(facilitation.Snapshot))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Observe is a session observer: it stores every snapshot and forgets the session once
// it closes.
func (r *SessionRepository) Observe(snap facilitation.Snapshot) {
	if snap.Phase == facilitation.PhaseClosed {
		r.Delete(snap.SessionID)
		return
	}
	r.Save(snap)
}
