// Package presence tracks which simulated users are currently online.
// Entries are rebuilt entirely from heartbeat events and are never
// persisted; an entry that misses two heartbeat periods is evicted.
package presence

import (
	"sort"
	"sync"
	"time"

	"teletab/internal/models"
)

// DefaultHeartbeat matches the protocol's announce cadence. Staleness is
// fixed at twice the heartbeat period.
const DefaultHeartbeat = 4 * time.Second

type entry struct {
	user     models.User
	lastSeen time.Time
}

type Tracker struct {
	mu        sync.RWMutex
	entries   map[string]entry
	heartbeat time.Duration
}

func NewTracker(heartbeat time.Duration) *Tracker {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Tracker{
		entries:   make(map[string]entry),
		heartbeat: heartbeat,
	}
}

// Heartbeat returns the announce period the tracker was configured with.
func (t *Tracker) Heartbeat() time.Duration {
	return t.heartbeat
}

// Upsert records a fresh heartbeat for the given user, replacing any prior
// snapshot so profile changes carried by the heartbeat take effect.
func (t *Tracker) Upsert(u models.User) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u.LastSeen = time.Now().UnixMilli()
	t.entries[u.ID] = entry{user: u, lastSeen: time.Now()}
}

// Remove drops a user, used when an explicit offline event arrives.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// Patch applies a profile update to a tracked user without refreshing its
// heartbeat; an absent user is left absent.
func (t *Tracker) Patch(u models.User) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[u.ID]
	if !ok {
		return
	}
	u.LastSeen = e.user.LastSeen
	e.user = u
	t.entries[u.ID] = e
}

// Sweep evicts entries that have not been refreshed within twice the
// heartbeat period and returns how many were dropped.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-2 * t.heartbeat)
	evicted := 0
	for id, e := range t.entries {
		if e.lastSeen.Before(cutoff) {
			delete(t.entries, id)
			evicted++
		}
	}
	return evicted
}

// Online returns the tracked users sorted by username.
func (t *Tracker) Online() []models.User {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.User, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// IsOnline reports whether the given user is currently tracked.
func (t *Tracker) IsOnline(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[id]
	return ok
}
