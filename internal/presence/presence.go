// Package presence derives per-room online/typing/idle state from heartbeats
// and membership. Correctness comes from TTL filtering at read time; the
// periodic sweep only reclaims memory.
package presence

import (
	"sort"
	"sync"
	"time"

	"collabhub/internal/models"
)

type entry struct {
	status   models.PresenceStatus
	lastSeen time.Time
	sessions map[string]struct{}
}

// Tracker holds presence entries keyed by (room, user). A user with several
// sessions in the same room stays present until the last one leaves or the
// entry expires.
type Tracker struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*entry
	ttl   time.Duration
	now   func() time.Time
}

func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{
		rooms: make(map[string]map[string]*entry),
		ttl:   ttl,
		now:   time.Now,
	}
}

// SetClock overrides the tracker clock (used in tests).
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Join registers a session for the (room, user) pair and marks it online.
func (t *Tracker) Join(roomID, userID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.rooms[roomID]
	if !ok {
		users = make(map[string]*entry)
		t.rooms[roomID] = users
	}
	e, ok := users[userID]
	if !ok {
		e = &entry{sessions: make(map[string]struct{})}
		users[userID] = e
	}
	e.sessions[sessionID] = struct{}{}
	e.status = models.StatusOnline
	e.lastSeen = t.now()
}

// Leave drops one session from the pair. The entry survives until the last
// session for that user leaves; the return value reports whether the user is
// now gone from the room.
func (t *Tracker) Leave(roomID, userID, sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.rooms[roomID]
	if !ok {
		return false
	}
	e, ok := users[userID]
	if !ok {
		return false
	}
	delete(e.sessions, sessionID)
	if len(e.sessions) > 0 {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.rooms, roomID)
	}
	return true
}

// Touch refreshes the entry's timestamp and status. An empty status refreshes
// the timestamp only, leaving the current status in place (heartbeats). This
// is the only mutation path besides Join/Leave; there is no explicit
// set-offline.
func (t *Tracker) Touch(roomID, userID string, status models.PresenceStatus) {
	if status == models.StatusOffline {
		status = models.StatusOnline
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.rooms[roomID]
	if !ok {
		return
	}
	e, ok := users[userID]
	if !ok {
		return
	}
	if status != "" {
		e.status = status
	}
	e.lastSeen = t.now()
}

// Snapshot returns the room's presence filtered by TTL, so a stale entry is
// invisible even before the sweep removes it. Sorted by user ID for
// deterministic output.
func (t *Tracker) Snapshot(roomID string) []models.PresenceEntry {
	cutoff := t.now().Add(-t.ttl)
	t.mu.RLock()
	defer t.mu.RUnlock()
	users := t.rooms[roomID]
	out := make([]models.PresenceEntry, 0, len(users))
	for userID, e := range users {
		if e.lastSeen.Before(cutoff) {
			continue
		}
		out = append(out, models.PresenceEntry{
			UserID:   userID,
			Status:   e.status,
			LastSeen: e.lastSeen,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Sweep removes expired entries. Memory hygiene only; Snapshot is already
// TTL-consistent without it.
func (t *Tracker) Sweep() int {
	cutoff := t.now().Add(-t.ttl)
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for roomID, users := range t.rooms {
		for userID, e := range users {
			if e.lastSeen.Before(cutoff) {
				delete(users, userID)
				removed++
			}
		}
		if len(users) == 0 {
			delete(t.rooms, roomID)
		}
	}
	return removed
}
