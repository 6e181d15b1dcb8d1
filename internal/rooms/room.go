package rooms

import (
	"sort"
	"sync"
	"time"

	"collabhub/internal/models"
)

// Room holds membership and, for document rooms, the authoritative document
// state. All access goes through the room mutex, so edits on one room are
// serialized while independent rooms stay fully concurrent.
type Room struct {
	ID        string
	Kind      models.RoomKind
	CreatedAt time.Time

	mu      sync.Mutex
	members map[string]struct{}
	doc     models.DocState
	loaded  bool
}

func newRoom(id string, kind models.RoomKind, now time.Time) *Room {
	return &Room{
		ID:        id,
		Kind:      kind,
		CreatedAt: now,
		members:   make(map[string]struct{}),
	}
}

func (r *Room) memberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Room) memberSnapshot() []string {
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Room) hasMember(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[sessionID]
	return ok
}
