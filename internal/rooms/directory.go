// Package rooms maps room IDs to member sessions and arbitrates document
// edits with optimistic concurrency. Conflict policy is last-accepted-wins;
// a rejected client rebases on the authoritative content and retries. No
// operational-transform merge is attempted.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"collabhub/internal/metrics"
	"collabhub/internal/models"
	"collabhub/internal/store"
)

var (
	ErrRoomNotFound = errors.New("room_not_found")
	ErrKindMismatch = errors.New("room_kind_mismatch")
	ErrNotDocument  = errors.New("not_a_document_room")
	ErrPersist      = errors.New("edit_persist_failed")
)

// Sender delivers a frame to a session by ID. Satisfied by the session
// registry; rooms never hold session objects.
type Sender interface {
	Send(sessionID string, frame models.Frame) error
}

// Snapshot is what a joining client needs to synchronize.
type Snapshot struct {
	RoomID  string
	Kind    models.RoomKind
	Members []string
	Doc     models.DocState
}

// Directory owns the room map. Rooms are created lazily on first join and
// disposed when membership drains; document rooms persist their state via
// the store before disposal.
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	store        store.Store
	sender       Sender
	storeTimeout time.Duration
	log          *zap.Logger
	now          func() time.Time
}

func NewDirectory(st store.Store, sender Sender, storeTimeout time.Duration, log *zap.Logger) *Directory {
	return &Directory{
		rooms:        make(map[string]*Room),
		store:        st,
		sender:       sender,
		storeTimeout: storeTimeout,
		log:          log,
		now:          time.Now,
	}
}

func (d *Directory) getOrCreate(roomID string, kind models.RoomKind) (*Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.rooms[roomID]; ok {
		if kind != "" && r.Kind != kind {
			return nil, ErrKindMismatch
		}
		return r, nil
	}
	r := newRoom(roomID, kind, d.now())
	d.rooms[roomID] = r
	metrics.RoomsActive.Inc()
	d.log.Info("room created", zap.String("roomId", roomID), zap.String("kind", string(kind)))
	return r, nil
}

func (d *Directory) get(roomID string) (*Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[roomID]
	return r, ok
}

// Join adds the session to the room, creating it on first join. Document
// rooms hydrate persisted state from the store once, before the first member
// sees a snapshot.
func (d *Directory) Join(ctx context.Context, roomID string, kind models.RoomKind, sessionID string) (Snapshot, error) {
	if kind == "" {
		kind = models.KindChannel
	}
	r, err := d.getOrCreate(roomID, kind)
	if err != nil {
		return Snapshot{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Kind == models.KindDocument && !r.loaded {
		state, ok, err := d.loadState(ctx, roomID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("hydrate room %s: %w", roomID, err)
		}
		if ok {
			r.doc = state
		}
		r.loaded = true
	}
	r.members[sessionID] = struct{}{}
	return Snapshot{
		RoomID:  roomID,
		Kind:    r.Kind,
		Members: r.memberSnapshot(),
		Doc:     r.doc,
	}, nil
}

// Leave removes the session. When the last member leaves, the room is
// disposed; a document room writes its state out first (best-effort, the
// room is going away regardless).
func (d *Directory) Leave(ctx context.Context, roomID, sessionID string) int {
	r, ok := d.get(roomID)
	if !ok {
		return 0
	}
	r.mu.Lock()
	delete(r.members, sessionID)
	remaining := len(r.members)
	doc := r.doc
	kind := r.Kind
	r.mu.Unlock()

	if remaining > 0 {
		return remaining
	}
	if kind == models.KindDocument && doc.Version > 0 {
		pctx, cancel := context.WithTimeout(ctx, d.storeTimeout)
		if err := d.store.PersistEdit(pctx, roomID, doc.Version, doc.Content); err != nil {
			d.log.Warn("persist on dispose failed", zap.String("roomId", roomID), zap.Error(err))
		}
		cancel()
	}
	d.dispose(roomID)
	return 0
}

// dispose removes an empty room. Re-checks emptiness under both locks so a
// concurrent join wins over garbage collection.
func (d *Directory) dispose(roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rooms[roomID]
	if !ok || r.memberCount() > 0 {
		return
	}
	delete(d.rooms, roomID)
	metrics.RoomsActive.Dec()
	d.log.Info("room disposed", zap.String("roomId", roomID))
}

// Broadcast delivers a frame to every member except the excluded session.
// The membership snapshot is taken under the room lock, so delivery is
// consistent with either before or after any concurrent join/leave.
func (d *Directory) Broadcast(roomID string, frame models.Frame, excludeSessionID string) {
	r, ok := d.get(roomID)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for sessionID := range r.members {
		if sessionID == excludeSessionID {
			continue
		}
		_ = d.sender.Send(sessionID, frame)
	}
}

// Members returns a read-only membership snapshot.
func (d *Directory) Members(roomID string) []string {
	r, ok := d.get(roomID)
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memberSnapshot()
}

// HasMember reports whether the session currently belongs to the room.
func (d *Directory) HasMember(roomID, sessionID string) bool {
	r, ok := d.get(roomID)
	return ok && r.hasMember(sessionID)
}

// Kind returns the room kind, if the room is live.
func (d *Directory) Kind(roomID string) (models.RoomKind, bool) {
	r, ok := d.get(roomID)
	if !ok {
		return "", false
	}
	return r.Kind, true
}

// Status returns the introspection view used by the HTTP API.
func (d *Directory) Status(roomID string) (models.RoomStatus, bool) {
	r, ok := d.get(roomID)
	if !ok {
		return models.RoomStatus{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.RoomStatus{
		RoomID:      r.ID,
		Kind:        r.Kind,
		MemberCount: len(r.members),
		Members:     r.memberSnapshot(),
		Version:     r.doc.Version,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
	}, true
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}

func (d *Directory) loadState(ctx context.Context, roomID string) (models.DocState, bool, error) {
	lctx, cancel := context.WithTimeout(ctx, d.storeTimeout)
	defer cancel()
	return d.store.LoadRoomState(lctx, roomID)
}
