package session

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"collabhub/internal/models"
)

// Session is one live client connection. The registry owns the session;
// every other component refers to it by ID only.
type Session struct {
	ID     string
	UserID string

	conn *websocket.Conn
	send chan models.Frame
	done chan struct{}

	mu        sync.Mutex
	hook      func(models.Frame)
	rooms     map[string]struct{}
	lastSeen  time.Time
	closeOnce sync.Once
}

func newSession(id, userID string, conn *websocket.Conn, queueSize int, now time.Time) *Session {
	return &Session{
		ID:       id,
		UserID:   userID,
		conn:     conn,
		send:     make(chan models.Frame, queueSize),
		done:     make(chan struct{}),
		rooms:    make(map[string]struct{}),
		lastSeen: now,
	}
}

// SetSendHook replaces the default WebSocket sender (used in tests).
func (s *Session) SetSendHook(fn func(models.Frame)) {
	s.mu.Lock()
	s.hook = fn
	s.mu.Unlock()
}

// deliver enqueues an outbound frame without blocking. ErrQueueFull means
// the consumer is too slow and the session should be dropped.
func (s *Session) deliver(frame models.Frame) error {
	s.mu.Lock()
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(frame)
		return nil
	}
	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return ErrSessionGone
	default:
		return ErrQueueFull
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) seen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// TrackRoom records that the session joined a room.
func (s *Session) TrackRoom(roomID string) {
	s.mu.Lock()
	s.rooms[roomID] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) UntrackRoom(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}

// Rooms returns a snapshot of the room IDs this session has joined.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	return out
}

func (s *Session) InRoom(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[roomID]
	return ok
}

// close unblocks the write pump and tears down the transport. Safe to call
// more than once.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// writePump drains the outbound queue onto the websocket connection. It is
// the only goroutine that writes to the conn.
func (s *Session) writePump(onError func()) {
	for {
		select {
		case frame := <-s.send:
			if err := s.conn.WriteJSON(frame); err != nil {
				onError()
				return
			}
		case <-s.done:
			return
		}
	}
}
