// Package session owns the set of live client sessions: registration,
// outbound delivery, heartbeat tracking, and the idle sweep.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabhub/internal/metrics"
	"collabhub/internal/models"
)

var (
	ErrAuthRequired = errors.New("auth_required")
	ErrSessionGone  = errors.New("session_gone")
	ErrQueueFull    = errors.New("send_queue_full")
)

// Registry is the exclusive owner of all sessions. Eviction (explicit
// unregister, idle sweep, queue overflow) runs the cleanup hook exactly once
// per session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[string]*Session

	ttl       time.Duration
	queueSize int
	log       *zap.Logger
	onEvict   func(*Session)
	now       func() time.Time
}

func NewRegistry(ttl time.Duration, queueSize int, log *zap.Logger) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		byUser:    make(map[string]map[string]*Session),
		ttl:       ttl,
		queueSize: queueSize,
		log:       log,
		now:       time.Now,
	}
}

// SetEvictHook installs the cleanup callback invoked once per unregistered
// session. Must be set before any session is registered.
func (r *Registry) SetEvictHook(fn func(*Session)) { r.onEvict = fn }

// SetClock overrides the registry clock (used in tests).
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Register creates a session for an authenticated user. conn may be nil in
// tests; the write pump only starts for real connections.
func (r *Registry) Register(userID string, conn *websocket.Conn) (*Session, error) {
	if userID == "" {
		return nil, ErrAuthRequired
	}
	s := newSession(uuid.NewString(), userID, conn, r.queueSize, r.now())

	r.mu.Lock()
	r.sessions[s.ID] = s
	userSessions, ok := r.byUser[userID]
	if !ok {
		userSessions = make(map[string]*Session)
		r.byUser[userID] = userSessions
	}
	userSessions[s.ID] = s
	r.mu.Unlock()

	if conn != nil {
		go s.writePump(func() { r.Unregister(s.ID) })
	}
	metrics.SessionsActive.Inc()
	r.log.Info("session registered", zap.String("sessionId", s.ID), zap.String("userId", userID))
	return s, nil
}

// Unregister removes a session and runs the cleanup hook. Calling it again
// for the same ID is a no-op.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionID)
	if userSessions, ok := r.byUser[s.UserID]; ok {
		delete(userSessions, sessionID)
		if len(userSessions) == 0 {
			delete(r.byUser, s.UserID)
		}
	}
	r.mu.Unlock()

	// Room leave and presence cleanup run before the session object is
	// discarded so no room keeps a dangling member.
	if r.onEvict != nil {
		r.onEvict(s)
	}
	s.close()
	metrics.SessionsActive.Dec()
	r.log.Info("session unregistered", zap.String("sessionId", sessionID))
}

// Send enqueues an outbound frame. ErrSessionGone means deliver-to-nobody,
// never a retryable failure. A full queue drops the session.
func (r *Registry) Send(sessionID string, frame models.Frame) error {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return ErrSessionGone
	}
	if err := s.deliver(frame); err != nil {
		if errors.Is(err, ErrQueueFull) {
			r.log.Warn("outbound queue overflow, dropping session",
				zap.String("sessionId", sessionID), zap.String("frameType", frame.Type))
			// Async: Send may be called under a room lock and eviction
			// re-enters the room directory.
			go r.Unregister(sessionID)
		}
		return err
	}
	return nil
}

// SendToUser delivers a frame to every session of a user and reports how
// many sessions received it.
func (r *Registry) SendToUser(userID string, frame models.Frame) int {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.byUser[userID]))
	for _, s := range r.byUser[userID] {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	n := 0
	for _, s := range targets {
		if err := r.Send(s.ID, frame); err == nil {
			n++
		}
	}
	return n
}

func (r *Registry) Heartbeat(sessionID string) error {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return ErrSessionGone
	}
	s.touch(r.now())
	return nil
}

func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep unregisters every session whose last heartbeat is older than the
// session TTL and returns their IDs.
func (r *Registry) Sweep() []string {
	cutoff := r.now().Add(-r.ttl)
	r.mu.RLock()
	var expired []string
	for id, s := range r.sessions {
		if s.seen().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range expired {
		r.log.Info("sweeping idle session", zap.String("sessionId", id))
		r.Unregister(id)
	}
	return expired
}

// StartSweeper runs Sweep on a ticker until ctx is cancelled.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Shutdown announces server_closing to every session, waits out the grace
// period, then force-unregisters whatever is left.
func (r *Registry) Shutdown(ctx context.Context, grace time.Duration) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	closing := models.Frame{Type: "server_closing"}
	for _, id := range ids {
		_ = r.Send(id, closing)
	}

	select {
	case <-ctx.Done():
	case <-time.After(grace):
	}

	for _, id := range ids {
		r.Unregister(id)
	}
}
