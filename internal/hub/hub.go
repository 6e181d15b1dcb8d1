// Package hub assembles the collaboration hub: connection registry, room
// directory, presence tracker, message router, and notification fanout,
// wired to the durable store collaborator.
package hub

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabhub/internal/models"
	"collabhub/internal/notify"
	"collabhub/internal/presence"
	"collabhub/internal/rooms"
	"collabhub/internal/router"
	"collabhub/internal/session"
	"collabhub/internal/store"
)

type Hub struct {
	cfg Config
	log *zap.Logger

	Registry *session.Registry
	Rooms    *rooms.Directory
	Presence *presence.Tracker
	Router   *router.Router
	Notify   *notify.Fanout

	publisher  store.PresencePublisher
	instanceID string
	cancel     context.CancelFunc
}

func New(cfg Config, st store.Store, log *zap.Logger) *Hub {
	h := &Hub{
		cfg:        cfg,
		log:        log,
		instanceID: uuid.NewString(),
	}
	h.Registry = session.NewRegistry(cfg.SessionTTL, cfg.SendQueueSize, log)
	h.Rooms = rooms.NewDirectory(st, h.Registry, cfg.StoreTimeout, log)
	h.Presence = presence.NewTracker(cfg.PresenceTTL)
	h.Notify = notify.NewFanout(st, h.Registry, cfg.StoreTimeout, log)
	h.Router = router.New(h.Registry, log)

	h.Registry.SetEvictHook(h.evict)
	h.registerHandlers()
	return h
}

// SetPresencePublisher enables best-effort cross-instance presence events.
func (h *Hub) SetPresencePublisher(p store.PresencePublisher) { h.publisher = p }

func (h *Hub) InstanceID() string { return h.instanceID }

// Start launches the background sweeps. Call once.
func (h *Hub) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.Registry.StartSweeper(ctx, h.cfg.SweepInterval)
	go func() {
		ticker := time.NewTicker(h.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Presence.Sweep()
			}
		}
	}()
}

// Connect registers an authenticated connection, acknowledges it with a
// connected frame, and replays any pending notifications for the user. The
// handshake frame is queued before the replay so it always arrives first.
func (h *Hub) Connect(userID string, conn *websocket.Conn) (*session.Session, error) {
	s, err := h.Registry.Register(userID, conn)
	if err != nil {
		return nil, err
	}
	_ = h.Registry.Send(s.ID, models.Frame{Type: "connected", Data: map[string]string{
		"sessionId": s.ID,
		"userId":    s.UserID,
	}})
	if _, err := h.Notify.Replay(context.Background(), userID); err != nil {
		h.log.Warn("notification replay failed", zap.String("userId", userID), zap.Error(err))
	}
	return s, nil
}

// Disconnect tears a session down. Idempotent.
func (h *Hub) Disconnect(sessionID string) {
	h.Registry.Unregister(sessionID)
}

// Shutdown drains all sessions gracefully: stop sweeps, announce
// server_closing, wait out the grace period, force-close the rest.
func (h *Hub) Shutdown(ctx context.Context) {
	if h.cancel != nil {
		h.cancel()
	}
	h.Registry.Shutdown(ctx, h.cfg.ShutdownGrace)
}

// evict runs exactly once per unregistered session, before the session
// object is discarded: leave every joined room, settle presence, announce
// departure.
func (h *Hub) evict(s *session.Session) {
	for _, roomID := range s.Rooms() {
		h.leaveRoom(s, roomID)
	}
}

func (h *Hub) leaveRoom(s *session.Session, roomID string) {
	h.Rooms.Leave(context.Background(), roomID, s.ID)
	s.UntrackRoom(roomID)
	if h.Presence.Leave(roomID, s.UserID, s.ID) {
		// Last session of this user in the room: now the user is gone.
		h.Rooms.Broadcast(roomID, models.Frame{
			Type: "user_left",
			Data: models.UserEvent{RoomID: roomID, UserID: s.UserID},
		}, s.ID)
		h.publishPresence(roomID, s.UserID, models.StatusOffline)
	}
}

func (h *Hub) publishPresence(roomID, userID string, status models.PresenceStatus) {
	if h.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.StoreTimeout)
	defer cancel()
	err := h.publisher.PublishPresence(ctx, models.PresenceEvent{
		RoomID:     roomID,
		UserID:     userID,
		Status:     status,
		InstanceID: h.instanceID,
		Timestamp:  time.Now(),
	})
	if err != nil {
		h.log.Debug("presence publish failed", zap.String("roomId", roomID), zap.Error(err))
	}
}
