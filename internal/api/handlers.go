package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabhub/internal/hub"
	"collabhub/internal/models"
	"collabhub/internal/utils"
)

type Handlers struct {
	log *zap.Logger
	hub *hub.Hub
}

func NewHandlers(log *zap.Logger, h *hub.Hub) *Handlers {
	return &Handlers{log: log, hub: h}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

// RoomStatus returns a live room snapshot (members, version).
func (h *Handlers) RoomStatus(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	status, ok := h.hub.Rooms.Status(roomID)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	writeJSON(w, status)
}

// NotifyUser is the producer-facing entrypoint for notification events. The
// event is durable before the 202 is returned; delivery to live sessions is
// best-effort here, replay covers the rest.
func (h *Handlers) NotifyUser(w http.ResponseWriter, r *http.Request) {
	var event models.NotificationEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil || event.UserID == "" {
		http.Error(w, "notification requires a userId", http.StatusBadRequest)
		return
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if err := h.hub.Notify.Enqueue(r.Context(), event); err != nil {
		h.log.Error("enqueue notification failed", zap.String("eventId", event.EventID), zap.Error(err))
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"eventId": event.EventID})
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// HubWS is the websocket entrypoint. The handshake token rides in the
// ?token= query parameter or the Authorization header; authentication
// happens before the upgrade so a bad token is an HTTP 401, not a websocket
// close.
func (h *Handlers) HubWS(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		if fromHeader, err := utils.ExtractTokenFromHeader(r.Header.Get("Authorization")); err == nil {
			tokenString = fromHeader
		}
	}
	claims, err := utils.ValidateSessionToken(tokenString)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess, err := h.hub.Connect(claims.UserID, conn)
	if err != nil {
		_ = conn.WriteJSON(models.ErrorFrame("auth_required", err.Error()))
		_ = conn.Close()
		return
	}
	defer h.hub.Disconnect(sess.ID)

	// Read loop. Dispatch is synchronous, which preserves per-session
	// inbound ordering; cross-session interleaving is arbitrated per room.
	for {
		var frame models.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("websocket read failed", zap.String("sessionId", sess.ID), zap.Error(err))
			}
			return
		}
		h.hub.Router.Dispatch(sess.ID, frame)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
