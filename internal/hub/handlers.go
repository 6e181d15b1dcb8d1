package hub

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"collabhub/internal/models"
	"collabhub/internal/rooms"
	"collabhub/internal/session"
)

// registerHandlers builds the dispatch table. Document rooms accept
// join/leave/heartbeat/edit/cursor; channel rooms accept
// join/leave/message/typing; heartbeat and ack are room-independent.
func (h *Hub) registerHandlers() {
	h.Router.Handle("join", h.handleJoin)
	h.Router.Handle("leave", h.handleLeave)
	h.Router.Handle("heartbeat", h.handleHeartbeat)
	h.Router.Handle("edit", h.handleEdit)
	h.Router.Handle("cursor", h.handleCursor)
	h.Router.Handle("message", h.handleMessage)
	h.Router.Handle("typing", h.handleTyping)
	h.Router.Handle("ack", h.handleAck)
}

func (h *Hub) sendError(s *session.Session, code, message string) {
	_ = h.Registry.Send(s.ID, models.ErrorFrame(code, message))
}

func (h *Hub) handleJoin(s *session.Session, frame models.Frame) {
	var req models.JoinRequest
	if err := models.DecodeData(frame.Data, &req); err != nil || req.RoomID == "" {
		h.sendError(s, "bad_payload", "join requires roomId")
		return
	}
	if len(s.Rooms()) >= h.cfg.MaxRoomsPerSession {
		h.sendError(s, "too_many_rooms", "room limit reached, leave a room first")
		return
	}

	snap, err := h.Rooms.Join(context.Background(), req.RoomID, req.Kind, s.ID)
	if err != nil {
		if errors.Is(err, rooms.ErrKindMismatch) {
			h.sendError(s, "room_kind_mismatch", req.RoomID)
			return
		}
		h.log.Warn("join failed", zap.String("roomId", req.RoomID), zap.Error(err))
		h.sendError(s, "join_failed", req.RoomID)
		return
	}
	s.TrackRoom(req.RoomID)
	h.Presence.Join(req.RoomID, s.UserID, s.ID)

	if snap.Kind == models.KindDocument {
		_ = h.Registry.Send(s.ID, models.Frame{Type: "document_state", Data: snap.Doc})
	}
	_ = h.Registry.Send(s.ID, models.Frame{Type: "presence", Data: models.PresenceSnapshot{
		RoomID:      req.RoomID,
		OnlineUsers: h.Presence.Snapshot(req.RoomID),
	}})
	h.Rooms.Broadcast(req.RoomID, models.Frame{
		Type: "user_joined",
		Data: models.UserEvent{RoomID: req.RoomID, UserID: s.UserID},
	}, s.ID)
	h.publishPresence(req.RoomID, s.UserID, models.StatusOnline)
}

func (h *Hub) handleLeave(s *session.Session, frame models.Frame) {
	var req models.LeaveRequest
	if err := models.DecodeData(frame.Data, &req); err != nil || req.RoomID == "" {
		h.sendError(s, "bad_payload", "leave requires roomId")
		return
	}
	if !s.InRoom(req.RoomID) {
		h.sendError(s, "not_in_room", req.RoomID)
		return
	}
	h.leaveRoom(s, req.RoomID)
}

func (h *Hub) handleHeartbeat(s *session.Session, _ models.Frame) {
	_ = h.Registry.Heartbeat(s.ID)
	for _, roomID := range s.Rooms() {
		// Refresh only: a heartbeat between typing updates must not reset
		// the user's typing status.
		h.Presence.Touch(roomID, s.UserID, "")
	}
}

func (h *Hub) handleEdit(s *session.Session, frame models.Frame) {
	var req models.Edit
	if err := models.DecodeData(frame.Data, &req); err != nil || req.RoomID == "" {
		h.sendError(s, "bad_payload", "edit requires roomId and baseVersion")
		return
	}

	outcome, err := h.Rooms.ProposeEdit(context.Background(), req.RoomID, req.BaseVersion, req.Payload, s.ID)
	if err != nil {
		switch {
		case errors.Is(err, rooms.ErrPersist):
			h.sendError(s, "edit_persist_failed", req.RoomID)
		case errors.Is(err, rooms.ErrKindMismatch), errors.Is(err, rooms.ErrNotDocument):
			h.sendError(s, "room_kind_mismatch", req.RoomID)
		default:
			h.sendError(s, "edit_failed", req.RoomID)
		}
		return
	}
	if !outcome.Accepted {
		// Expected, frequent, not a failure: the client rebases and retries.
		_ = h.Registry.Send(s.ID, models.Frame{Type: "version_conflict", Data: models.VersionConflict{
			CurrentVersion: outcome.Doc.Version,
			CurrentContent: outcome.Doc.Content,
		}})
	}
}

func (h *Hub) handleCursor(s *session.Session, frame models.Frame) {
	var req models.Cursor
	if err := models.DecodeData(frame.Data, &req); err != nil || req.RoomID == "" {
		h.sendError(s, "bad_payload", "cursor requires roomId")
		return
	}
	if !s.InRoom(req.RoomID) {
		h.sendError(s, "not_in_room", req.RoomID)
		return
	}
	if kind, ok := h.Rooms.Kind(req.RoomID); ok && kind != models.KindDocument {
		h.sendError(s, "room_kind_mismatch", req.RoomID)
		return
	}
	req.UserID = s.UserID
	h.Presence.Touch(req.RoomID, s.UserID, models.StatusOnline)
	h.Rooms.Broadcast(req.RoomID, models.Frame{Type: "cursor", Data: req}, s.ID)
}

func (h *Hub) handleMessage(s *session.Session, frame models.Frame) {
	var req models.Chat
	if err := models.DecodeData(frame.Data, &req); err != nil || req.RoomID == "" {
		h.sendError(s, "bad_payload", "message requires roomId")
		return
	}
	if !s.InRoom(req.RoomID) {
		h.sendError(s, "not_in_room", req.RoomID)
		return
	}
	if kind, ok := h.Rooms.Kind(req.RoomID); ok && kind != models.KindChannel {
		h.sendError(s, "room_kind_mismatch", req.RoomID)
		return
	}
	req.UserID = s.UserID
	h.Presence.Touch(req.RoomID, s.UserID, models.StatusOnline)
	h.Rooms.Broadcast(req.RoomID, models.Frame{Type: "message", Data: req}, s.ID)
}

func (h *Hub) handleTyping(s *session.Session, frame models.Frame) {
	var req models.Typing
	if err := models.DecodeData(frame.Data, &req); err != nil || req.RoomID == "" {
		h.sendError(s, "bad_payload", "typing requires roomId")
		return
	}
	if !s.InRoom(req.RoomID) {
		h.sendError(s, "not_in_room", req.RoomID)
		return
	}
	if kind, ok := h.Rooms.Kind(req.RoomID); ok && kind != models.KindChannel {
		h.sendError(s, "room_kind_mismatch", req.RoomID)
		return
	}
	status := models.StatusOnline
	if req.IsTyping {
		status = models.StatusTyping
	}
	req.UserID = s.UserID
	h.Presence.Touch(req.RoomID, s.UserID, status)
	h.Rooms.Broadcast(req.RoomID, models.Frame{Type: "typing", Data: req}, s.ID)
}

func (h *Hub) handleAck(s *session.Session, frame models.Frame) {
	var req models.Ack
	if err := models.DecodeData(frame.Data, &req); err != nil || req.EventID == "" {
		h.sendError(s, "bad_payload", "ack requires eventId")
		return
	}
	if err := h.Notify.Acknowledge(context.Background(), s.UserID, req.EventID); err != nil {
		h.log.Warn("acknowledge failed", zap.String("eventId", req.EventID), zap.Error(err))
		h.sendError(s, "ack_failed", req.EventID)
	}
}
