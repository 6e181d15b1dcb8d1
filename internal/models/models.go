package models

import (
	"encoding/json"
	"time"
)

type RoomKind string

const (
	KindDocument RoomKind = "document"
	KindChannel  RoomKind = "channel"
)

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusTyping  PresenceStatus = "typing"
	StatusIdle    PresenceStatus = "idle"
	StatusOffline PresenceStatus = "offline"
)

// Frame is the wire envelope for every inbound and outbound message.
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// DecodeData re-marshals a frame's data object into a typed payload.
func DecodeData(in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func ErrorFrame(code, message string) Frame {
	return Frame{Type: "error", Data: ErrorPayload{Code: code, Message: message}}
}

/*** Client-originated payloads ***/

type JoinRequest struct {
	RoomID string   `json:"roomId"`
	Kind   RoomKind `json:"kind"`
}

type LeaveRequest struct {
	RoomID string `json:"roomId"`
}

type Edit struct {
	RoomID      string `json:"roomId"`
	BaseVersion int64  `json:"baseVersion"`
	Payload     string `json:"payload"`
}

type Cursor struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId,omitempty"`
	Position int    `json:"position"`
}

type Chat struct {
	RoomID  string `json:"roomId"`
	UserID  string `json:"userId,omitempty"`
	Content string `json:"content"`
}

type Typing struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

type Ack struct {
	EventID string `json:"eventId"`
}

/*** Server-originated payloads ***/

type DocState struct {
	Content string `json:"content"`
	Version int64  `json:"version"`
}

type DocumentUpdated struct {
	Content         string `json:"content"`
	Version         int64  `json:"version"`
	AuthorSessionID string `json:"authorSessionId"`
}

type VersionConflict struct {
	CurrentVersion int64  `json:"currentVersion"`
	CurrentContent string `json:"currentContent"`
}

type UserEvent struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type PresenceEntry struct {
	UserID   string         `json:"userId"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"lastSeen"`
}

type PresenceSnapshot struct {
	RoomID      string          `json:"roomId"`
	OnlineUsers []PresenceEntry `json:"onlineUsers"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// NotificationEvent is a per-user event delivered independently of rooms.
// EventID is the de-duplication key for at-least-once delivery.
type NotificationEvent struct {
	EventID   string          `json:"eventId"`
	UserID    string          `json:"userId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// PresenceEvent is published on Redis so sibling instances can observe
// join/leave activity. Best-effort only.
type PresenceEvent struct {
	RoomID     string         `json:"roomId"`
	UserID     string         `json:"userId"`
	Status     PresenceStatus `json:"status"`
	InstanceID string         `json:"instanceId,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// RoomStatus is the HTTP introspection view of a live room.
type RoomStatus struct {
	RoomID      string   `json:"roomId"`
	Kind        RoomKind `json:"kind"`
	MemberCount int      `json:"memberCount"`
	Members     []string `json:"members"`
	Version     int64    `json:"version,omitempty"`
	CreatedAt   string   `json:"createdAt"`
}
