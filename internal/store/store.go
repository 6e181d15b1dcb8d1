// Package store defines the durable store collaborator consumed by the hub
// and implements it on Redis.
package store

import (
	"context"

	"collabhub/internal/models"
)

// Store is the boundary to durable state. Callers bound every call with a
// context timeout; the hub never blocks indefinitely on the collaborator.
type Store interface {
	// PersistEdit writes the post-edit document state for a room.
	PersistEdit(ctx context.Context, roomID string, version int64, content string) error
	// LoadRoomState returns the persisted document state. ok is false when
	// the room has never been persisted.
	LoadRoomState(ctx context.Context, roomID string) (state models.DocState, ok bool, err error)

	// PersistNotification records an event as pending until acknowledged.
	PersistNotification(ctx context.Context, event models.NotificationEvent) error
	// FetchUndelivered returns pending events for a user, oldest first.
	FetchUndelivered(ctx context.Context, userID string) ([]models.NotificationEvent, error)
	// MarkDelivered removes a pending event. Idempotent.
	MarkDelivered(ctx context.Context, userID, eventID string) error
}

// PresencePublisher announces presence transitions to sibling instances.
// Delivery is best-effort and never load-bearing for correctness.
type PresencePublisher interface {
	PublishPresence(ctx context.Context, event models.PresenceEvent) error
}
