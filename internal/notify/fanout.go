// Package notify fans out per-user notification events with at-least-once
// delivery. An event is persisted as pending before any live push, so an
// offline user receives it on next connect via Replay. Consumers
// de-duplicate on event ID; the same event may arrive once by live push and
// once by replay when the acknowledgement race is lost.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"collabhub/internal/metrics"
	"collabhub/internal/models"
	"collabhub/internal/store"
)

// UserSender pushes a frame to every live session of a user. Satisfied by
// the session registry.
type UserSender interface {
	SendToUser(userID string, frame models.Frame) int
}

type Fanout struct {
	store        store.Store
	sender       UserSender
	storeTimeout time.Duration
	log          *zap.Logger
}

func NewFanout(st store.Store, sender UserSender, storeTimeout time.Duration, log *zap.Logger) *Fanout {
	return &Fanout{store: st, sender: sender, storeTimeout: storeTimeout, log: log}
}

// Enqueue records the event as pending and attempts immediate delivery to
// every connected session of the target user. The persist is the source of
// truth; a failed persist fails the enqueue even if a live push would have
// worked, because the event would be lost if the push is missed.
func (f *Fanout) Enqueue(ctx context.Context, event models.NotificationEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.UserID == "" {
		return fmt.Errorf("notification %s: missing user id", event.EventID)
	}

	pctx, cancel := context.WithTimeout(ctx, f.storeTimeout)
	err := f.store.PersistNotification(pctx, event)
	cancel()
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}

	delivered := f.sender.SendToUser(event.UserID, notificationFrame(event))
	if delivered > 0 {
		metrics.NotificationsDelivered.Inc()
	}
	f.log.Debug("notification enqueued",
		zap.String("eventId", event.EventID),
		zap.String("userId", event.UserID),
		zap.Int("liveSessions", delivered))
	return nil
}

// Replay pushes every undelivered event to the user's live sessions. Called
// on session registration so an offline window never loses events.
func (f *Fanout) Replay(ctx context.Context, userID string) ([]models.NotificationEvent, error) {
	fctx, cancel := context.WithTimeout(ctx, f.storeTimeout)
	events, err := f.store.FetchUndelivered(fctx, userID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("replay for %s: %w", userID, err)
	}
	for _, ev := range events {
		if f.sender.SendToUser(userID, notificationFrame(ev)) > 0 {
			metrics.NotificationsDelivered.Inc()
		}
	}
	return events, nil
}

// Acknowledge marks an event delivered. Idempotent; acknowledging an
// already-delivered or unknown event is a no-op.
func (f *Fanout) Acknowledge(ctx context.Context, userID, eventID string) error {
	actx, cancel := context.WithTimeout(ctx, f.storeTimeout)
	defer cancel()
	if err := f.store.MarkDelivered(actx, userID, eventID); err != nil {
		return fmt.Errorf("acknowledge %s: %w", eventID, err)
	}
	return nil
}

func notificationFrame(ev models.NotificationEvent) models.Frame {
	return models.Frame{Type: "notification", Data: map[string]any{"event": ev}}
}
