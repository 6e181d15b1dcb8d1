package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"collabhub/internal/models"
)

const (
	roomKeyPrefix   = "room:"
	notifyKeyPrefix = "notifications:"

	// PresenceChannel carries cross-instance presence events.
	PresenceChannel = "collab:presence"
)

// RedisStore keeps room document state and pending notifications in Redis.
// Room and notification keys expire after the retention window; the hub
// re-persists on every accepted edit so active rooms never expire.
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
}

func NewRedisStore(rdb *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, retention: retention}
}

func (s *RedisStore) PersistEdit(ctx context.Context, roomID string, version int64, content string) error {
	key := roomKeyPrefix + roomID
	if err := s.rdb.HSet(ctx, key, map[string]interface{}{
		"version": version,
		"content": content,
	}).Err(); err != nil {
		return fmt.Errorf("persist room %s: %w", roomID, err)
	}
	return s.rdb.Expire(ctx, key, s.retention).Err()
}

func (s *RedisStore) LoadRoomState(ctx context.Context, roomID string) (models.DocState, bool, error) {
	fields, err := s.rdb.HGetAll(ctx, roomKeyPrefix+roomID).Result()
	if err != nil {
		return models.DocState{}, false, fmt.Errorf("load room %s: %w", roomID, err)
	}
	if len(fields) == 0 {
		return models.DocState{}, false, nil
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return models.DocState{}, false, fmt.Errorf("load room %s: bad version %q", roomID, fields["version"])
	}
	return models.DocState{Content: fields["content"], Version: version}, true, nil
}

func (s *RedisStore) PersistNotification(ctx context.Context, event models.NotificationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification %s: %w", event.EventID, err)
	}
	key := notifyKeyPrefix + event.UserID
	if err := s.rdb.HSet(ctx, key, event.EventID, data).Err(); err != nil {
		return fmt.Errorf("persist notification %s: %w", event.EventID, err)
	}
	return s.rdb.Expire(ctx, key, s.retention).Err()
}

func (s *RedisStore) FetchUndelivered(ctx context.Context, userID string) ([]models.NotificationEvent, error) {
	fields, err := s.rdb.HGetAll(ctx, notifyKeyPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch undelivered for %s: %w", userID, err)
	}
	events := make([]models.NotificationEvent, 0, len(fields))
	for _, raw := range fields {
		var ev models.NotificationEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events, nil
}

func (s *RedisStore) MarkDelivered(ctx context.Context, userID, eventID string) error {
	return s.rdb.HDel(ctx, notifyKeyPrefix+userID, eventID).Err()
}

func (s *RedisStore) PublishPresence(ctx context.Context, event models.PresenceEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal presence event: %w", err)
	}
	return s.rdb.Publish(ctx, PresenceChannel, data).Err()
}
