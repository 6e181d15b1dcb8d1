package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"collabhub/internal/models"
)

// setupTestRedis creates a miniredis instance and a redis client for testing
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return mr, client
}

func TestPersistAndLoadRoomState(t *testing.T) {
	_, rdb := setupTestRedis(t)
	s := NewRedisStore(rdb, time.Hour)
	ctx := context.Background()

	err := s.PersistEdit(ctx, "doc-1", 3, "hello world")
	assert.NoError(t, err)

	state, ok, err := s.LoadRoomState(ctx, "doc-1")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), state.Version)
	assert.Equal(t, "hello world", state.Content)
}

func TestLoadRoomStateMissing(t *testing.T) {
	_, rdb := setupTestRedis(t)
	s := NewRedisStore(rdb, time.Hour)

	_, ok, err := s.LoadRoomState(context.Background(), "nope")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestPersistEditSetsExpiry(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	s := NewRedisStore(rdb, time.Hour)

	err := s.PersistEdit(context.Background(), "doc-1", 1, "x")
	assert.NoError(t, err)

	ttl := mr.TTL("room:doc-1")
	assert.Greater(t, ttl, time.Duration(0))
}

func TestNotificationLifecycle(t *testing.T) {
	_, rdb := setupTestRedis(t)
	s := NewRedisStore(rdb, time.Hour)
	ctx := context.Background()

	first := models.NotificationEvent{
		EventID:   "ev-1",
		UserID:    "alice",
		Type:      "mention",
		CreatedAt: time.Now().Add(-time.Minute).UTC(),
	}
	second := models.NotificationEvent{
		EventID:   "ev-2",
		UserID:    "alice",
		Type:      "invite",
		CreatedAt: time.Now().UTC(),
	}
	assert.NoError(t, s.PersistNotification(ctx, second))
	assert.NoError(t, s.PersistNotification(ctx, first))

	events, err := s.FetchUndelivered(ctx, "alice")
	assert.NoError(t, err)
	assert.Len(t, events, 2)
	// Oldest first, regardless of insertion order.
	assert.Equal(t, "ev-1", events[0].EventID)
	assert.Equal(t, "ev-2", events[1].EventID)

	assert.NoError(t, s.MarkDelivered(ctx, "alice", "ev-1"))
	events, err = s.FetchUndelivered(ctx, "alice")
	assert.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, "ev-2", events[0].EventID)

	// Idempotent: acknowledging again is a no-op.
	assert.NoError(t, s.MarkDelivered(ctx, "alice", "ev-1"))
}

func TestFetchUndeliveredEmpty(t *testing.T) {
	_, rdb := setupTestRedis(t)
	s := NewRedisStore(rdb, time.Hour)

	events, err := s.FetchUndelivered(context.Background(), "nobody")
	assert.NoError(t, err)
	assert.Empty(t, events)
}

func TestPublishPresence(t *testing.T) {
	_, rdb := setupTestRedis(t)
	s := NewRedisStore(rdb, time.Hour)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, PresenceChannel)
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	assert.NoError(t, err)

	err = s.PublishPresence(ctx, models.PresenceEvent{
		RoomID: "doc-1", UserID: "alice", Status: models.StatusOnline, Timestamp: time.Now(),
	})
	assert.NoError(t, err)

	select {
	case msg := <-sub.Channel():
		var ev models.PresenceEvent
		assert.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, "alice", ev.UserID)
		assert.Equal(t, models.StatusOnline, ev.Status)
	case <-time.After(time.Second):
		t.Fatal("expected presence event on channel")
	}
}
