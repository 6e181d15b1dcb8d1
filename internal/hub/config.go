package hub

import "time"

type Config struct {
	// SessionTTL is how long a session survives without a heartbeat.
	SessionTTL time.Duration
	// PresenceTTL bounds how stale a presence entry may be and still show
	// up in snapshots.
	PresenceTTL time.Duration
	// SweepInterval drives the idle-session and presence sweeps.
	SweepInterval time.Duration
	// StoreTimeout bounds every durable-store call.
	StoreTimeout time.Duration
	// ShutdownGrace is how long drained sessions get between the
	// server_closing frame and the forced close.
	ShutdownGrace time.Duration
	// SendQueueSize is the per-session outbound buffer; overflow drops the
	// session rather than backpressuring the room.
	SendQueueSize int
	// MaxRoomsPerSession caps concurrent memberships per session.
	MaxRoomsPerSession int
}

func DefaultConfig() Config {
	return Config{
		SessionTTL:         90 * time.Second,
		PresenceTTL:        90 * time.Second,
		SweepInterval:      30 * time.Second,
		StoreTimeout:       3 * time.Second,
		ShutdownGrace:      5 * time.Second,
		SendQueueSize:      64,
		MaxRoomsPerSession: 32,
	}
}
