package config

import (
	"os"
	"strconv"
	"time"

	"github.com/signalmesh/realtime/src/types"
)

// Config holds all tunables for the realtime core.
type Config struct {
	// MaxConnections is the per-transport capacity ceiling.
	MaxConnections map[types.TransportKind]int

	// HeartbeatInterval is the per-transport ping period.
	HeartbeatInterval map[types.TransportKind]time.Duration

	// IdleTimeout evicts connections whose last activity is older than
	// this. Defaults to 2x the transport's heartbeat interval.
	IdleTimeout map[types.TransportKind]time.Duration

	// SweepInterval is the period of the idle/stale sweep task.
	SweepInterval time.Duration

	// RingSize bounds the per-channel persisted envelope buffer.
	RingSize int

	// RingRetention keeps an empty channel's ring buffer available for
	// late-join replay before the sweep reclaims it.
	RingRetention time.Duration

	// StreamQueueSize bounds the event-stream outbound queue. Overflow
	// closes the connection rather than stalling the publisher.
	StreamQueueSize int

	// WriteTimeout applies to each push-socket write.
	WriteTimeout time.Duration

	// StaleLinkAge is how long an inactive peer link survives before the
	// sweep tears it down.
	StaleLinkAge time.Duration

	// RequireAuth rejects anonymous handshakes when set.
	RequireAuth bool

	// DefaultRoomSize caps room participants when a join request does not
	// specify a limit.
	DefaultRoomSize int
}

// Default returns the baseline configuration.
func Default() *Config {
	hbPush := 30 * time.Second
	hbStream := 15 * time.Second
	return &Config{
		MaxConnections: map[types.TransportKind]int{
			types.PushSocket:  1000,
			types.EventStream: 1000,
		},
		HeartbeatInterval: map[types.TransportKind]time.Duration{
			types.PushSocket:  hbPush,
			types.EventStream: hbStream,
		},
		IdleTimeout: map[types.TransportKind]time.Duration{
			types.PushSocket:  2 * hbPush,
			types.EventStream: 2 * hbStream,
		},
		SweepInterval:   15 * time.Second,
		RingSize:        100,
		RingRetention:   5 * time.Minute,
		StreamQueueSize: 1000,
		WriteTimeout:    10 * time.Second,
		StaleLinkAge:    10 * time.Minute,
		DefaultRoomSize: 8,
	}
}

// FromEnv loads configuration from environment variables, falling back to
// defaults for any missing or malformed value.
func FromEnv() *Config {
	cfg := Default()

	if n, ok := envInt("REALTIME_MAX_PUSH_CONNECTIONS"); ok {
		cfg.MaxConnections[types.PushSocket] = n
	}
	if n, ok := envInt("REALTIME_MAX_STREAM_CONNECTIONS"); ok {
		cfg.MaxConnections[types.EventStream] = n
	}
	if d, ok := envSeconds("REALTIME_PUSH_HEARTBEAT_SECONDS"); ok {
		cfg.HeartbeatInterval[types.PushSocket] = d
		cfg.IdleTimeout[types.PushSocket] = 2 * d
	}
	if d, ok := envSeconds("REALTIME_STREAM_HEARTBEAT_SECONDS"); ok {
		cfg.HeartbeatInterval[types.EventStream] = d
		cfg.IdleTimeout[types.EventStream] = 2 * d
	}
	if n, ok := envInt("REALTIME_RING_SIZE"); ok {
		cfg.RingSize = n
	}
	if n, ok := envInt("REALTIME_STREAM_QUEUE_SIZE"); ok {
		cfg.StreamQueueSize = n
	}
	if n, ok := envInt("REALTIME_DEFAULT_ROOM_SIZE"); ok {
		cfg.DefaultRoomSize = n
	}
	if v := os.Getenv("REALTIME_REQUIRE_AUTH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RequireAuth = b
		}
	}
	return cfg
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func envSeconds(key string) (time.Duration, bool) {
	n, ok := envInt(key)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
