package bridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleEventSerialization(t *testing.T) {
	ev := lifecycleEvent{
		InstanceID: "instance-abc",
		Event:      "room_created",
		Payload:    map[string]any{"room_id": "r1", "creator_id": "p1"},
		Timestamp:  time.Now().Truncate(time.Second),
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded lifecycleEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "instance-abc", decoded.InstanceID)
	assert.Equal(t, "room_created", decoded.Event)
	assert.Equal(t, "r1", decoded.Payload["room_id"])
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, "realtime:events:", cfg.Prefix)
}

func TestRedisConfigFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.example.com:6380")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_EVENT_PREFIX", "test:events:")

	cfg := RedisConfigFromEnv()
	assert.Equal(t, "redis.example.com:6380", cfg.Addr)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, 3, cfg.DB)
	assert.Equal(t, "test:events:", cfg.Prefix)
}

func TestRedisConfigFromEnvInvalidDB(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := RedisConfigFromEnv()
	assert.Equal(t, 0, cfg.DB)
}

func TestForwarderInactiveBeforeStart(t *testing.T) {
	f := NewRedisForwarder(DefaultRedisConfig(), zerolog.Nop())
	assert.False(t, f.Available())

	// Forward on an inactive forwarder is a silent no-op.
	f.Forward("room_created", map[string]any{"room_id": "r1"})
}

func TestForwarderInstanceIDUnique(t *testing.T) {
	f1 := NewRedisForwarder(DefaultRedisConfig(), zerolog.Nop())
	f2 := NewRedisForwarder(DefaultRedisConfig(), zerolog.Nop())
	assert.NotEqual(t, f1.instanceID, f2.instanceID)
}
