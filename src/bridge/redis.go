// Package bridge forwards room and channel lifecycle events to an external
// durable broker, fire-and-forget. The core never depends on the broker
// being up: forward failures are logged and never block delivery to live
// connections.
package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// lifecycleEvent wraps a forwarded event with the originating instance id
// so cross-process consumers can attribute it.
type lifecycleEvent struct {
	InstanceID string         `json:"instance_id"`
	Event      string         `json:"event"`
	Payload    map[string]any `json:"payload"`
	Timestamp  time.Time      `json:"timestamp"`
}

// RedisForwarder publishes lifecycle events to Redis pub/sub.
type RedisForwarder struct {
	client     *redis.Client
	prefix     string
	instanceID string
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	active bool
}

// NewRedisForwarder creates a forwarder for the given Redis settings.
func NewRedisForwarder(cfg *RedisConfig, logger zerolog.Logger) *RedisForwarder {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisForwarder{
		client:     client,
		prefix:     cfg.Prefix,
		instanceID: uuid.New().String(),
		logger:     logger.With().Str("component", "redis-forwarder").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start verifies the Redis connection. A failure leaves the forwarder
// inactive; the core runs standalone and Forward becomes a no-op.
func (f *RedisForwarder) Start() error {
	if err := f.client.Ping(f.ctx).Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.active = true
	f.mu.Unlock()

	f.logger.Info().Str("instance_id", f.instanceID).Msg("redis forwarder started")
	return nil
}

// Stop closes the Redis connection.
func (f *RedisForwarder) Stop() error {
	f.mu.Lock()
	f.active = false
	f.mu.Unlock()
	f.cancel()
	return f.client.Close()
}

// Available reports whether the forwarder is connected.
func (f *RedisForwarder) Available() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.active
}

// Forward publishes one lifecycle event, fire-and-forget. Errors only log.
func (f *RedisForwarder) Forward(event string, payload map[string]any) {
	if !f.Available() {
		return
	}
	data, err := json.Marshal(lifecycleEvent{
		InstanceID: f.instanceID,
		Event:      event,
		Payload:    payload,
		Timestamp:  time.Now(),
	})
	if err != nil {
		f.logger.Error().Err(err).Str("event", event).Msg("encode lifecycle event failed")
		return
	}
	if err := f.client.Publish(f.ctx, f.prefix+event, data).Err(); err != nil {
		f.logger.Warn().Err(err).Str("event", event).Msg("forward failed")
	}
}
