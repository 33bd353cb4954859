// Package broker maps channel names to subscriber sets and bounded
// ring buffers of persisted envelopes. Fan-out is best-effort per
// recipient: one dead subscriber never blocks the rest, it just gets
// scheduled for unregistration.
package broker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/signalmesh/realtime/src/registry"
	"github.com/signalmesh/realtime/src/types"
)

type channel struct {
	subscribers map[string]struct{}
	ring        *ring
	// emptySince is set when the last subscriber leaves while the ring
	// still holds envelopes; the sweep reclaims the channel after the
	// retention window.
	emptySince time.Time
}

// Broker owns the channel map. The registry is consulted read-only to
// resolve subscriber ids to deliverable connections.
type Broker struct {
	mu       sync.Mutex
	channels map[string]*channel

	registry *registry.Registry
	ringSize int
	logger   zerolog.Logger
}

// New creates a broker. ringSize bounds each channel's persisted buffer.
func New(reg *registry.Registry, ringSize int, logger zerolog.Logger) *Broker {
	return &Broker{
		channels: make(map[string]*channel),
		registry: reg,
		ringSize: ringSize,
		logger:   logger.With().Str("component", "broker").Logger(),
	}
}

// Subscribe adds a connection to a channel, creating the channel lazily.
// If the channel holds persisted envelopes they are replayed to the new
// subscriber in original publish order before Subscribe returns.
func (b *Broker) Subscribe(connID, name string) error {
	conn, ok := b.registry.Get(connID)
	if !ok {
		return types.ErrUnknownConnection
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[name]
	if !ok {
		ch = &channel{subscribers: make(map[string]struct{}), ring: newRing(b.ringSize)}
		b.channels[name] = ch
	}
	ch.subscribers[connID] = struct{}{}
	ch.emptySince = time.Time{}

	for _, env := range ch.ring.snapshot() {
		if err := conn.Send(env); err != nil {
			// Replay failure means the transport died mid-handshake;
			// the subscription stands and cleanup runs asynchronously.
			go b.registry.Unregister(connID)
			break
		}
	}

	b.logger.Debug().Str("connection_id", connID).Str("channel", name).Msg("subscribed")
	return nil
}

// Unsubscribe removes a connection from a channel. The channel is deleted
// once both its subscriber set and its ring buffer are empty.
func (b *Broker) Unsubscribe(connID, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[name]
	if !ok {
		return types.ErrChannelNotFound
	}
	delete(ch.subscribers, connID)
	b.reapLocked(name, ch)

	b.logger.Debug().Str("connection_id", connID).Str("channel", name).Msg("unsubscribed")
	return nil
}

// Publish delivers an envelope to every subscriber of the channel. With
// persist it also appends to the channel's ring buffer, creating the
// channel if needed. Publishes to the same channel are serialized here so
// every subscriber observes them in publish order.
func (b *Broker) Publish(name string, env types.Envelope, persist bool) types.DeliveryReport {
	b.mu.Lock()
	defer b.mu.Unlock()

	env.Channel = name
	env.Scope = types.ChannelScope(name)

	ch, ok := b.channels[name]
	if !ok {
		if !persist {
			return types.DeliveryReport{}
		}
		ch = &channel{subscribers: make(map[string]struct{}), ring: newRing(b.ringSize)}
		ch.emptySince = time.Now()
		b.channels[name] = ch
	}
	if persist {
		ch.ring.append(env)
	}

	ids := make([]string, 0, len(ch.subscribers))
	for id := range ch.subscribers {
		ids = append(ids, id)
	}
	return b.deliver(ids, env)
}

// Broadcast delivers an envelope to every registered connection except the
// excluded ids. Channels are not involved.
func (b *Broker) Broadcast(env types.Envelope, exclude map[string]struct{}) types.DeliveryReport {
	env.Scope = types.Scope{Kind: types.ScopeBroadcast, Exclude: exclude}

	ids := make([]string, 0)
	for _, conn := range b.registry.Snapshot() {
		if _, skip := exclude[conn.ID]; skip {
			continue
		}
		ids = append(ids, conn.ID)
	}
	return b.deliver(ids, env)
}

// deliver fans out to the given connection ids. A failed recipient is
// recorded and scheduled for unregistration; a connection that vanished
// mid-iteration is a harmless skip.
func (b *Broker) deliver(ids []string, env types.Envelope) types.DeliveryReport {
	var report types.DeliveryReport
	for _, id := range ids {
		conn, ok := b.registry.Get(id)
		if !ok {
			continue
		}
		if err := conn.Send(env); err != nil {
			if errors.Is(err, types.ErrUnknownConnection) {
				continue
			}
			report.Failed = append(report.Failed, id)
			b.logger.Warn().Err(err).Str("connection_id", id).Msg("delivery failed, scheduling unregister")
			go b.registry.Unregister(id)
			continue
		}
		report.Sent++
	}
	return report
}

// DropConnection removes a connection from every channel. Invoked from the
// registry's unregister cascade.
func (b *Broker) DropConnection(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, ch := range b.channels {
		delete(ch.subscribers, connID)
		b.reapLocked(name, ch)
	}
}

// reapLocked deletes a channel with no subscribers and an empty ring, or
// starts the retention clock when only the ring keeps it alive.
func (b *Broker) reapLocked(name string, ch *channel) {
	if len(ch.subscribers) > 0 {
		return
	}
	if ch.ring.len() == 0 {
		delete(b.channels, name)
		b.logger.Debug().Str("channel", name).Msg("channel removed")
		return
	}
	if ch.emptySince.IsZero() {
		ch.emptySince = time.Now()
	}
}

// ExpireIdle reclaims subscriber-less channels whose ring buffers have
// outlived the retention window. The ring alone keeps a channel alive only
// for late-join replay, not for routing.
func (b *Broker) ExpireIdle(retention time.Duration) {
	cutoff := time.Now().Add(-retention)
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, ch := range b.channels {
		if len(ch.subscribers) == 0 && !ch.emptySince.IsZero() && ch.emptySince.Before(cutoff) {
			delete(b.channels, name)
			b.logger.Debug().Str("channel", name).Msg("idle channel expired")
		}
	}
}

// Subscribers returns the subscriber count for a channel, failing with
// ErrChannelNotFound when it does not exist.
func (b *Broker) Subscribers(name string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[name]
	if !ok {
		return 0, types.ErrChannelNotFound
	}
	return len(ch.subscribers), nil
}

// Channels returns channel names with their subscriber counts.
func (b *Broker) Channels() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.channels))
	for name, ch := range b.channels {
		out[name] = len(ch.subscribers)
	}
	return out
}

// ChannelCount returns the number of resident channels.
func (b *Broker) ChannelCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels)
}
