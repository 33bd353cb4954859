// Package heartbeat supervises connection liveness: one ticker task per
// connection sends HEARTBEAT envelopes, and a single idle sweep evicts
// connections whose transport accepts writes but never reads (half-open
// sockets). Both paths converge on the registry's Unregister so cascading
// cleanup runs uniformly.
package heartbeat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/signalmesh/realtime/src/broker"
	"github.com/signalmesh/realtime/src/codec"
	"github.com/signalmesh/realtime/src/registry"
	"github.com/signalmesh/realtime/src/signaling"
	"github.com/signalmesh/realtime/src/types"
)

// Supervisor owns the per-connection heartbeat tasks and the idle sweep.
type Supervisor struct {
	registry *registry.Registry
	broker   *broker.Broker
	router   *signaling.Router

	interval      map[types.TransportKind]time.Duration
	idleTimeout   map[types.TransportKind]time.Duration
	sweepInterval time.Duration
	ringRetention time.Duration
	staleLinkAge  time.Duration

	logger zerolog.Logger
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// Options carries the supervision periods, typically from config.
type Options struct {
	Interval      map[types.TransportKind]time.Duration
	IdleTimeout   map[types.TransportKind]time.Duration
	SweepInterval time.Duration
	RingRetention time.Duration
	StaleLinkAge  time.Duration
}

// New creates a supervisor. Call Start to launch the sweep and Watch for
// each connection after its handshake completes.
func New(reg *registry.Registry, b *broker.Broker, r *signaling.Router, opts Options, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		registry:      reg,
		broker:        b,
		router:        r,
		interval:      opts.Interval,
		idleTimeout:   opts.IdleTimeout,
		sweepInterval: opts.SweepInterval,
		ringRetention: opts.RingRetention,
		staleLinkAge:  opts.StaleLinkAge,
		logger:        logger.With().Str("component", "heartbeat").Logger(),
		done:          make(chan struct{}),
	}
}

// Start launches the idle-sweep task. Call in a goroutine-safe context;
// Stop shuts it down.
func (s *Supervisor) Start() {
	s.wg.Add(1)
	go s.sweepLoop()
}

// Stop cancels the sweep. Per-connection tasks stop through their
// connection's done channel on unregister.
func (s *Supervisor) Stop() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}

// Watch spawns the heartbeat task for a connection. The task ends when the
// connection is unregistered or the supervisor stops.
func (s *Supervisor) Watch(conn *registry.Connection) {
	interval, ok := s.interval[conn.Kind]
	if !ok || interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				env := codec.NewEnvelope(types.KindHeartbeat)
				env.Scope = types.DirectScope(conn.ID)
				if err := conn.Send(env); err != nil {
					s.logger.Warn().Err(err).
						Str("connection_id", conn.ID).
						Msg("heartbeat failed, evicting")
					s.registry.Unregister(conn.ID)
					return
				}
			case <-conn.Done():
				return
			case <-s.done:
				return
			}
		}
	}()
}

// sweepLoop periodically evicts idle connections, expires retained channel
// ring buffers, and drops stale peer links.
func (s *Supervisor) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

func (s *Supervisor) sweep() {
	now := time.Now()
	for _, conn := range s.registry.Snapshot() {
		timeout, ok := s.idleTimeout[conn.Kind]
		if !ok || timeout <= 0 {
			continue
		}
		if now.Sub(conn.LastActivity()) > timeout {
			s.logger.Info().
				Str("connection_id", conn.ID).
				Str("transport", string(conn.Kind)).
				Dur("idle", now.Sub(conn.LastActivity())).
				Msg("idle connection evicted")
			s.registry.Unregister(conn.ID)
		}
	}
	if s.broker != nil && s.ringRetention > 0 {
		s.broker.ExpireIdle(s.ringRetention)
	}
	if s.router != nil && s.staleLinkAge > 0 {
		s.router.SweepStaleLinks(s.staleLinkAge)
	}
}
