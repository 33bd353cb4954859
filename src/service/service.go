// Package service wires the realtime core together: one Service per
// process owns the registry, broker, signaling router, and heartbeat
// supervisor, and dispatches client commands to them. No global state;
// isolated instances are cheap, which is how the tests run.
package service

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/signalmesh/realtime/config"
	"github.com/signalmesh/realtime/src/broker"
	"github.com/signalmesh/realtime/src/codec"
	"github.com/signalmesh/realtime/src/heartbeat"
	"github.com/signalmesh/realtime/src/registry"
	"github.com/signalmesh/realtime/src/signaling"
	"github.com/signalmesh/realtime/src/types"
)

// Service is the high-level API of the realtime core.
type Service struct {
	cfg        *config.Config
	registry   *registry.Registry
	broker     *broker.Broker
	router     *signaling.Router
	supervisor *heartbeat.Supervisor
	logger     zerolog.Logger

	// handlers is the command dispatch table, built once at construction.
	// Resolution is a pure map lookup.
	handlers map[string]handlerFunc
}

type handlerFunc func(conn *registry.Connection, cmd *types.Command) (map[string]any, error)

// New constructs a fully wired core. forwarder may be nil for standalone
// deployments.
func New(cfg *config.Config, forwarder signaling.LifecycleForwarder, logger zerolog.Logger) *Service {
	s := &Service{cfg: cfg, logger: logger.With().Str("component", "service").Logger()}

	s.registry = registry.New(cfg.MaxConnections, logger)
	s.broker = broker.New(s.registry, cfg.RingSize, logger)
	s.router = signaling.New(s.DeliverToPeer, forwarder, cfg.DefaultRoomSize, logger)
	s.supervisor = heartbeat.New(s.registry, s.broker, s.router, heartbeat.Options{
		Interval:      cfg.HeartbeatInterval,
		IdleTimeout:   cfg.IdleTimeout,
		SweepInterval: cfg.SweepInterval,
		RingRetention: cfg.RingRetention,
		StaleLinkAge:  cfg.StaleLinkAge,
	}, logger)

	// Unregister cascade: drop channel subscriptions always; leave rooms
	// only when the identity has no connection left on either transport.
	s.registry.OnUnregister(func(conn *registry.Connection) {
		s.broker.DropConnection(conn.ID)
		peer := PeerID(conn)
		if conn.Anonymous() || !s.registry.HasIdentity(conn.Identity) {
			s.router.CleanupPeer(peer)
		}
	})

	s.handlers = map[string]handlerFunc{
		"subscribe":   s.handleSubscribe,
		"unsubscribe": s.handleUnsubscribe,
		"publish":     s.handlePublish,
		"direct":      s.handleDirect,
		"broadcast":   s.handleBroadcast,
		"ping":        s.handlePing,
		"join_room":   s.handleJoinRoom,
		"leave_room":  s.handleLeaveRoom,
		"signal":      s.handleSignal,
		"stats":       s.handleStats,
	}
	return s
}

// Start launches the idle sweep.
func (s *Service) Start() { s.supervisor.Start() }

// Stop drains every connection and halts the supervisor.
func (s *Service) Stop() {
	for _, conn := range s.registry.Snapshot() {
		s.registry.MarkDraining(conn.ID)
		s.registry.Unregister(conn.ID)
	}
	s.supervisor.Stop()
}

// Registry exposes the connection registry to the transport layer.
func (s *Service) Registry() *registry.Registry { return s.registry }

// Broker exposes the channel broker.
func (s *Service) Broker() *broker.Broker { return s.broker }

// Router exposes the signaling router.
func (s *Service) Router() *signaling.Router { return s.router }

// Supervisor exposes the heartbeat supervisor so transports can Watch new
// connections.
func (s *Service) Supervisor() *heartbeat.Supervisor { return s.supervisor }

// PeerID resolves a connection to its logical peer id: the authenticated
// identity when present, the connection id for anonymous peers.
func PeerID(conn *registry.Connection) string {
	if conn.Identity != "" {
		return conn.Identity
	}
	return conn.ID
}

// DeliverToPeer fans an envelope out to every live connection of a logical
// peer: all connections of the identity, or the single connection whose id
// matches. Room membership does not guarantee a live transport, so zero
// deliverable connections is ErrPeerNotFound.
func (s *Service) DeliverToPeer(peerID string, env types.Envelope) error {
	ids := s.registry.ConnectionsFor(peerID)
	if len(ids) == 0 {
		if _, ok := s.registry.Get(peerID); ok {
			ids = []string{peerID}
		}
	}

	sent := 0
	for _, id := range ids {
		conn, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		if err := conn.Send(env); err != nil {
			if !errors.Is(err, types.ErrUnknownConnection) {
				go s.registry.Unregister(id)
			}
			continue
		}
		sent++
	}
	if sent == 0 {
		return types.ErrPeerNotFound
	}
	return nil
}

// Stats returns the monitoring snapshot exposed to collaborators.
func (s *Service) Stats() types.Stats {
	return types.Stats{
		ConnectionsByTransport: s.registry.CountByTransport(),
		ChannelCount:           s.broker.ChannelCount(),
		RoomCount:              s.router.RoomCount(),
		ActivePeerLinks:        s.router.ActiveLinkCount(),
	}
}

// HandleFrame processes one inbound client frame and always answers with
// exactly one response envelope. Delivery failures to third parties are
// never surfaced here; only the initiator's own errors are.
func (s *Service) HandleFrame(connID string, raw []byte) {
	conn, ok := s.registry.Get(connID)
	if !ok {
		return
	}
	conn.Touch()

	cmd, err := codec.DecodeCommand(raw)
	if err != nil {
		s.respond(conn, nil, err)
		return
	}

	handler, ok := s.handlers[cmd.Action]
	if !ok {
		s.respond(conn, nil, errors.New("unknown action "+cmd.Action))
		return
	}

	data, err := handler(conn, cmd)
	s.respond(conn, data, err)
}

// respond sends the single RESPONSE (or ERROR) envelope for a command. A
// response that cannot be written means the requester's transport is dead;
// the broker-style cleanup applies.
func (s *Service) respond(conn *registry.Connection, data map[string]any, cmdErr error) {
	kind := types.KindResponse
	resp := &types.Response{Success: cmdErr == nil, Data: data}
	if cmdErr != nil {
		kind = types.KindError
		resp.Message = cmdErr.Error()
		resp.ErrorCode = types.ErrorCode(cmdErr)
	}

	env := codec.NewEnvelope(kind)
	resp.Timestamp = env.Timestamp
	env.Response = resp
	env.Scope = types.DirectScope(conn.ID)

	if err := conn.Send(env); err != nil && !errors.Is(err, types.ErrUnknownConnection) {
		s.logger.Warn().Err(err).Str("connection_id", conn.ID).Msg("response delivery failed")
		go s.registry.Unregister(conn.ID)
	}
}
