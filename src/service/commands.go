package service

import (
	"errors"

	"github.com/signalmesh/realtime/src/codec"
	"github.com/signalmesh/realtime/src/registry"
	"github.com/signalmesh/realtime/src/types"
)

func (s *Service) handleSubscribe(conn *registry.Connection, cmd *types.Command) (map[string]any, error) {
	if cmd.Channel == "" {
		return nil, errors.New("subscribe: channel is required")
	}
	if err := s.broker.Subscribe(conn.ID, cmd.Channel); err != nil {
		return nil, err
	}
	return map[string]any{"channel": cmd.Channel}, nil
}

func (s *Service) handleUnsubscribe(conn *registry.Connection, cmd *types.Command) (map[string]any, error) {
	if cmd.Channel == "" {
		return nil, errors.New("unsubscribe: channel is required")
	}
	if err := s.broker.Unsubscribe(conn.ID, cmd.Channel); err != nil {
		return nil, err
	}
	return map[string]any{"channel": cmd.Channel}, nil
}

func (s *Service) handlePublish(conn *registry.Connection, cmd *types.Command) (map[string]any, error) {
	if cmd.Channel == "" {
		return nil, errors.New("publish: channel is required")
	}
	env, err := envelopeFromCommand(conn, cmd)
	if err != nil {
		return nil, err
	}
	persist, _ := cmd.Data["persist"].(bool)

	report := s.broker.Publish(cmd.Channel, env, persist)
	return map[string]any{
		"channel": cmd.Channel,
		"sent":    report.Sent,
		"failed":  len(report.Failed),
	}, nil
}

func (s *Service) handleDirect(conn *registry.Connection, cmd *types.Command) (map[string]any, error) {
	if cmd.TargetUser == "" {
		return nil, errors.New("direct: target_user is required")
	}
	env, err := envelopeFromCommand(conn, cmd)
	if err != nil {
		return nil, err
	}
	env.Scope = types.DirectScope(cmd.TargetUser)

	// Direct envelopes fan out to every live connection of the target
	// identity, across both transports.
	if err := s.DeliverToPeer(cmd.TargetUser, env); err != nil {
		return nil, err
	}
	return map[string]any{"target_user": cmd.TargetUser}, nil
}

func (s *Service) handleBroadcast(conn *registry.Connection, cmd *types.Command) (map[string]any, error) {
	env, err := envelopeFromCommand(conn, cmd)
	if err != nil {
		return nil, err
	}
	report := s.broker.Broadcast(env, map[string]struct{}{conn.ID: {}})
	return map[string]any{
		"sent":   report.Sent,
		"failed": len(report.Failed),
	}, nil
}

func (s *Service) handlePing(conn *registry.Connection, _ *types.Command) (map[string]any, error) {
	return map[string]any{"pong": true, "connection_id": conn.ID}, nil
}

func (s *Service) handleJoinRoom(conn *registry.Connection, cmd *types.Command) (map[string]any, error) {
	if !conn.Caps.SupportsSignaling {
		return nil, errors.New("join_room: connection does not support signaling")
	}
	roomID, _ := cmd.Data["room_id"].(string)
	name, _ := cmd.Data["name"].(string)
	maxParticipants := 0
	if v, ok := cmd.Data["max_participants"].(float64); ok {
		maxParticipants = int(v)
	}

	snap, err := s.router.CreateOrJoinRoom(roomID, PeerID(conn), name, maxParticipants)
	if err != nil {
		return nil, err
	}
	return map[string]any{"room": snap}, nil
}

func (s *Service) handleLeaveRoom(conn *registry.Connection, cmd *types.Command) (map[string]any, error) {
	roomID, _ := cmd.Data["room_id"].(string)
	if roomID == "" {
		return nil, errors.New("leave_room: room_id is required")
	}
	s.router.LeaveRoom(roomID, PeerID(conn))
	return map[string]any{"room_id": roomID}, nil
}

func (s *Service) handleSignal(conn *registry.Connection, cmd *types.Command) (map[string]any, error) {
	if !conn.Caps.SupportsSignaling {
		return nil, errors.New("signal: connection does not support signaling")
	}
	frame, err := codec.DecodeSignal(cmd.Data)
	if err != nil {
		return nil, err
	}
	// The sender's peer id comes from its own connection, never from the
	// frame, so a client cannot signal on another peer's behalf.
	frame.PeerID = PeerID(conn)
	if frame.TargetPeerID == "" {
		return nil, errors.New("signal: target_peer_id is required")
	}
	if frame.RoomID == "" {
		return nil, errors.New("signal: room_id is required")
	}

	if err := s.router.RelaySignal(frame.RoomID, frame); err != nil {
		return nil, err
	}
	return map[string]any{
		"room_id":        frame.RoomID,
		"target_peer_id": frame.TargetPeerID,
		"signal_type":    frame.SignalType,
	}, nil
}

func (s *Service) handleStats(_ *registry.Connection, _ *types.Command) (map[string]any, error) {
	stats := s.Stats()
	byTransport := make(map[string]any, len(stats.ConnectionsByTransport))
	for kind, n := range stats.ConnectionsByTransport {
		byTransport[string(kind)] = n
	}
	return map[string]any{
		"connections_by_transport": byTransport,
		"channel_count":            stats.ChannelCount,
		"room_count":               stats.RoomCount,
		"active_peer_links":        stats.ActivePeerLinks,
	}, nil
}

// envelopeFromCommand builds the outbound envelope for publish, direct, and
// broadcast commands: binary payloads ride KindBinary, everything else is a
// channel envelope whose text comes from data and whose remaining fields
// travel as metadata.
func envelopeFromCommand(conn *registry.Connection, cmd *types.Command) (types.Envelope, error) {
	var env types.Envelope
	if cmd.BinaryData != "" {
		if !conn.Caps.SupportsBinary {
			return env, errors.New("binary payloads not negotiated for this connection")
		}
		payload, err := codec.DecodeBinary(cmd.BinaryData)
		if err != nil {
			return env, err
		}
		env = codec.NewEnvelope(types.KindBinary)
		env.Binary = payload
	} else {
		env = codec.NewEnvelope(types.KindChannel)
		if text, ok := cmd.Data["data"].(string); ok {
			env.Text = text
		} else if text, ok := cmd.Data["text"].(string); ok {
			env.Text = text
		}
		env.Metadata = cmd.Data
	}
	// A client-supplied id survives into the delivered envelope so
	// receivers can correlate replayed and live copies of the same message.
	if id, ok := cmd.Data["id"].(string); ok && id != "" {
		env.ID = id
	}
	env.UserID = conn.Identity
	return env, nil
}
