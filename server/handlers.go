package server

import (
	"bufio"
	"errors"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/signalmesh/realtime/src/codec"
	"github.com/signalmesh/realtime/src/transport"
	"github.com/signalmesh/realtime/src/types"
	"github.com/valyala/fasthttp"
)

// streamRetry is the reconnect delay advertised to event-stream clients.
const streamRetry = 3 * time.Second

// capsFromQuery negotiates capability flags at handshake. Both default on;
// a client opts out with binary=false / signaling=false.
func capsFromQuery(ctx *fasthttp.RequestCtx) types.Capabilities {
	flag := func(name string) bool {
		v := string(ctx.QueryArgs().Peek(name))
		return v != "false" && v != "0"
	}
	return types.Capabilities{
		SupportsBinary:    flag("binary"),
		SupportsSignaling: flag("signaling"),
	}
}

// handlePushSocket runs the full-duplex transport handshake: auth,
// capacity, upgrade, then the read loop until disconnect.
func (s *Server) handlePushSocket(ctx *fasthttp.RequestCtx) {
	upgrade := string(ctx.Request.Header.Peek("Upgrade"))
	if !strings.EqualFold(upgrade, "websocket") {
		rejectHandshake(ctx, fasthttp.StatusUpgradeRequired, "upgrade_required", "WebSocket upgrade required")
		return
	}

	identity, err := s.authenticate(ctx)
	if err != nil {
		rejectHandshake(ctx, fasthttp.StatusUnauthorized, types.ErrorCode(err), "authentication required")
		return
	}

	conn, err := s.svc.Registry().Register(types.PushSocket, identity, capsFromQuery(ctx))
	if err != nil {
		rejectHandshake(ctx, fasthttp.StatusServiceUnavailable, types.ErrorCode(err), "connection capacity reached")
		return
	}

	err = upgrader.Upgrade(ctx, func(wsConn *websocket.Conn) {
		sender := transport.NewPushSocket(wsConn, s.cfg.WriteTimeout)
		conn.AttachSender(sender)
		s.svc.Registry().MarkConnected(conn.ID)
		s.svc.Supervisor().Watch(conn)
		s.sendWelcome(conn.ID)

		sender.ReadLoop(func(data []byte) {
			s.svc.HandleFrame(conn.ID, data)
		})
		s.svc.Registry().Unregister(conn.ID)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
		s.svc.Registry().Unregister(conn.ID)
	}
}

// handleEventStream runs the server-push-only transport. The stream cannot
// carry client commands, so channel subscriptions are taken from the
// channels query parameter at handshake.
func (s *Server) handleEventStream(ctx *fasthttp.RequestCtx) {
	identity, err := s.authenticate(ctx)
	if err != nil {
		rejectHandshake(ctx, fasthttp.StatusUnauthorized, types.ErrorCode(err), "authentication required")
		return
	}

	conn, err := s.svc.Registry().Register(types.EventStream, identity, capsFromQuery(ctx))
	if err != nil {
		rejectHandshake(ctx, fasthttp.StatusServiceUnavailable, types.ErrorCode(err), "connection capacity reached")
		return
	}

	stream := transport.NewEventStream(s.cfg.StreamQueueSize)
	conn.AttachSender(stream)
	s.svc.Registry().MarkConnected(conn.ID)
	s.svc.Supervisor().Watch(conn)
	s.sendWelcome(conn.ID)

	var channels []string
	if raw := string(ctx.QueryArgs().Peek("channels")); raw != "" {
		channels = strings.Split(raw, ",")
	}

	ctx.Response.Header.Set("Content-Type", "text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		// Subscriptions happen on the writer goroutine so ring replay
		// lands on an attached, drained queue.
		for _, name := range channels {
			if name = strings.TrimSpace(name); name != "" {
				s.svc.Broker().Subscribe(conn.ID, name)
			}
		}
		if err := stream.Run(w, streamRetry); err != nil {
			s.logger.Debug().Err(err).Str("connection_id", conn.ID).Msg("event stream ended")
		}
		s.svc.Registry().Unregister(conn.ID)
	})
}

// sendWelcome tells the client its connection id in the first frame.
func (s *Server) sendWelcome(connID string) {
	conn, ok := s.svc.Registry().Get(connID)
	if !ok {
		return
	}
	env := codec.NewEnvelope(types.KindResponse)
	env.Response = &types.Response{
		Success:   true,
		Data:      map[string]any{"event": "connected", "connection_id": connID},
		Timestamp: env.Timestamp,
	}
	env.Scope = types.DirectScope(connID)
	if err := conn.Send(env); err != nil && !errors.Is(err, types.ErrUnknownConnection) {
		s.svc.Registry().Unregister(connID)
	}
}
