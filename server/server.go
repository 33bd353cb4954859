// Package server exposes the realtime core over HTTP: the push-socket
// upgrade at /realtime/ws, the event stream at /realtime/events, and
// JSON info/stats routes via Fiber. The WS and SSE paths use raw fasthttp
// handlers, registered at the app level since Fiber v3 does not expose
// *fasthttp.RequestCtx.
package server

import (
	"context"
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/signalmesh/realtime/config"
	"github.com/signalmesh/realtime/src/auth"
	"github.com/signalmesh/realtime/src/service"
	"github.com/signalmesh/realtime/src/types"
	"github.com/valyala/fasthttp"
)

var upgrader = websocket.FastHTTPUpgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server serves the realtime endpoints.
type Server struct {
	app    *fiber.App
	svc    *service.Service
	authn  auth.Authenticator
	cfg    *config.Config
	logger zerolog.Logger
}

// New builds the server and its routes.
func New(svc *service.Service, authn auth.Authenticator, cfg *config.Config, logger zerolog.Logger) *Server {
	s := &Server{
		app:    fiber.New(),
		svc:    svc,
		authn:  authn,
		cfg:    cfg,
		logger: logger.With().Str("component", "server").Logger(),
	}
	s.app.Get("/realtime/info", s.handleInfo)
	s.app.Get("/realtime/stats", s.handleStats)
	return s
}

func (s *Server) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"push_socket":  "/realtime/ws",
		"event_stream": "/realtime/events",
		"channels":     s.svc.Broker().ChannelCount(),
	})
}

func (s *Server) handleStats(c fiber.Ctx) error {
	return c.JSON(s.svc.Stats())
}

// Handler muxes the raw transport endpoints ahead of the Fiber app.
func (s *Server) Handler() fasthttp.RequestHandler {
	appHandler := s.app.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/realtime/ws":
			s.handlePushSocket(ctx)
		case "/realtime/events":
			s.handleEventStream(ctx)
		default:
			appHandler(ctx)
		}
	}
}

// ListenAndServe blocks serving the realtime endpoints on addr.
func (s *Server) ListenAndServe(addr string) error {
	srv := &fasthttp.Server{Handler: s.Handler()}
	s.logger.Info().Str("addr", addr).Msg("realtime server listening")
	return srv.ListenAndServe(addr)
}

// authenticate resolves the bearer credential from the Authorization header
// or the token query parameter. It returns the identity, or an error when
// the deployment mandates auth and the handshake is anonymous.
func (s *Server) authenticate(ctx *fasthttp.RequestCtx) (string, error) {
	credential := ""
	if h := string(ctx.Request.Header.Peek("Authorization")); h != "" {
		credential = strings.TrimPrefix(h, "Bearer ")
	}
	if credential == "" {
		credential = string(ctx.QueryArgs().Peek("token"))
	}

	result, err := s.authn.Verify(context.Background(), credential)
	if err != nil {
		return "", err
	}
	if s.cfg.RequireAuth && !result.Authenticated {
		return "", types.ErrAuthRequired
	}
	return result.Identity, nil
}

// rejectHandshake closes the transport immediately with a structured
// reason, per the handshake-failure policy.
func rejectHandshake(ctx *fasthttp.RequestCtx, status int, code, message string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"error":"` + code + `","message":"` + message + `"}`)
}
