package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/signalmesh/realtime/config"
	"github.com/signalmesh/realtime/server"
	"github.com/signalmesh/realtime/src/auth"
	"github.com/signalmesh/realtime/src/bridge"
	"github.com/signalmesh/realtime/src/service"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	cfg := config.FromEnv()

	// The durable broker is optional: when Redis is unreachable the core
	// runs standalone and lifecycle forwarding becomes a no-op.
	forwarder := bridge.NewRedisForwarder(bridge.RedisConfigFromEnv(), logger)
	if err := forwarder.Start(); err != nil {
		logger.Warn().Err(err).Msg("redis forwarder unavailable, running standalone")
	} else {
		defer forwarder.Stop()
	}

	svc := service.New(cfg, forwarder, logger)
	svc.Start()
	defer svc.Stop()

	srv := server.New(svc, auth.FromEnv(), cfg, logger)

	addr := os.Getenv("REALTIME_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	if err := srv.ListenAndServe(addr); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}
