package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"openfms/jt808/internal/config"
	"openfms/jt808/internal/logging"
	"openfms/jt808/internal/server"
	"openfms/jt808/internal/store"
)

func main() {
	log := logging.ConfigureRuntime()
	log.Info().Msg("starting JT808 gateway")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log.Info().Str("gateway_id", cfg.GatewayID).Int("port", cfg.GatewayPort).Msg("configuration loaded")

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
		DB:   0,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	log.Info().Msg("connected to Redis")
	defer redisClient.Close()

	natsConn, err := nats.Connect(cfg.NATSURL, nats.Name("jt808-gateway-"+cfg.GatewayID))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	log.Info().Msg("connected to NATS")
	defer natsConn.Close()

	deps := server.Deps{
		Sessions: server.NewRedisSessionStore(redisClient),
		NATS:     natsConn,
	}
	if cfg.JetStream {
		js, err := server.NewJetStreamPublisher(natsConn)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up JetStream")
		}
		deps.Bus = js
		log.Info().Str("stream", server.StreamUplink).Msg("JetStream enabled")
	}
	if cfg.DatabaseURL != "" {
		st, err := store.Open(cfg.DatabaseURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		if err := st.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		defer st.Close()
		deps.Commands = st
		log.Info().Msg("command history enabled")
	}

	tcpServer := server.NewTCPServer(cfg, log, deps)
	if err := tcpServer.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start TCP server")
	}
	log.Info().Int("tcp_port", cfg.GatewayPort).Int("http_port", cfg.HTTPPort).Msg("gateway started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")
	tcpServer.Stop()
	log.Info().Msg("gateway stopped")
}
