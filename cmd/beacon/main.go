package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/concord-chat/beacon/internal/api"
	"github.com/concord-chat/beacon/internal/config"
	"github.com/concord-chat/beacon/internal/network/signaling"
	"github.com/concord-chat/beacon/internal/observability"
	"github.com/concord-chat/beacon/internal/presence"
	"github.com/concord-chat/beacon/internal/store/redis"
	"github.com/concord-chat/beacon/pkg/version"
)

func main() {
	cfg := config.Load()

	loggerCfg := observability.LoggerConfig{
		Level:   cfg.GetLogLevel(),
		Format:  cfg.Logging.Format,
		Service: "beacon",
		Version: version.Version,
	}
	logger := observability.NewLogger(loggerCfg)

	logger.Info().
		Str("version", version.Version).
		Str("git_commit", version.GitCommit).
		Str("platform", version.Platform).
		Msg("starting beacon signaling server")

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker(logger, version.Version)

	state := signaling.NewState()
	voiceState := signaling.NewVoiceState()
	tracker := signaling.NewConnectionTracker(cfg.Security.MaxWSConnections, cfg.Security.MaxWSPerIP)
	health.RegisterCheck("connections", observability.ConnectionTrackerHealthCheck(tracker.Total, cfg.Security.MaxWSConnections))

	var backend presence.Backend
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		var err error
		redisClient, err = redis.New(cfg.Redis, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis enabled but unreachable — cannot start without the configured presence backend")
		}
		health.RegisterCheck("redis", observability.RedisHealthCheck(redisClient.Ping))
		backend = presence.NewRedisBackend(redisClient)
		logger.Info().Msg("presence backend: redis")
	} else {
		backend = presence.NewMemoryBackend(cfg.Presence.TTL)
		logger.Info().Msg("presence backend: memory")
	}

	handler := signaling.NewHandler(state, voiceState, tracker, backend, cfg.Presence.TTL, cfg.Security.RateLimitWSPerMin, logger, metrics)

	refreshPeriod := cfg.Presence.TTL / 3
	periodic := signaling.NewPeriodic(handler.LiveUsers, backend, cfg.Presence.TTL, refreshPeriod, logger)
	periodicCtx, cancelPeriodic := context.WithCancel(context.Background())
	go periodic.Run(periodicCtx)

	apiServer := api.New(cfg.Server, cfg.Security, handler, health, metrics, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("beacon started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error, initiating shutdown")
	}

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error — some connections may not have drained")
	} else {
		logger.Info().Msg("HTTP server stopped")
	}

	periodic.Stop()
	cancelPeriodic()

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		} else {
			logger.Info().Msg("redis connection closed")
		}
	}

	logger.Info().Msg("beacon shut down successfully")
}
