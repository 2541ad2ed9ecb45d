package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/Rrens/flowbot/internal/api"
	"github.com/Rrens/flowbot/internal/api/middleware"
	"github.com/Rrens/flowbot/internal/channel"
	"github.com/Rrens/flowbot/internal/config"
	"github.com/Rrens/flowbot/internal/flow"
	"github.com/Rrens/flowbot/internal/logger"
	"github.com/Rrens/flowbot/internal/repository/redis"
	"github.com/Rrens/flowbot/internal/security"
	"github.com/Rrens/flowbot/internal/service"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logCloser, err := logger.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}
	defer logCloser.Close()

	if cfg.Auth.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET must be set")
	}

	log.Info().
		Str("addr", cfg.Server.Addr()).
		Str("storage", cfg.Storage.Driver).
		Str("graph_source", cfg.Graph.Source).
		Msg("Starting flowbot server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer b.close()

	deps := api.Deps{
		Sessions: service.NewSessionService(b.sessions),
		JWT:      security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL),
		Sender:   channel.NewCloudSender(cfg.WhatsApp),
		Ready:    b.ready,
	}

	graphs := b.graphs
	var engineOpts []flow.Option
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()

		cache := redis.NewGraphCache(redisClient, b.graphs, cfg.Graph.CacheTTL)
		graphs = cache
		deps.GraphCache = cache
		deps.Ready["redis"] = redisClient
		engineOpts = append(engineOpts, flow.WithLocker(redis.NewSessionLock(redisClient, 0)))

		var limiter middleware.Limiter = redis.NewRateLimiter(redisClient,
			cfg.Security.RateLimit.RequestsPerMinute, cfg.Security.RateLimit.Burst)
		deps.Limiter = limiter
		deps.Deliveries = redis.NewDeliveryDeduper(redisClient, 0)
	} else {
		log.Warn().Msg("Redis disabled: in-process session locks, no graph cache or rate limiting")
	}

	deps.Engine = newEngine(cfg, b, graphs, engineOpts...)

	go service.NewSweeper(b.sessions, cfg.Engine.SessionTTL, cfg.Engine.SweepInterval).Run(ctx)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(cfg, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Error().Err(err).Msg("Server failed")
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
