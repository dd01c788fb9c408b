package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/guild-tickets/internal/api/http"
	"github.com/spec-kit/guild-tickets/internal/api/http/handlers"
	"github.com/spec-kit/guild-tickets/internal/auth"
	"github.com/spec-kit/guild-tickets/internal/config"
	"github.com/spec-kit/guild-tickets/internal/events"
	"github.com/spec-kit/guild-tickets/internal/observability"
	"github.com/spec-kit/guild-tickets/internal/persistence"
	"github.com/spec-kit/guild-tickets/internal/platform/discord"
	"github.com/spec-kit/guild-tickets/internal/scheduler"
	"github.com/spec-kit/guild-tickets/internal/service"
	"github.com/spec-kit/guild-tickets/internal/store"
	"github.com/spec-kit/guild-tickets/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var backend store.Backend
	pingers := map[string]handlers.Pinger{}
	switch cfg.Engine.Backend {
	case "postgres":
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		backend = store.NewPostgresBackend(pg.PoolHandle(), cfg.Engine.BotID)
		pingers["postgres"] = pg
	default:
		redis := persistence.NewRedis(cfg.Redis, logger)
		defer redis.Close()
		backend = store.NewRedisBackend(redis.Client, cfg.Engine.BotID)
		pingers["redis"] = redis
	}

	if cfg.Discord.Token == "" {
		logger.Fatal("DISCORD_TOKEN is required")
	}
	session, err := discord.Connect(cfg.Discord.Token, logger)
	if err != nil {
		logger.Fatal("failed to connect discord", zap.Error(err))
	}
	defer session.Close() //nolint:errcheck
	adapter := discord.New(session, logger)

	dispatcher := events.NewInMemoryDispatcher()
	metrics := observability.NewMetrics()
	tickets := store.New(backend, logger)

	ticketService := service.NewTicketService(service.Dependencies{
		Store:      tickets,
		Platform:   adapter,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
		SystemName: cfg.Engine.SystemName,
	})
	notificationService := service.NewNotificationService(dispatcher, logger)
	worker.StartNotificationWorker(notificationService)

	if cfg.Scheduler.Enabled && len(cfg.Engine.GuildIDs) > 0 {
		sweep := scheduler.New(scheduler.Dependencies{
			Store:    tickets,
			Service:  ticketService,
			Platform: adapter,
			Logger:   logger,
			Interval: cfg.Scheduler.Interval(),
			Grace:    cfg.Scheduler.Grace(),
			GuildIDs: cfg.Engine.GuildIDs,
		})
		go sweep.Run(ctx)
	}

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokenManager)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pingers)
	ticketsHandler := handlers.NewTicketsHandler(tickets, ticketService)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         healthHandler,
		Tickets:        ticketsHandler,
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
