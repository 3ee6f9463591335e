package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-realtime/internal/api/http"
	"github.com/spec-kit/ticket-realtime/internal/api/http/handlers"
	"github.com/spec-kit/ticket-realtime/internal/api/ws"
	"github.com/spec-kit/ticket-realtime/internal/auth"
	"github.com/spec-kit/ticket-realtime/internal/config"
	"github.com/spec-kit/ticket-realtime/internal/events"
	"github.com/spec-kit/ticket-realtime/internal/observability"
	"github.com/spec-kit/ticket-realtime/internal/persistence"
	"github.com/spec-kit/ticket-realtime/internal/realtime"
	"github.com/spec-kit/ticket-realtime/internal/repository"
	"github.com/spec-kit/ticket-realtime/internal/service"
	"github.com/spec-kit/ticket-realtime/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var (
		ticketStore repository.TicketStore
		userRepo    repository.UserRepository
	)
	if pg.Enabled() {
		ticketStore = repository.NewTicketRepository(pg.PoolHandle())
		userRepo = repository.NewUserRepository(pg.PoolHandle())
	} else {
		ticketStore = repository.NewMemoryTicketStore()
		userRepo = repository.NewMemoryUserRepository()
	}
	correlations := repository.NewCorrelationCache(redis.ClientHandle(), cfg.Redis.CorrelationTTL())

	metrics := observability.NewMetrics()
	hub := realtime.NewHub(realtime.HubDependencies{
		Store:   ticketStore,
		Cache:   correlations,
		Logger:  logger.Named("realtime"),
		Metrics: metrics,
	})

	dispatcher := events.NewInMemoryDispatcher(logger.Named("events"))
	notificationService := service.NewNotificationService(dispatcher, hub.Notifier(), logger.Named("notifications"), cfg.Notification)
	worker.StartNotificationWorker(notificationService)

	authService := service.NewAuthService(cfg.Auth, userRepo, logger)
	if cfg.Auth.AdminEmail != "" && cfg.Auth.AdminPassword != "" {
		if _, err := authService.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
			logger.Fatal("failed to seed admin account", zap.Error(err))
		}
	}
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager())

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketStore: ticketStore,
		UserRepo:    userRepo,
		Broadcaster: hub.Broadcaster(),
		Relay:       hub.Relay(),
		Dispatcher:  dispatcher,
		Logger:      logger,
	})

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}, hub.Registry()),
		Users:          handlers.NewUsersHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		AdminTickets:   handlers.NewAdminTicketsHandler(ticketService),
		Socket:         ws.NewHandler(hub, ws.OptionsFromConfig(cfg), logger.Named("ws")),
		AuthMiddleware: authMiddleware,
		Metrics:        metrics,
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
