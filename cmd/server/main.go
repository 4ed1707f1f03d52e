// Zapito - WhatsApp customer-service bot server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/zapito/internal/api"
	"github.com/ashureev/zapito/internal/chatbot"
	"github.com/ashureev/zapito/internal/config"
	"github.com/ashureev/zapito/internal/convlog"
	"github.com/ashureev/zapito/internal/dedupe"
	"github.com/ashureev/zapito/internal/janitor"
	"github.com/ashureev/zapito/internal/metrics"
	"github.com/ashureev/zapito/internal/middleware"
	"github.com/ashureev/zapito/internal/monitor"
	"github.com/ashureev/zapito/internal/session"
	"github.com/ashureev/zapito/internal/store"
	"github.com/ashureev/zapito/internal/webhook"
	"github.com/ashureev/zapito/internal/whatsapp"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "env", cfg.AppEnv)

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	m := metrics.New()

	tracker := session.NewTracker(repo, logger)
	engine := chatbot.NewEngine(repo, repo, chatbot.Config{
		RestartKeys:   cfg.Bot.RestartKeys,
		AllowDevReset: cfg.IsDevelopment(),
		Language:      cfg.Bot.Language,
		Timezone:      cfg.Bot.Timezone,
	}, chatbot.WithMetrics(m), chatbot.WithLogger(logger))

	waClient := whatsapp.NewClient(whatsapp.Config{
		BaseURL:    cfg.WhatsApp.BaseURL,
		APIVersion: cfg.WhatsApp.APIVersion,
		PhoneID:    cfg.WhatsApp.PhoneID,
		Token:      cfg.WhatsApp.Token,
		Timeout:    cfg.WhatsApp.Timeout,
	})
	dispatcher := whatsapp.NewDispatcher(waClient, repo, cfg.Bot.Language, m, logger)

	seen := dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize)
	defer seen.Close()

	broadcaster := monitor.NewBroadcasterWithHistory(cfg.MonitorHistory, logger)
	defer broadcaster.Close()

	transcripts, err := convlog.New(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			slog.Error("Failed to close conversation log", "error", closeErr)
		}
	}()

	// Initialize handlers.
	webhookHandler := webhook.NewHandler(cfg.VerifyToken, tracker, engine, dispatcher,
		webhook.WithDedupe(seen),
		webhook.WithPublisher(broadcaster),
		webhook.WithConversationLog(transcripts),
		webhook.WithMetrics(m),
		webhook.WithLogger(logger),
	)
	healthHandler := api.NewHealthHandler(repo, cfg.Timeout.HealthCheck)
	sendHandler := api.NewSendHandler(waClient, repo, cfg.Bot.Language, m, logger)
	adminHandler := api.NewAdminHandler(repo, tracker)
	monitorHandler := monitor.NewHandler(broadcaster, cfg.MonitorOrigins, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", m.Handler())

	signature := middleware.Signature(cfg.AppSecret, logger)
	webhookHandler.RegisterRoutes(r, signature)

	sendMiddleware := []func(http.Handler) http.Handler{
		middleware.CORS(cfg.CORSOrigins),
		middleware.RateLimit(middleware.NewRateLimiter(cfg.SendRateLimit.RPS, cfg.SendRateLimit.Burst, 0)),
	}
	if cfg.IsProduction() {
		sendMiddleware = append(sendMiddleware, signature)
	}
	sendHandler.RegisterRoutes(r, sendMiddleware...)

	adminAuth := middleware.BearerToken(cfg.AdminToken)
	adminHandler.RegisterRoutes(r, middleware.CORS(cfg.CORSOrigins), adminAuth)
	r.With(adminAuth).Get("/monitor/ws", monitorHandler.ServeHTTP)
	r.With(adminAuth).Get("/monitor/recent", monitorHandler.Recent)

	if cfg.AdminToken == "" {
		slog.Info("Admin endpoints disabled (ADMIN_TOKEN not set)")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  cfg.Timeout.Read,
		WriteTimeout: cfg.Timeout.Write,
		IdleTimeout:  cfg.Timeout.Idle,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return janitor.Run(gctx, repo, janitor.Config{
			Interval:          cfg.Retention.Interval,
			OutboundRetention: cfg.Retention.Outbound,
			SessionIdleTTL:    cfg.Retention.SessionIdleTTL,
		}, logger)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()
		// Closing subscribers ends open monitor websockets before Shutdown waits on them.
		broadcaster.Close()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Timeout.Shutdown > 0 {
		return cfg.Timeout.Shutdown
	}
	return 10 * time.Second
}
