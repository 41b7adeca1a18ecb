// Screening interview bot server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/screening-bot/internal/admin"
	"github.com/ashureev/screening-bot/internal/api"
	"github.com/ashureev/screening-bot/internal/bot"
	"github.com/ashureev/screening-bot/internal/config"
	"github.com/ashureev/screening-bot/internal/feed"
	"github.com/ashureev/screening-bot/internal/healthcheck"
	"github.com/ashureev/screening-bot/internal/interview"
	"github.com/ashureev/screening-bot/internal/middleware"
	"github.com/ashureev/screening-bot/internal/projection"
	"github.com/ashureev/screening-bot/internal/store"
	"github.com/ashureev/screening-bot/internal/transport/telegram"
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
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "mode", cfg.Telegram.Mode)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	questions := interview.DefaultQuestions
	if cfg.QuestionsFile != "" {
		questions, err = interview.LoadQuestions(cfg.QuestionsFile)
		if err != nil {
			slog.Error("Failed to load questions", "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Questions loaded", "count", len(questions))

	tg := telegram.NewClient(cfg.Telegram.Token, cfg.Telegram.APIURL, logger)
	hub := feed.NewHub(cfg.AllowedOrigins, logger)

	// Change projection: export file, live feed and optionally NATS.
	sinks := []projection.Sink{projection.NewCSVSink(cfg.ExportPath, repo), hub}
	if cfg.NATS.URL != "" {
		nc, err := projection.ConnectNATS(cfg.NATS.URL, logger)
		if err != nil {
			slog.Warn("Failed to connect to NATS, change publishing disabled", "error", err)
		} else {
			defer nc.Close()
			sinks = append(sinks, projection.NewNATSSink(nc, cfg.NATS.SubjectPrefix))
		}
	}
	projector := projection.New(cfg.ProjectionQueueSize, logger, sinks...)

	orchestrator := interview.NewOrchestrator(repo, tg, interview.Options{
		Questions: questions,
		Publisher: projector,
		Logger:    logger,
	})
	adminService := admin.NewService(repo, projector, logger)
	commands := admin.NewCommands(adminService, admin.NewAllowlist(cfg.Admin.IDs), tg, questions, cfg.ExportPath, logger)
	router := bot.NewRouter(orchestrator, commands, cfg.MaxConcurrentEvents, logger)

	stats := func() map[string]any {
		return map[string]any{
			"sessions":     orchestrator.Sessions().Len(),
			"feed_clients": hub.Clients(),
			"projection":   projector.Stats(),
		}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	api.NewHealthHandler(repo, stats).RegisterHealth(r)
	api.NewAdminHandler(adminService, questions, cfg.Admin.APIToken, hub).RegisterRoutes(r)
	if cfg.Telegram.Mode == config.ModeWebhook {
		api.NewWebhookHandler(cfg.Telegram.WebhookSecret, router).RegisterRoutes(r)
	}

	// Feed connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var healthServer *healthcheck.Server
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "error", err)
			os.Exit(1)
		}
		healthServer = healthcheck.NewServer(repo, 0, logger)
		go func() {
			if err := healthServer.Serve(ctx, lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	pollDone := make(chan struct{})
	if cfg.Telegram.Mode == config.ModePolling {
		if err := tg.DeleteWebhook(ctx); err != nil {
			slog.Warn("Failed to delete webhook before polling", "error", err)
		}
		poller := telegram.NewPoller(tg, router, cfg.Telegram.PollTimeout, logger)
		go func() {
			defer close(pollDone)
			if err := poller.Run(ctx); err != nil {
				slog.Error("Poller stopped", "error", err)
			}
		}()
	} else {
		close(pollDone)
	}

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if healthServer != nil {
		healthServer.Stop()
	}

	// No new events after this point; let in-flight ones finish and flush.
	<-pollDone
	router.Wait()
	projector.Close(5 * time.Second)

	slog.Info("Server stopped successfully")
}
