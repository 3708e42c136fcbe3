// Sidework - async work orchestration server for conversational agents
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

	"github.com/ashureev/sidework/internal/agents"
	"github.com/ashureev/sidework/internal/api"
	"github.com/ashureev/sidework/internal/classify"
	"github.com/ashureev/sidework/internal/config"
	"github.com/ashureev/sidework/internal/domain"
	"github.com/ashureev/sidework/internal/events"
	"github.com/ashureev/sidework/internal/identity"
	"github.com/ashureev/sidework/internal/messaging"
	"github.com/ashureev/sidework/internal/middleware"
	"github.com/ashureev/sidework/internal/notify"
	"github.com/ashureev/sidework/internal/offer"
	"github.com/ashureev/sidework/internal/orchestrator"
	"github.com/ashureev/sidework/internal/progress"
	"github.com/ashureev/sidework/internal/scheduler"
	"github.com/ashureev/sidework/internal/session"
	"github.com/ashureev/sidework/internal/store"
	"github.com/ashureev/sidework/internal/transport"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// dbRetention bounds how long inactive sessions survive in the database.
// The in-memory cache TTL is much shorter; this only caps disk growth.
const dbRetention = 30 * 24 * time.Hour

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

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

	// Work that was accepted or executing when the previous process died
	// cannot resume; surface it as failed instead of leaving it stuck.
	if err := failOrphanedWork(context.Background(), repo); err != nil {
		slog.Error("Failed to sweep orphaned work", "error", err)
		os.Exit(1)
	}

	deleted, err := repo.CleanupOldSessions(context.Background(), dbRetention)
	if err != nil {
		slog.Error("Failed to cleanup old sessions", "error", err)
		os.Exit(1)
	}
	slog.Info("Old session cleanup complete", "sessions_deleted", deleted)

	// Initialize services.
	emitter := events.NewEmitter()
	notifier := notify.NewCenter(emitter)
	registry := progress.NewRegistry(cfg.ProgressGracePeriod)
	sessions := session.NewStore(repo)
	messages := messaging.NewService(emitter, cfg.ResponseTimeout)

	sched := scheduler.New(scheduler.Config{
		MaxConcurrent: cfg.MaxConcurrentWork,
		ExecTimeout:   cfg.ExecTimeout,
	}, sessions, emitter, notifier, registry)

	execOpts := agents.DefaultOptions()
	sched.RegisterExecutor(domain.WorkTypeResearch, agents.Research(execOpts))
	sched.RegisterExecutor(domain.WorkTypeTool, agents.Tool(execOpts))

	detector := offer.NewDetector(classify.NewClassifier())
	advisor := orchestrator.NewAdvisor(sessions, notifier)
	orch := orchestrator.New(detector, sessions, sched, notifier, advisor, uuid.NewString)

	// Initialize handlers.
	connRegistry := transport.NewRegistry()
	wsHandler := transport.NewWebSocketHandler(messages, emitter, connRegistry, cfg.FrontendURL, cfg.IsDevelopment())

	baseHandler := api.NewHandler(orch, sessions, sched, messages, registry, notifier, repo, cfg)
	healthHandler := api.NewHealthHandler(baseHandler)
	conversationHandler := api.NewConversationHandler(baseHandler, connRegistry)
	workHandler := api.NewWorkHandler(baseHandler)
	messageHandler := api.NewMessageHandler(baseHandler)
	streamHandler := api.NewStreamHandler(baseHandler, emitter)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	conversationHandler.RegisterRoutes(r)
	workHandler.RegisterRoutes(r)
	messageHandler.RegisterRoutes(r)
	streamHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/messages", wsHandler.ServeHTTP)

	// SSE connections require long timeouts, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions.StartSweeper(ctx, cfg.SweepInterval, cfg.SessionTTL)
	slog.Info("Session sweeper started", "interval", cfg.SweepInterval, "ttl", cfg.SessionTTL)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// failOrphanedWork marks work left active by a previous process as failed.
func failOrphanedWork(ctx context.Context, repo store.Repository) error {
	orphans, err := repo.GetActiveWorkItems(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, item := range orphans {
		item.Status = domain.StatusFailed
		item.CompletedAt = &now
		item.Error = "interrupted by server restart"
		if err := repo.SaveWorkItem(ctx, item); err != nil {
			return err
		}
		slog.Warn("Orphaned work marked failed",
			"work_id", item.ID,
			"session_id", item.SessionID,
		)
	}
	if len(orphans) > 0 {
		slog.Info("Orphaned work sweep complete", "count", len(orphans))
	}
	return nil
}
