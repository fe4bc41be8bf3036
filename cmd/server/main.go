// agentdeck - local control-panel daemon bridging the desktop UI to an agent
// host process and one embedded workspace terminal.
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

	"github.com/agentdeck/agentdeck/internal/api"
	"github.com/agentdeck/agentdeck/internal/bus"
	"github.com/agentdeck/agentdeck/internal/chat"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/container"
	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/host"
	"github.com/agentdeck/agentdeck/internal/identity"
	"github.com/agentdeck/agentdeck/internal/middleware"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/internal/terminal"
	"github.com/agentdeck/agentdeck/internal/termgw"
	"github.com/agentdeck/agentdeck/internal/transcript"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

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

	slog.Info("Starting agentdeck", "port", cfg.Port, "dev", cfg.IsDevelopment())

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

	tl, err := transcript.NewLogger(transcript.Config{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := tl.Close(); closeErr != nil {
			slog.Warn("Failed to close transcript logger", "error", closeErr)
		}
	}()

	workspace, err := container.NewDockerManager(cfg.ContainerRuntime)
	if err != nil {
		slog.Error("Failed to initialize container manager", "error", err)
		os.Exit(1)
	}

	termMgr := terminal.NewManager()
	wsHandler := terminal.NewWebSocketHandler(workspace, termMgr, cfg.Terminal.ScrollbackBytes, cfg.FrontendURL, cfg.IsDevelopment())

	// Agent host bridge (optional): without it the terminal still works, but
	// chat and agent-driven commands are disabled.
	eventBus := bus.New(cfg.Chat.StreamBufferSize)
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 10*time.Second)
	hostClient, err := host.Dial(dialCtx, cfg.HostBridgeAddr, eventBus, cfg.HostCallTimeout, logger)
	dialCancel()
	if err != nil {
		slog.Warn("Agent host bridge unavailable, chat features disabled",
			"addr", cfg.HostBridgeAddr,
			"error", err,
		)
	} else {
		defer hostClient.Close()
		slog.Info("Agent host bridge connected", "addr", cfg.HostBridgeAddr)
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	if hostClient != nil {
		prefs, err := loadSessionPrefs(context.Background(), repo, cfg)
		if err != nil {
			slog.Error("Failed to load session preferences", "error", err)
			os.Exit(1)
		}

		chatMgr := chat.NewManager(hostClient, eventBus, *prefs, tl, logger, termMgr.Connected)

		gateway := termgw.NewGateway(termMgr, hostClient, chatMgr.AutoExecute, termgw.Config{
			CommandRetention:  cfg.Terminal.CommandRetention,
			RejectedRetention: cfg.Terminal.RejectedRetention,
		}, tl, logger)
		defer gateway.Stop()

		responder := termgw.NewResponder(termMgr, hostClient, cfg.Terminal.ScrollbackPageLines, logger)
		svc := termgw.NewService(gateway, responder)

		// The host only gets terminal handlers while a terminal is attached;
		// on detach every unanswered command is rejected before the handlers go.
		wsHandler.SetLifecycleHooks(
			func(*terminal.Session) {
				hostClient.SetTerminalHandlers(svc)
			},
			func(*terminal.Session) {
				hostClient.ClearTerminalHandlers()
				gateway.DisconnectTerminal()
			},
		)

		api.NewHandler(chatMgr, gateway, termMgr, repo).RegisterRoutes(r)
	} else {
		r.Get("/api/healthz", func(w http.ResponseWriter, _ *http.Request) {
			api.JSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  "agent host bridge unavailable",
			})
		})
	}

	// WebSocket endpoint.
	r.Get("/ws/terminal", wsHandler.ServeHTTP)

	// SSE chat streams need long-lived writes; no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := workspace.StopWorkspace(shutdownCtx); err != nil {
		slog.Warn("Failed to stop workspace container", "error", err)
	}

	slog.Info("Server stopped successfully")
}

// loadSessionPrefs returns the persisted panel configuration, seeding a row
// from config defaults on first run.
func loadSessionPrefs(ctx context.Context, repo store.Repository, cfg *config.Config) (*domain.SessionPrefs, error) {
	prefs, err := repo.GetSessionPrefs(ctx, identity.DefaultSessionIDValue)
	if err != nil {
		return nil, err
	}
	if prefs != nil {
		return prefs, nil
	}

	now := time.Now()
	prefs = &domain.SessionPrefs{
		SessionID:    identity.DefaultSessionIDValue,
		ProviderID:   cfg.Chat.DefaultProviderID,
		ModelID:      cfg.Chat.DefaultModelID,
		SystemPrompt: cfg.Chat.SystemPrompt,
		AutoExecute:  false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repo.UpsertSessionPrefs(ctx, prefs); err != nil {
		return nil, err
	}
	slog.Info("Seeded default session preferences",
		"provider_id", prefs.ProviderID,
		"model_id", prefs.ModelID,
	)
	return prefs, nil
}
