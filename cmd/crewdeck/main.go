package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dmaretti/crewdeck/internal/agent"
	"github.com/dmaretti/crewdeck/internal/config"
	"github.com/dmaretti/crewdeck/internal/httpapi"
	"github.com/dmaretti/crewdeck/internal/hub"
	"github.com/dmaretti/crewdeck/internal/logger"
	"github.com/dmaretti/crewdeck/internal/observability"
	"github.com/dmaretti/crewdeck/internal/queue"
	"github.com/dmaretti/crewdeck/internal/room"
	"github.com/dmaretti/crewdeck/internal/settings"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatal("config error", err)
	}
	logger.Setup(cfg.LogLevel)

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	if dir := filepath.Dir(cfg.SettingsPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fatal("settings directory init failed", err)
		}
	}
	settingsStore, err := settings.Open(cfg.SettingsPath)
	if err != nil {
		fatal("settings init failed", err)
	}
	// Environment wins; the settings file fills the gaps for keys the
	// operator saved through the dashboard.
	if cfg.AnthropicKey == "" {
		if v, ok := settingsStore.Get("ANTHROPIC_API_KEY"); ok {
			cfg.AnthropicKey = strings.TrimSpace(v)
		}
	}
	if cfg.DatabaseURL == "" {
		if v, ok := settingsStore.Get("DATABASE_URL"); ok {
			cfg.DatabaseURL = strings.TrimSpace(v)
		}
	}

	ctx := context.Background()
	store := queue.NewStore()
	defer store.Close()

	archive, err := queue.NewArchive(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal("task archive init failed", err)
	}
	if archive != nil {
		store.SetArchive(archive)
		defer archive.Close()
		slog.Info("task archive: postgres")
	} else {
		slog.Info("task archive: in-memory only")
	}

	gate := queue.NewGate(store)
	gate.SetMetrics(metrics)
	dashboard := hub.New(store, gate)

	executor, err := agent.NewExecutor(cfg.WorkspaceRoot)
	if err != nil {
		fatal("workspace init failed", err)
	}
	provider, err := agent.NewProvider(agent.ProviderConfig{
		Mode:   cfg.AgentProvider,
		APIKey: cfg.AnthropicKey,
		Model:  cfg.AnthropicModel,
	})
	if err != nil {
		fatal("agent provider init failed", err)
	}
	slog.Info("agent provider ready", "provider", provider.Name(), "workspace", executor.Root())

	bridge := agent.NewBridge(provider, store, dashboard, executor, metrics)

	var relay *room.Relay
	if cfg.RoomEnabled {
		relay = room.NewRelay(store, cfg.RoomSTUNURL)
		defer relay.Close()
		slog.Info("room relay enabled", "stun", cfg.RoomSTUNURL)
	}

	api := httpapi.New(cfg, store, gate, dashboard, bridge, settingsStore, relay, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		slog.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("listen error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}

	slog.Info("shutdown complete")
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
