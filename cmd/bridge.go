package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaymesh/callbridge/internal/agentlink"
	"github.com/relaymesh/callbridge/internal/bridge"
	"github.com/relaymesh/callbridge/internal/bus"
	"github.com/relaymesh/callbridge/internal/config"
	"github.com/relaymesh/callbridge/internal/dedup"
	"github.com/relaymesh/callbridge/internal/dialer"
	"github.com/relaymesh/callbridge/internal/messaging"
	"github.com/relaymesh/callbridge/internal/store"
	pgstore "github.com/relaymesh/callbridge/internal/store/pg"
	sqlitestore "github.com/relaymesh/callbridge/internal/store/sqlite"
	"github.com/relaymesh/callbridge/internal/tracing"
)

func runBridge() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		slog.Info("run 'callbridge onboard' to create a config file")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	conversations, closeStore, err := openStore(cfg)
	if err != nil {
		slog.Error("failed to open conversation store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	registry := dedup.NewMemory()
	tunables := cfg.Snapshot

	sessions := agentlink.NewManager(agentlink.Options{
		WSBaseURL:    cfg.AgentLink.WSBaseURL,
		APIKey:       cfg.AgentLink.APIKey,
		OpenTimeout:  cfg.AgentLink.OpenTimeout.Or(10 * time.Second),
		ReplyTimeout: cfg.AgentLink.ReplyTimeout.Or(30 * time.Second),
		IdleTTL:      cfg.AgentLink.IdleTTL.Or(30 * time.Minute),
		IdleSweep:    cfg.AgentLink.IdleSweep.Or(5 * time.Minute),
	})

	dialerClient := dialer.NewClient(cfg.Dialer.BaseURL, cfg.Dialer.APIKey)
	gateway := messaging.NewHTTPGateway(
		cfg.Messaging.BaseURL, cfg.Messaging.APIKey, cfg.Messaging.Sender, cfg.Messaging.RateLimitRPM)
	msgBus := bus.New()

	initiator := bridge.NewInitiator(dialerClient, sessions, gateway, conversations, registry, tunables)
	poller := bridge.NewPoller(dialerClient, registry, initiator,
		cfg.Dialer.PollInterval.Or(15*time.Second), cfg.Dialer.CompletedWindow.Or(24*time.Hour))
	orchestrator := bridge.NewOrchestrator(sessions, gateway, conversations, msgBus,
		cfg.AgentLink.DefaultAgentID, cfg.AgentLink.ReplyTimeout.Or(30*time.Second), tunables)

	sweeper := dedup.NewSweeper(registry,
		tunables().DedupSweepCron, tunables().DedupMaxAge.Or(7*24*time.Hour))
	dispatcher := messaging.NewDispatcher(msgBus, gateway)

	go sessions.Run(ctx)
	go sweeper.Run(ctx)
	go poller.Run(ctx)
	go orchestrator.Run(ctx)
	go dispatcher.Run(ctx)

	if watcher, err := config.NewWatcher(cfgPath, cfg); err != nil {
		slog.Warn("config watcher unavailable", "error", err)
	} else if err := watcher.Start(); err != nil {
		slog.Warn("config watcher failed to start", "error", err)
	} else {
		defer watcher.Stop()
	}

	mux := http.NewServeMux()
	messaging.NewWebhookHandler(msgBus, cfg.Messaging.WebhookSecret).Routes(mux)
	server := &http.Server{
		Addr:              cfg.Messaging.WebhookAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("webhook server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("webhook server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("webhook server shutdown", "error", err)
	}
}

// openStore selects Postgres when a DSN is configured, SQLite otherwise.
func openStore(cfg *config.Config) (store.ConversationStore, func(), error) {
	if cfg.Database.PostgresDSN != "" {
		db, err := pgstore.OpenDB(cfg.Database.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using postgres conversation store")
		return pgstore.New(db), func() { db.Close() }, nil
	}

	path := config.ExpandHome(cfg.Database.SQLitePath)
	st, err := sqlitestore.Open(path)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("using sqlite conversation store", "path", path)
	return st, func() { st.Close() }, nil
}
