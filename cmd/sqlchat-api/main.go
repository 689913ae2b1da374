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

	"github.com/sqlchat/sqlchat/internal/agent"
	"github.com/sqlchat/sqlchat/internal/api"
	"github.com/sqlchat/sqlchat/internal/api/uistatic"
	"github.com/sqlchat/sqlchat/internal/archive"
	"github.com/sqlchat/sqlchat/internal/ask"
	"github.com/sqlchat/sqlchat/internal/capture"
	"github.com/sqlchat/sqlchat/internal/chart"
	"github.com/sqlchat/sqlchat/internal/config"
	"github.com/sqlchat/sqlchat/internal/conversation"
	"github.com/sqlchat/sqlchat/internal/db"
	"github.com/sqlchat/sqlchat/internal/observability"
)

func main() {
	config.LoadDotenv()
	cfg, err := config.LoadFromEnv("sqlchat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	database, err := db.Open(context.Background(), db.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = database.Close() }()
	database.RegisterObserver(capture.Observer())

	store, err := newSessionStore(cfg)
	if err != nil {
		logger.Error("failed to open session store", slog.Any("error", err))
		os.Exit(1)
	}
	manager := &conversation.Manager{
		Store:  store,
		Domain: cfg.Assistant.Domain,
	}
	if memoryStore, ok := store.(*conversation.MemoryStore); ok && cfg.Session.TTL > 0 {
		go sweepSessions(memoryStore, cfg.Session.TTL, logger)
	}

	sqlAgent, err := agent.NewOpenAIAgent(agent.OpenAIConfig{
		BaseURL:      cfg.Agent.BaseURL,
		APIKey:       cfg.Agent.APIKey,
		Model:        cfg.Agent.Model,
		Temperature:  cfg.Agent.Temperature,
		Timeout:      cfg.Agent.Timeout,
		MaxToolSteps: cfg.Agent.MaxToolSteps,
	}, database)
	if err != nil {
		logger.Error("failed to initialize agent", slog.Any("error", err))
		os.Exit(1)
	}

	options := []ask.Option{
		ask.WithCharts(chart.NewRenderer(database, cfg.Chart.Width, cfg.Chart.Height)),
		ask.WithInvokeTimeout(cfg.Agent.Timeout),
	}
	if cfg.Archive.Enabled {
		chartArchive, err := archive.New(context.Background(), archive.Config{
			Endpoint:         cfg.Archive.Endpoint,
			Region:           cfg.Archive.Region,
			Bucket:           cfg.Archive.Bucket,
			AccessKeyID:      cfg.Archive.AccessKeyID,
			SecretAccessKey:  cfg.Archive.SecretAccessKey,
			UseSSL:           cfg.Archive.UseSSL,
			Prefix:           cfg.Archive.Prefix,
			AutoCreateBucket: cfg.Archive.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize chart archive", slog.Any("error", err))
			os.Exit(1)
		}
		options = append(options, ask.WithArchive(chartArchive))
	}

	asker, err := ask.NewService(manager, sqlAgent, logger, options...)
	if err != nil {
		logger.Error("failed to initialize ask service", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger: logger,
		Asker:  asker,
		UI:     uistatic.Handler(),
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabase(database.Ping),
			api.CheckAgentConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func sweepSessions(store *conversation.MemoryStore, ttl time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for now := range ticker.C {
		if removed := store.Sweep(now); removed > 0 {
			logger.Debug("swept expired sessions", slog.Int("removed", removed))
		}
	}
}

func newSessionStore(cfg config.Config) (conversation.Store, error) {
	switch cfg.Session.Backend {
	case "sqlite":
		return conversation.NewSQLiteStore(cfg.Session.Path)
	default:
		return conversation.NewMemoryStore(cfg.Session.TTL), nil
	}
}
