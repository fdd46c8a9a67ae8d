package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/alimlabs/edu-assistant/internal/api/router"
	"github.com/alimlabs/edu-assistant/internal/assistant"
	"github.com/alimlabs/edu-assistant/internal/audit"
	"github.com/alimlabs/edu-assistant/internal/config"
	"github.com/alimlabs/edu-assistant/internal/http/handlers"
	"github.com/alimlabs/edu-assistant/internal/observability/metrics"
	"github.com/alimlabs/edu-assistant/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting assistant api", "env", cfg.Env, "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable at startup, session features degraded", "error", err)
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Warn("database unreachable at startup, audit log degraded", "error", err)
		}
	} else {
		logger.Warn("DATABASE_URL not set, audit log disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.NewAssistantMetrics(registry)

	tracer := otel.Tracer("eduassistant.cmd.api")

	var remote assistant.Provider
	if cfg.RemoteAPIKey != "" {
		remote = assistant.NewRemoteProvider(cfg.RemoteAPIKey, cfg.RemoteBaseURL, cfg.RemoteModel, cfg.RemoteTimeout)
	}
	local := assistant.NewLocalProvider(cfg.LocalBaseURL, cfg.LocalModel, cfg.LocalTimeout)
	var partner assistant.Provider
	if cfg.PartnerAPIKey != "" {
		p, err := assistant.NewPartnerProvider(ctx, cfg.PartnerAPIKey, cfg.PartnerModel, cfg.PartnerTimeout)
		if err != nil {
			logger.Warn("partner provider unavailable", "error", err)
		} else {
			partner = p
			defer p.Close()
		}
	}
	offline := assistant.NewOfflineProvider()

	telemetry := assistant.NewTelemetry()
	prober := assistant.NewProber(cfg.LocalBaseURL, cfg.HealthCacheTTL, func() {
		telemetry.RecordCacheHit()
		m.ObserveHealthCacheHit()
	})
	orch := assistant.NewOrchestrator(remote, local, partner, offline, prober, logger)

	limiter := assistant.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	sessions := assistant.NewSessionLanguages(redisClient, tracer)
	history := assistant.NewHistoryStore(redisClient, tracer)
	prompts := assistant.NewPromptBuilder(nil, logger)
	auditStore := audit.NewStore(db, logger)

	service := assistant.NewService(
		assistant.ServiceConfig{
			MaxInputChars:   cfg.MaxInputChars,
			TokenBudget:     cfg.TokenBudget,
			MaxOutputTokens: cfg.MaxOutputTokens,
			DefaultMode:     cfg.ProviderMode,
		},
		limiter, sessions, history, prompts, orch, telemetry, m, auditStore, logger,
	)

	chatHandler := handlers.NewChatHandler(service, logger)
	statusHandler := handlers.NewStatusHandler(handlers.StatusConfig{
		Mode:              cfg.ProviderMode,
		RemoteConfigured:  remote != nil,
		PartnerConfigured: partner != nil,
		AdminRole:         cfg.AdminRole,
	}, service, prober)

	handler := router.New(&router.Config{
		Logger:         logger,
		ChatHandler:    chatHandler,
		StatusHandler:  statusHandler,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: SSE responses stay open for the life of a turn.
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}
