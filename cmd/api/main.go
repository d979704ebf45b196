package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/leadrelay/cmd/mainconfig"
	"github.com/wolfman30/leadrelay/internal/api/router"
	"github.com/wolfman30/leadrelay/internal/app/bootstrap"
	appconfig "github.com/wolfman30/leadrelay/internal/config"
	"github.com/wolfman30/leadrelay/internal/conversation"
	"github.com/wolfman30/leadrelay/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/leadrelay/internal/http/middleware"
	"github.com/wolfman30/leadrelay/internal/leads"
	"github.com/wolfman30/leadrelay/internal/messaging"
	"github.com/wolfman30/leadrelay/internal/observability/metrics"
	"github.com/wolfman30/leadrelay/internal/phone"
	"github.com/wolfman30/leadrelay/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting leadrelay API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	reg, metricsHandler := setupMetrics()
	convMetrics := metrics.NewConversationMetrics(reg)
	msgMetrics := metrics.NewMessagingMetrics(reg)

	pool, err := connectPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	var sqlDB *sql.DB
	if pool != nil {
		defer pool.Close()
		sqlDB = stdlib.OpenDBFromPool(pool)
		defer func() { _ = sqlDB.Close() }()
	} else {
		logger.Warn("DATABASE_URL not set; leads are kept in memory")
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	llmClient, err := bootstrap.BuildLLMClient(ctx, cfg, func(ctx context.Context) (aws.Config, error) {
		return mainconfig.LoadAWSConfig(ctx, cfg)
	}, logger)
	if err != nil {
		return err
	}

	messenger, provider, reason := bootstrap.BuildOutboundMessenger(cfg, msgMetrics, logger)
	if messenger == nil {
		return fmt.Errorf("no sms provider configured: %s", reason)
	}
	logger.Info("sms provider configured", "provider", provider)

	leadsRepo := bootstrap.BuildLeadsRepository(pool)
	normalizer := phone.NewNormalizer(cfg.DefaultPhoneRegion)
	orchestrator := conversation.NewOrchestrator(
		leadsRepo,
		bootstrap.BuildReplyGenerator(llmClient, cfg),
		messenger,
		bootstrap.BuildProfileResolver(cfg, sqlDB, redisClient, logger),
		logger,
		conversation.WithLocker(bootstrap.BuildLocker(cfg, redisClient, logger)),
		conversation.WithDuplicateGuard(bootstrap.BuildDuplicateGuard(pool)),
		conversation.WithMetrics(convMetrics),
		conversation.WithPhoneNormalizer(normalizer),
		conversation.WithDispatchTimeout(cfg.DispatchTimeout),
	)

	limiter := httpmiddleware.NewIPRateLimiter(cfg.WebhookRateLimitRPS, cfg.WebhookRateLimitBurst, logger)
	go limiter.Run(ctx, 5*time.Minute)

	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set; admin routes reject every request")
	}
	if cfg.TwilioWebhookSecret == "" {
		logger.Warn("TWILIO_WEBHOOK_SECRET not set; webhook signatures are not checked")
	}

	handler := router.New(&router.Config{
		Logger: logger,
		MessagingHandler: messaging.NewHandler(orchestrator, messaging.HandlerConfig{
			WebhookSecret: cfg.TwilioWebhookSecret,
			PublicBaseURL: cfg.PublicBaseURL,
			Normalizer:    normalizer,
			Metrics:       msgMetrics,
		}, logger),
		LeadsHandler:       leads.NewHandler(leadsRepo, logger),
		AdminLeads:         handlers.NewAdminLeadsHandler(orchestrator, logger),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WebhookLimiter:     limiter,
	})

	return serve(ctx, &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, logger)
}

// serve runs srv until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, srv *http.Server, logger *logging.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func setupMetrics() (*prometheus.Registry, http.Handler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// connectPostgresPool returns a nil pool only when no database is configured.
// A configured but unusable database is an error: falling back to memory would
// drop every lead on restart.
func connectPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres not reachable: %w", err)
	}
	return pool, nil
}
