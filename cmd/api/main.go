package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mhire/triage-assistant/cmd/mainconfig"
	"github.com/mhire/triage-assistant/internal/api/router"
	"github.com/mhire/triage-assistant/internal/app/bootstrap"
	appconfig "github.com/mhire/triage-assistant/internal/config"
	"github.com/mhire/triage-assistant/internal/conversation"
	"github.com/mhire/triage-assistant/internal/http/handlers"
	"github.com/mhire/triage-assistant/internal/observability/metrics"
	"github.com/mhire/triage-assistant/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	logger := logging.NewWithRing(cfg.LogLevel, logging.NewRing(cfg.LogBufferSize))
	logger.Info("starting triage-assistant API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := buildServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build server", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// setupMetrics creates a dedicated registry with the process collectors and
// the application metrics registered.
func setupMetrics() (http.Handler, *metrics.ConversationMetrics, *metrics.MessagingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		metrics.NewConversationMetrics(reg),
		metrics.NewMessagingMetrics(reg)
}

// buildServer wires every component from cfg. The returned cleanup closes
// connections opened along the way.
func buildServer(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*http.Server, func(), error) {
	metricsHandler, convMetrics, msgMetrics := setupMetrics()
	loadAWS := func(ctx context.Context) (aws.Config, error) {
		return mainconfig.LoadAWSConfig(ctx, cfg)
	}

	llm, err := bootstrap.BuildLLMClient(ctx, cfg, loadAWS, logger)
	if err != nil {
		return nil, nil, err
	}
	notifier := bootstrap.BuildNotifier(ctx, cfg, loadAWS, logger)
	engine, err := bootstrap.BuildEngine(cfg, llm, notifier, convMetrics, logger)
	if err != nil {
		return nil, nil, err
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	cleanup := func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}
	processed := bootstrap.BuildProcessedStore(redisClient, cfg, logger)

	messagingHandler, err := bootstrap.BuildMessagingHandler(cfg, engine, processed, msgMetrics, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	r := router.New(&router.Config{
		Logger:              logger,
		SystemHandler:       handlers.NewSystemHandler(logger.Ring(), logger, healthChecks(redisClient)...),
		ConversationHandler: conversation.NewHandler(engine, logger),
		MessagingHandler:    messagingHandler,
		MetricsHandler:      metricsHandler,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LLMTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv, cleanup, nil
}

func healthChecks(redisClient *redis.Client) []handlers.SystemOption {
	if redisClient == nil {
		return nil
	}
	return []handlers.SystemOption{
		handlers.WithHealthCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
	}
}
