package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/irfndi/arb-edge/internal/marketdata"
	"github.com/irfndi/arb-edge/internal/notification"
	"github.com/irfndi/arb-edge/internal/opportunity"
	"github.com/irfndi/arb-edge/internal/platform/aws"
	"github.com/irfndi/arb-edge/internal/platform/cache"
	"github.com/irfndi/arb-edge/internal/platform/config"
	"github.com/irfndi/arb-edge/internal/platform/observability"
	"github.com/irfndi/arb-edge/internal/platform/resilience"
	"github.com/irfndi/arb-edge/internal/storage"

	awssdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	log.Println("Loading configuration...")
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg := config.MustLoad(configPath)

	// Setup observability (foundational - must be first)
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics("opportunity-refresher", cfg.Observability.Metrics.Enabled)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	logger.Info("observability setup complete")

	// Cache backend: Redis when configured, in-memory otherwise.
	var backend cache.Backend
	if cfg.Redis.Address != "" {
		backend, err = cache.NewRedisBackend(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.LogError(ctx, "failed to connect to Redis", err)
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
	} else {
		logger.Warn("no Redis address configured, using in-memory cache backend")
		backend = cache.NewMemoryBackend()
	}

	store := cache.NewTieredStore(backend, cache.StoreConfig{
		TierCapacity: cfg.Cache.TierCapacity,
		Compression:  cfg.Cache.Compression,
	}, logger, metrics)
	defer store.Close()

	oppCache := opportunity.NewCache(store, logger)

	// Exchange REST adapter and funding rate service
	source := marketdata.NewRESTSource(marketdata.RESTSourceConfig{
		BinanceBaseURL: cfg.Exchanges.Binance.BaseURL,
		BybitBaseURL:   cfg.Exchanges.Bybit.BaseURL,
		ExchangeLimits: map[string]resilience.LimiterConfig{
			"binance": {
				RequestsPerSecond: cfg.Exchanges.Binance.RateLimit.RequestsPerSecond,
				Burst:             cfg.Exchanges.Binance.RateLimit.Burst,
			},
			"bybit": {
				RequestsPerSecond: cfg.Exchanges.Bybit.RateLimit.RequestsPerSecond,
				Burst:             cfg.Exchanges.Bybit.RateLimit.Burst,
			},
		},
		Logger: logger,
	})
	fundingService := marketdata.NewFundingRateService(store, source, logger, metrics)

	// AWS clients
	awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{
		Region:   cfg.AWS.Region,
		Endpoint: cfg.AWS.Endpoint,
	})
	if err != nil {
		logger.LogError(ctx, "failed to load AWS config", err)
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	dynamoStore := storage.NewDynamoStore(awssdk.NewFromConfig(awsCfg), cfg.AWS.DynamoTable, logger)

	// Invalidation events only flow when a topic is configured.
	var publisher notification.Publisher
	if cfg.AWS.SNSTopicARN != "" {
		snsClient := aws.NewSNSClient(aws.SNSClientConfig{
			AWSConfig: awsCfg,
			Logger:    logger,
		})
		publisher, err = notification.NewSNSPublisher(notification.SNSPublisherConfig{
			Client:   snsClient,
			TopicARN: cfg.AWS.SNSTopicARN,
			Logger:   logger,
		})
		if err != nil {
			logger.LogError(ctx, "failed to create SNS publisher", err)
			log.Fatalf("Failed to create SNS publisher: %v", err)
		}
	} else {
		logger.Warn("no SNS topic configured, invalidation events will only be logged")
		publisher = notification.NewNoOpPublisher(logger)
	}

	// Validity engine
	engine, err := opportunity.NewValidityEngine(dynamoStore, fundingService, publisher, opportunity.ValidityConfig{
		MinProfitPercent:   cfg.Validity.MinProfitPercent,
		MinFundingRateDiff: cfg.Validity.MinFundingRateDiff,
		Parallelism:        cfg.Validity.Parallelism,
	}, logger, metrics)
	if err != nil {
		logger.LogError(ctx, "failed to create validity engine", err)
		log.Fatalf("Failed to create validity engine: %v", err)
	}

	// Warm the funding rate cache before the first pass
	if cfg.Warmup.Enabled {
		runWarmup(ctx, cfg, fundingService, logger)
	}

	// Metrics endpoint
	if cfg.Observability.Metrics.Enabled {
		go startHTTPServer(cfg.Observability.Metrics.Port, metrics, logger)
	}

	// Schedule refresh passes
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Refresh.Schedule, func() {
		runRefresh(ctx, engine, dynamoStore, oppCache, logger)
	})
	if err != nil {
		logger.LogError(ctx, "invalid refresh schedule", err, "schedule", cfg.Refresh.Schedule)
		log.Fatalf("Invalid refresh schedule %q: %v", cfg.Refresh.Schedule, err)
	}
	scheduler.Start()
	logger.Info("refresh scheduler started", "schedule", cfg.Refresh.Schedule)

	if cfg.Refresh.RunOnStart {
		go runRefresh(ctx, engine, dynamoStore, oppCache, logger)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received, gracefully stopping...")

	cancel()
	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		logger.Warn("timed out waiting for in-flight refresh to finish")
	}
	logger.Info("application stopped")
}

// runWarmup pre-fetches funding rates for the configured pairs.
func runWarmup(ctx context.Context, cfg *config.Config, service *marketdata.FundingRateService, logger *observability.Logger) {
	parsed, err := cfg.Warmup.ParsedPairs()
	if err != nil {
		// Validated at load time, but guard anyway.
		logger.LogError(ctx, "invalid warmup pairs", err)
		return
	}
	pairs := make([]marketdata.ExchangePair, len(parsed))
	for i, p := range parsed {
		pairs[i] = marketdata.ExchangePair{Exchange: p[0], Symbol: p[1]}
	}

	warmer := cache.NewWarmer(logger, cache.WarmupConfig{
		Timeout:     cfg.Warmup.Timeout,
		Parallelism: cfg.Warmup.Parallelism,
	})
	warmer.RegisterProvider(marketdata.NewFundingWarmup(service, pairs, logger))

	results := warmer.Warmup(ctx)
	if results.HasErrors() {
		logger.Warn("cache warmup finished with errors",
			"errors", results.Errors,
			"duration_ms", results.TotalTime.Milliseconds(),
		)
		return
	}
	logger.Info("cache warmup complete", "duration_ms", results.TotalTime.Milliseconds())
}

// runRefresh executes one validity pass and republishes the global
// opportunity snapshot from whatever survived.
func runRefresh(ctx context.Context, engine *opportunity.ValidityEngine, store *storage.DynamoStore, oppCache *opportunity.Cache, logger *observability.Logger) {
	invalidated, err := engine.RefreshAll(ctx)
	if err != nil {
		logger.LogError(ctx, "validity refresh failed", err)
		return
	}

	remaining, err := store.GetAllOpportunities(ctx)
	if err != nil {
		logger.LogError(ctx, "failed to reload opportunities for snapshot", err)
		return
	}
	if err := oppCache.CacheGlobalOpportunities(ctx, remaining, 0); err != nil {
		logger.LogError(ctx, "failed to cache global snapshot", err)
		return
	}

	logger.Info("refresh pass complete",
		"invalidated", invalidated,
		"remaining", len(remaining),
	)
}

// startHTTPServer serves health checks and the metrics endpoint.
func startHTTPServer(port int, metrics *observability.Metrics, logger *observability.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.Handle("/metrics", metrics.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("HTTP server listening", "address", addr)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.LogError(context.Background(), "HTTP server error", err)
	}
}
