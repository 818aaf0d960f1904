package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/irfndi/arb-edge/internal/marketdata"
	"github.com/irfndi/arb-edge/internal/notification"
	"github.com/irfndi/arb-edge/internal/opportunity"
	awsplatform "github.com/irfndi/arb-edge/internal/platform/aws"
	"github.com/irfndi/arb-edge/internal/platform/cache"
	"github.com/irfndi/arb-edge/internal/platform/observability"
	"github.com/irfndi/arb-edge/internal/storage"
)

var (
	engine *opportunity.ValidityEngine
	store  *cache.TieredStore
	logger *observability.Logger
)

func init() {
	logger = observability.NewLogger(envOr("LOG_LEVEL", "info"), "json")

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO())
	if err != nil {
		panic(fmt.Sprintf("failed to load AWS config: %v", err))
	}

	tableName := envOr("DYNAMO_TABLE", "arbitrage-opportunities")
	dynamoStore := storage.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), tableName, logger)

	// Warm invocations reuse the same in-memory cache, so repeated funding
	// lookups within the instance's lifetime stay local.
	store = cache.NewTieredStore(cache.NewMemoryBackend(), cache.StoreConfig{
		Compression: true,
	}, logger, nil)

	source := marketdata.NewRESTSource(marketdata.RESTSourceConfig{Logger: logger})
	fundingService := marketdata.NewFundingRateService(store, source, logger, nil)

	var publisher notification.Publisher
	if topicARN := os.Getenv("SNS_TOPIC_ARN"); topicARN != "" {
		snsClient := awsplatform.NewSNSClient(awsplatform.SNSClientConfig{
			AWSConfig: awsCfg,
			Logger:    logger,
		})
		publisher, err = notification.NewSNSPublisher(notification.SNSPublisherConfig{
			Client:   snsClient,
			TopicARN: topicARN,
			Logger:   logger,
		})
		if err != nil {
			panic(fmt.Sprintf("failed to create SNS publisher: %v", err))
		}
	}

	engine, err = opportunity.NewValidityEngine(dynamoStore, fundingService, publisher, opportunity.ValidityConfig{
		MinProfitPercent:   envFloat("MIN_PROFIT_PERCENT", 0.1),
		MinFundingRateDiff: envFloat("MIN_FUNDING_RATE_DIFF", 0.02),
		Parallelism:        4,
	}, logger, nil)
	if err != nil {
		panic(fmt.Sprintf("failed to create validity engine: %v", err))
	}

	logger.Info("refresh lambda initialized", "table", tableName)
}

// Handler runs one validity refresh pass per scheduled event.
func Handler(ctx context.Context, event events.CloudWatchEvent) error {
	logger.LogInfo(ctx, "scheduled refresh triggered",
		"source", event.Source, "time", event.Time)

	invalidated, err := engine.RefreshAll(ctx)
	if err != nil {
		logger.LogError(ctx, "refresh pass failed", err)
		return err
	}

	logger.LogInfo(ctx, "refresh pass finished", "invalidated", invalidated)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid %s: %v", key, err))
	}
	return f
}

func main() {
	lambda.Start(Handler)
}
