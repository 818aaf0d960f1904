package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/irfndi/arb-edge/internal/platform/observability"
	"github.com/irfndi/arb-edge/internal/platform/resilience"
)

// SNSClient wraps the AWS SNS client with retry and circuit breaking.
type SNSClient struct {
	client   *sns.Client
	breaker  *resilience.Breaker[string]
	retryCfg resilience.RetryConfig
	logger   *observability.Logger
}

// SNSClientConfig holds SNS client configuration.
type SNSClientConfig struct {
	AWSConfig   aws.Config
	Logger      *observability.Logger
	RetryConfig *resilience.RetryConfig
}

// NewSNSClient creates an SNS client with resilience defaults.
func NewSNSClient(cfg SNSClientConfig) *SNSClient {
	retryCfg := resilience.DefaultRetryConfig()
	if cfg.RetryConfig != nil {
		retryCfg = *cfg.RetryConfig
	}

	return &SNSClient{
		client:   sns.NewFromConfig(cfg.AWSConfig),
		breaker:  resilience.NewBreaker[string](resilience.DefaultBreakerConfig("sns")),
		retryCfg: retryCfg,
		logger:   cfg.Logger,
	}
}

// Publish sends a message to a topic with optional string attributes,
// returning the SNS message id.
func (c *SNSClient) Publish(ctx context.Context, topicARN, message string, attributes map[string]string) (string, error) {
	start := time.Now()

	msgAttrs := make(map[string]types.MessageAttributeValue, len(attributes))
	for k, v := range attributes {
		msgAttrs[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	id, err := c.breaker.Execute(func() (string, error) {
		return resilience.RetryWithResult(ctx, c.retryCfg, func(ctx context.Context) (string, error) {
			out, err := c.client.Publish(ctx, &sns.PublishInput{
				TopicArn:          aws.String(topicARN),
				Message:           aws.String(message),
				MessageAttributes: msgAttrs,
			})
			if err != nil {
				return "", fmt.Errorf("sns publish: %w", err)
			}
			return aws.ToString(out.MessageId), nil
		})
	})
	if err != nil {
		return "", err
	}

	c.logger.LogDebug(ctx, "published SNS message",
		"topic_arn", topicARN, "message_id", id, "duration_ms", time.Since(start).Milliseconds())
	return id, nil
}
