// Package notification publishes opportunity-invalidation events so
// downstream consumers (alerting, cache peers) learn about soft deletes.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/irfndi/arb-edge/internal/platform/aws"
	"github.com/irfndi/arb-edge/internal/platform/observability"
)

// InvalidationEvent describes one opportunity marked invalid.
type InvalidationEvent struct {
	OpportunityID string `json:"opportunity_id"`
	Pair          string `json:"pair"`
	Reason        string `json:"reason"`
	Timestamp     int64  `json:"timestamp"`
}

// Publisher delivers invalidation events.
type Publisher interface {
	PublishInvalidation(ctx context.Context, event InvalidationEvent) error
}

// SNSPublisher publishes invalidation events to an SNS topic.
type SNSPublisher struct {
	client   *aws.SNSClient
	topicARN string
	logger   *observability.Logger
}

// SNSPublisherConfig holds SNS publisher configuration.
type SNSPublisherConfig struct {
	Client   *aws.SNSClient
	TopicARN string
	Logger   *observability.Logger
}

// NewSNSPublisher creates an SNS-backed invalidation publisher.
func NewSNSPublisher(cfg SNSPublisherConfig) (*SNSPublisher, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("SNS client is required")
	}
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("SNS topic ARN is required")
	}
	return &SNSPublisher{
		client:   cfg.Client,
		topicARN: cfg.TopicARN,
		logger:   cfg.Logger,
	}, nil
}

// PublishInvalidation sends one invalidation event with attributes for
// subscription filtering.
func (p *SNSPublisher) PublishInvalidation(ctx context.Context, event InvalidationEvent) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation event: %w", err)
	}

	attributes := map[string]string{
		"event_type": "opportunity_invalidated",
		"pair":       event.Pair,
		"reason":     event.Reason,
	}

	id, err := p.client.Publish(ctx, p.topicARN, string(payload), attributes)
	if err != nil {
		return fmt.Errorf("failed to publish invalidation event: %w", err)
	}

	p.logger.LogDebug(ctx, "published invalidation event",
		"opportunity_id", event.OpportunityID, "message_id", id)
	return nil
}
