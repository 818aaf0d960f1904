package notification

import (
	"context"

	"github.com/irfndi/arb-edge/internal/platform/observability"
)

// NoOpPublisher logs invalidation events instead of publishing them.
// Use this when SNS is not configured (local development, testing).
type NoOpPublisher struct {
	logger *observability.Logger
}

// NewNoOpPublisher creates a log-only publisher.
func NewNoOpPublisher(logger *observability.Logger) *NoOpPublisher {
	return &NoOpPublisher{logger: logger}
}

// PublishInvalidation logs the event.
func (p *NoOpPublisher) PublishInvalidation(ctx context.Context, event InvalidationEvent) error {
	if p.logger != nil {
		p.logger.LogInfo(ctx, "opportunity invalidated (SNS disabled)",
			"opportunity_id", event.OpportunityID,
			"pair", event.Pair,
			"reason", event.Reason,
		)
	}
	return nil
}
