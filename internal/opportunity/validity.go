package opportunity

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/irfndi/arb-edge/internal/apperror"
	"github.com/irfndi/arb-edge/internal/marketdata"
	"github.com/irfndi/arb-edge/internal/notification"
	"github.com/irfndi/arb-edge/internal/platform/observability"
	"github.com/irfndi/arb-edge/internal/platform/worker"
)

// Store is the authoritative persistence slice the validity engine needs.
type Store interface {
	GetAllOpportunities(ctx context.Context) ([]ArbitrageOpportunity, error)
	MarkInvalid(ctx context.Context, id string) error
}

// FundingSource supplies current funding rates for the live-fetch fallback.
type FundingSource interface {
	GetFundingRate(ctx context.Context, exchange, symbol string) (marketdata.FundingRateInfo, error)
}

// Reasons an opportunity fails evaluation.
const (
	ReasonExpired       = "expired"
	ReasonBelowProfit   = "below_profit_threshold"
	ReasonFundingClosed = "funding_diff_below_threshold"
)

// ValidityConfig holds the evaluation thresholds. Both are fixed at
// construction time.
type ValidityConfig struct {
	// MinProfitPercent is the profit floor in percent (0.1 = 0.1%).
	MinProfitPercent float64
	// MinFundingRateDiff is the minimum long/short funding differential,
	// annualised (0.02 = 2%).
	MinFundingRateDiff float64
	// Parallelism bounds concurrent evaluations in a refresh pass.
	Parallelism int
}

// DefaultValidityConfig returns the standard thresholds.
func DefaultValidityConfig() ValidityConfig {
	return ValidityConfig{
		MinProfitPercent:   0.1,
		MinFundingRateDiff: 0.02,
		Parallelism:        4,
	}
}

// Validate rejects non-positive thresholds.
func (c ValidityConfig) Validate() error {
	if c.MinProfitPercent <= 0 {
		return apperror.Validation("min profit percent must be positive")
	}
	if c.MinFundingRateDiff <= 0 {
		return apperror.Validation("min funding rate diff must be positive")
	}
	return nil
}

// ValidityEngine re-validates open opportunities against expiry, profit and
// funding-differential checks, soft-deleting the ones that fail.
type ValidityEngine struct {
	store     Store
	funding   FundingSource
	publisher notification.Publisher
	cfg       ValidityConfig
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewValidityEngine builds an engine, failing fast on a bad config.
// A nil publisher disables invalidation events.
func NewValidityEngine(store Store, funding FundingSource, publisher notification.Publisher, cfg ValidityConfig, logger *observability.Logger, metrics *observability.Metrics) (*ValidityEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultValidityConfig().Parallelism
	}
	if publisher == nil {
		publisher = notification.NewNoOpPublisher(logger)
	}
	return &ValidityEngine{
		store:     store,
		funding:   funding,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// verdict is one opportunity's evaluation outcome.
type verdict struct {
	op     ArbitrageOpportunity
	valid  bool
	reason string
}

// RefreshAll loads every open opportunity, evaluates each and marks the
// failing ones invalid. Per-opportunity failures are logged and skipped so
// one bad row never aborts the pass. Returns the count newly marked invalid.
func (e *ValidityEngine) RefreshAll(ctx context.Context) (int, error) {
	start := time.Now()

	ops, err := e.store.GetAllOpportunities(ctx)
	if err != nil {
		return 0, err
	}
	if len(ops) == 0 {
		e.metrics.RecordRefreshPass(ctx, 0, 0, time.Since(start))
		return 0, nil
	}

	jobs := make([]worker.Job[verdict], 0, len(ops))
	for _, op := range ops {
		jobs = append(jobs, worker.Job[verdict]{
			ID: op.ID,
			Execute: func(ctx context.Context) (verdict, error) {
				valid, reason, err := e.evaluateValidity(ctx, &op)
				return verdict{op: op, valid: valid, reason: reason}, err
			},
		})
	}

	invalidated := 0
	for _, result := range worker.Run(ctx, e.cfg.Parallelism, jobs) {
		if result.Err != nil {
			e.logger.LogWarn(ctx, "validity evaluation failed, skipping",
				"opportunity_id", result.JobID, "error", result.Err)
			e.metrics.RecordError(ctx, "validity_engine")
			continue
		}
		if result.Value.valid {
			continue
		}
		if err := e.MarkInvalid(ctx, result.Value.op, result.Value.reason); err != nil {
			e.logger.LogWarn(ctx, "failed to mark opportunity invalid",
				"opportunity_id", result.JobID, "error", err)
			e.metrics.RecordError(ctx, "validity_engine")
			continue
		}
		invalidated++
	}

	e.metrics.RecordRefreshPass(ctx, len(ops), invalidated, time.Since(start))
	e.logger.LogInfo(ctx, "validity refresh pass completed",
		"evaluated", len(ops), "invalidated", invalidated,
		"duration_ms", time.Since(start).Milliseconds())
	return invalidated, nil
}

// evaluateValidity reports whether an opportunity still clears every check.
// Checks run cheapest first: expiry, then profit, then the funding
// differential, which may need two live fetches when the opportunity does
// not carry its rates.
func (e *ValidityEngine) evaluateValidity(ctx context.Context, op *ArbitrageOpportunity) (bool, string, error) {
	if op.IsExpired(time.Now()) {
		return false, ReasonExpired, nil
	}

	if op.RateDifference*100.0 < e.cfg.MinProfitPercent {
		return false, ReasonBelowProfit, nil
	}

	var longRate, shortRate float64
	if op.LongRate != nil && op.ShortRate != nil {
		longRate = *op.LongRate
		shortRate = *op.ShortRate
	} else {
		// The two fetches are independent reads, so run them concurrently.
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			info, err := e.funding.GetFundingRate(gctx, op.LongExchange, op.Pair)
			if err != nil {
				return err
			}
			longRate = info.FundingRate
			return nil
		})
		g.Go(func() error {
			info, err := e.funding.GetFundingRate(gctx, op.ShortExchange, op.Pair)
			if err != nil {
				return err
			}
			shortRate = info.FundingRate
			return nil
		})
		if err := g.Wait(); err != nil {
			return false, "", err
		}
	}

	if math.Abs(shortRate-longRate) < e.cfg.MinFundingRateDiff {
		return false, ReasonFundingClosed, nil
	}

	return true, "", nil
}

// MarkInvalid soft-deletes one opportunity and emits an invalidation event.
// The event publish is best-effort: the authoritative flip already happened.
func (e *ValidityEngine) MarkInvalid(ctx context.Context, op ArbitrageOpportunity, reason string) error {
	if err := e.store.MarkInvalid(ctx, op.ID); err != nil {
		return err
	}

	event := notification.InvalidationEvent{
		OpportunityID: op.ID,
		Pair:          op.Pair,
		Reason:        reason,
		Timestamp:     time.Now().UnixMilli(),
	}
	if err := e.publisher.PublishInvalidation(ctx, event); err != nil {
		e.logger.LogWarn(ctx, "failed to publish invalidation event",
			"opportunity_id", op.ID, "error", err)
	}
	return nil
}
