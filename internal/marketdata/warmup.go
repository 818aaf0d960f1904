package marketdata

import (
	"context"
	"fmt"

	"github.com/irfndi/arb-edge/internal/platform/observability"
)

// ExchangePair names one exchange/symbol combination to keep warm.
type ExchangePair struct {
	Exchange string
	Symbol   string
}

// FundingWarmup pre-fetches funding rates for configured pairs so the first
// validity pass after startup hits a warm cache.
type FundingWarmup struct {
	service *FundingRateService
	pairs   []ExchangePair
	logger  *observability.Logger
}

// NewFundingWarmup creates a warmup provider for the given pairs.
func NewFundingWarmup(service *FundingRateService, pairs []ExchangePair, logger *observability.Logger) *FundingWarmup {
	return &FundingWarmup{service: service, pairs: pairs, logger: logger}
}

// Name identifies the provider in warmup logs.
func (w *FundingWarmup) Name() string {
	return "funding-rates"
}

// Warmup fetches each configured pair, continuing past individual failures.
func (w *FundingWarmup) Warmup(ctx context.Context) error {
	var failed int
	for _, pair := range w.pairs {
		if _, err := w.service.RefreshFundingRate(ctx, pair.Exchange, pair.Symbol); err != nil {
			w.logger.LogWarn(ctx, "funding warmup fetch failed",
				"exchange", pair.Exchange, "symbol", pair.Symbol, "error", err)
			failed++
		}
	}
	if failed == len(w.pairs) && failed > 0 {
		return fmt.Errorf("all %d funding warmup fetches failed", failed)
	}
	return nil
}
