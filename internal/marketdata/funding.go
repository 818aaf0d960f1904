// Package marketdata fetches exchange market data, fronted by the tiered
// cache so request handlers rarely pay for a live network call.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/irfndi/arb-edge/internal/apperror"
	"github.com/irfndi/arb-edge/internal/platform/cache"
	"github.com/irfndi/arb-edge/internal/platform/observability"
)

// FundingRateTTL is how long a fetched funding rate stays cached. Most
// exchanges publish funding on 1-8 hour cycles, so two hours keeps values
// fresh without hammering the APIs.
const FundingRateTTL = 7200 * time.Second

// FundingRateInfo is one exchange's current funding rate for a symbol.
type FundingRateInfo struct {
	Exchange        string   `json:"exchange"`
	Symbol          string   `json:"symbol"`
	FundingRate     float64  `json:"funding_rate"`
	Timestamp       int64    `json:"timestamp"`
	Datetime        string   `json:"datetime"`
	NextFundingTime *int64   `json:"next_funding_time,omitempty"`
	MarkPrice       *float64 `json:"mark_price,omitempty"`
	IndexPrice      *float64 `json:"index_price,omitempty"`

	// FundingIntervalHours is the exchange's settlement cycle, typically 8.
	FundingIntervalHours int `json:"funding_interval_hours"`
}

// MarketDataSource fetches live market data from an exchange. Retry and
// rate-limit policy belong to implementations, not to callers.
type MarketDataSource interface {
	GetFundingRateDirect(ctx context.Context, exchange, symbol string) (FundingRateInfo, error)
}

// FundingRateKey builds the cache key for an exchange/symbol pair. The
// exchange is lower-cased and the symbol upper-cased so mixed-case callers
// hit the same entry.
func FundingRateKey(exchange, symbol string) string {
	return fmt.Sprintf("funding_rate:%s:%s", strings.ToLower(exchange), strings.ToUpper(symbol))
}

// FundingRateService serves funding rates from cache, falling back to the
// live MarketDataSource on a miss.
type FundingRateService struct {
	store   *cache.TieredStore
	source  MarketDataSource
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewFundingRateService creates the service. Metrics may be nil.
func NewFundingRateService(store *cache.TieredStore, source MarketDataSource, logger *observability.Logger, metrics *observability.Metrics) *FundingRateService {
	return &FundingRateService{
		store:   store,
		source:  source,
		logger:  logger,
		metrics: metrics,
	}
}

// GetFundingRate returns the current funding rate for an exchange/symbol,
// served from cache when a fresh value exists. Cache read failures fall
// through to a live fetch: a broken cache must not block live market data.
func (s *FundingRateService) GetFundingRate(ctx context.Context, exchange, symbol string) (FundingRateInfo, error) {
	key := FundingRateKey(exchange, symbol)

	entry, err := s.store.Get(ctx, key)
	if err == nil {
		var info FundingRateInfo
		if err := json.Unmarshal([]byte(entry.Value), &info); err == nil {
			return info, nil
		}
		s.logger.LogWarn(ctx, "discarding undecodable cached funding rate", "key", key, "error", err)
	} else if !errors.Is(err, cache.ErrNotFound) {
		s.logger.LogWarn(ctx, "funding rate cache read failed", "key", key, "error", err)
	}

	return s.RefreshFundingRate(ctx, exchange, symbol)
}

// RefreshFundingRate always fetches live, then caches the result. The cache
// write is best-effort: the freshly fetched value is returned either way.
// A fetch failure is surfaced as an API error naming the exchange, never
// substituted with a zero rate.
func (s *FundingRateService) RefreshFundingRate(ctx context.Context, exchange, symbol string) (FundingRateInfo, error) {
	start := time.Now()

	info, err := s.source.GetFundingRateDirect(ctx, exchange, symbol)
	if err != nil {
		s.metrics.RecordFundingFetch(ctx, strings.ToLower(exchange), "error", time.Since(start))
		return FundingRateInfo{}, apperror.API(exchange, fmt.Sprintf("failed to fetch funding rate for %s", symbol), err)
	}
	s.metrics.RecordFundingFetch(ctx, strings.ToLower(exchange), "ok", time.Since(start))

	payload, err := json.Marshal(info)
	if err != nil {
		s.logger.LogWarn(ctx, "failed to encode funding rate for caching",
			"exchange", exchange, "symbol", symbol, "error", err)
		return info, nil
	}

	key := FundingRateKey(exchange, symbol)
	if err := s.store.PutTyped(ctx, key, string(payload), cache.DataTypeFundingRate, cache.TierWarm, FundingRateTTL); err != nil {
		s.logger.LogWarn(ctx, "failed to cache funding rate", "key", key, "error", err)
	}

	return info, nil
}
