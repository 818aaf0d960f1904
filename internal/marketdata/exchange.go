package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/irfndi/arb-edge/internal/apperror"
	"github.com/irfndi/arb-edge/internal/platform/observability"
	"github.com/irfndi/arb-edge/internal/platform/resilience"
)

// RESTSourceConfig configures the exchange REST adapter.
type RESTSourceConfig struct {
	// BinanceBaseURL and BybitBaseURL override the production endpoints,
	// mainly for tests.
	BinanceBaseURL string
	BybitBaseURL   string

	RetryConfig   resilience.RetryConfig
	LimiterConfig resilience.LimiterConfig

	// ExchangeLimits overrides the shared limiter config per exchange
	// name (lowercase).
	ExchangeLimits map[string]resilience.LimiterConfig

	Logger *observability.Logger
}

// RESTSource fetches funding rates from exchange REST APIs. Each exchange
// gets its own rate limiter and circuit breaker so one failing venue does
// not poison the others.
type RESTSource struct {
	client   *http.Client
	binance  string
	bybit    string
	limiter  *resilience.LimiterGroup
	retryCfg resilience.RetryConfig
	logger   *observability.Logger

	mu       sync.Mutex
	breakers map[string]*resilience.Breaker[FundingRateInfo]
}

// NewRESTSource creates the adapter with production defaults.
func NewRESTSource(cfg RESTSourceConfig) *RESTSource {
	if cfg.BinanceBaseURL == "" {
		cfg.BinanceBaseURL = "https://fapi.binance.com"
	}
	if cfg.BybitBaseURL == "" {
		cfg.BybitBaseURL = "https://api.bybit.com"
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = resilience.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    2 * time.Second,
			Jitter:      0.2,
		}
	}
	if cfg.LimiterConfig.RequestsPerSecond == 0 {
		cfg.LimiterConfig = resilience.DefaultLimiterConfig()
	}

	limiter := resilience.NewLimiterGroup(cfg.LimiterConfig)
	for name, limit := range cfg.ExchangeLimits {
		limiter.Configure(strings.ToLower(name), limit)
	}

	return &RESTSource{
		client:   &http.Client{Timeout: 10 * time.Second},
		binance:  cfg.BinanceBaseURL,
		bybit:    cfg.BybitBaseURL,
		limiter:  limiter,
		retryCfg: cfg.RetryConfig,
		logger:   cfg.Logger,
		breakers: make(map[string]*resilience.Breaker[FundingRateInfo]),
	}
}

// GetFundingRateDirect fetches the live funding rate from the exchange,
// behind the exchange's rate limiter, circuit breaker and retry policy.
func (s *RESTSource) GetFundingRateDirect(ctx context.Context, exchange, symbol string) (FundingRateInfo, error) {
	ex := strings.ToLower(exchange)
	sym := strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))

	var fetch func(context.Context, string) (FundingRateInfo, error)
	switch ex {
	case "binance":
		fetch = s.fetchBinance
	case "bybit":
		fetch = s.fetchBybit
	default:
		return FundingRateInfo{}, apperror.API(exchange, "unsupported exchange", nil)
	}

	return s.breaker(ex).Execute(func() (FundingRateInfo, error) {
		return resilience.RetryWithResult(ctx, s.retryCfg, func(ctx context.Context) (FundingRateInfo, error) {
			if err := s.limiter.Wait(ctx, ex); err != nil {
				return FundingRateInfo{}, fmt.Errorf("rate limiter: %w", err)
			}
			return fetch(ctx, sym)
		})
	})
}

func (s *RESTSource) breaker(exchange string) *resilience.Breaker[FundingRateInfo] {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[exchange]
	if !ok {
		b = resilience.NewBreaker[FundingRateInfo](resilience.DefaultBreakerConfig(exchange))
		s.breakers[exchange] = b
	}
	return b
}

// binancePremiumIndex is the /fapi/v1/premiumIndex response shape.
type binancePremiumIndex struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	IndexPrice      string `json:"indexPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Time            int64  `json:"time"`
}

func (s *RESTSource) fetchBinance(ctx context.Context, symbol string) (FundingRateInfo, error) {
	url := fmt.Sprintf("%s/fapi/v1/premiumIndex?symbol=%s", s.binance, symbol)

	var resp binancePremiumIndex
	if err := s.getJSON(ctx, url, &resp); err != nil {
		return FundingRateInfo{}, err
	}

	rate, err := strconv.ParseFloat(resp.LastFundingRate, 64)
	if err != nil {
		return FundingRateInfo{}, fmt.Errorf("invalid argument: funding rate %q: %w", resp.LastFundingRate, err)
	}

	info := FundingRateInfo{
		Exchange:             "binance",
		Symbol:               resp.Symbol,
		FundingRate:          rate,
		Timestamp:            resp.Time,
		Datetime:             time.UnixMilli(resp.Time).UTC().Format(time.RFC3339),
		FundingIntervalHours: 8,
	}
	if resp.NextFundingTime > 0 {
		info.NextFundingTime = &resp.NextFundingTime
	}
	if mark, err := strconv.ParseFloat(resp.MarkPrice, 64); err == nil {
		info.MarkPrice = &mark
	}
	if index, err := strconv.ParseFloat(resp.IndexPrice, 64); err == nil {
		info.IndexPrice = &index
	}
	return info, nil
}

// bybitTickers is the /v5/market/tickers response shape.
type bybitTickers struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol          string `json:"symbol"`
			FundingRate     string `json:"fundingRate"`
			MarkPrice       string `json:"markPrice"`
			IndexPrice      string `json:"indexPrice"`
			NextFundingTime string `json:"nextFundingTime"`
		} `json:"list"`
	} `json:"result"`
	Time int64 `json:"time"`
}

func (s *RESTSource) fetchBybit(ctx context.Context, symbol string) (FundingRateInfo, error) {
	url := fmt.Sprintf("%s/v5/market/tickers?category=linear&symbol=%s", s.bybit, symbol)

	var resp bybitTickers
	if err := s.getJSON(ctx, url, &resp); err != nil {
		return FundingRateInfo{}, err
	}
	if resp.RetCode != 0 {
		return FundingRateInfo{}, fmt.Errorf("bybit error %d: %s", resp.RetCode, resp.RetMsg)
	}
	if len(resp.Result.List) == 0 {
		return FundingRateInfo{}, fmt.Errorf("invalid argument: no ticker for symbol %s", symbol)
	}

	ticker := resp.Result.List[0]
	rate, err := strconv.ParseFloat(ticker.FundingRate, 64)
	if err != nil {
		return FundingRateInfo{}, fmt.Errorf("invalid argument: funding rate %q: %w", ticker.FundingRate, err)
	}

	info := FundingRateInfo{
		Exchange:             "bybit",
		Symbol:               ticker.Symbol,
		FundingRate:          rate,
		Timestamp:            resp.Time,
		Datetime:             time.UnixMilli(resp.Time).UTC().Format(time.RFC3339),
		FundingIntervalHours: 8,
	}
	if next, err := strconv.ParseInt(ticker.NextFundingTime, 10, 64); err == nil && next > 0 {
		info.NextFundingTime = &next
	}
	if mark, err := strconv.ParseFloat(ticker.MarkPrice, 64); err == nil {
		info.MarkPrice = &mark
	}
	if index, err := strconv.ParseFloat(ticker.IndexPrice, 64); err == nil {
		info.IndexPrice = &index
	}
	return info, nil
}

func (s *RESTSource) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
