package opportunity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/irfndi/arb-edge/internal/apperror"
	"github.com/irfndi/arb-edge/internal/marketdata"
	"github.com/irfndi/arb-edge/internal/notification"
	"github.com/irfndi/arb-edge/internal/platform/observability"
)

// mockStore is an in-memory Store recording MarkInvalid calls.
type mockStore struct {
	mu      sync.Mutex
	ops     []ArbitrageOpportunity
	loadErr error
	markErr error
	invalid map[string]int
}

func newMockStore(ops ...ArbitrageOpportunity) *mockStore {
	return &mockStore{ops: ops, invalid: make(map[string]int)}
}

func (m *mockStore) GetAllOpportunities(_ context.Context) ([]ArbitrageOpportunity, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.ops, nil
}

func (m *mockStore) MarkInvalid(_ context.Context, id string) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.mu.Lock()
	m.invalid[id]++
	m.mu.Unlock()
	return nil
}

func (m *mockStore) markCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalid[id]
}

// mockFunding returns scripted rates per exchange and counts fetches.
type mockFunding struct {
	rates   map[string]float64
	err     error
	fetches atomic.Int64
}

func (m *mockFunding) GetFundingRate(_ context.Context, exchange, symbol string) (marketdata.FundingRateInfo, error) {
	m.fetches.Add(1)
	if m.err != nil {
		return marketdata.FundingRateInfo{}, m.err
	}
	return marketdata.FundingRateInfo{
		Exchange:    exchange,
		Symbol:      symbol,
		FundingRate: m.rates[exchange],
	}, nil
}

// capturePublisher records invalidation events.
type capturePublisher struct {
	mu     sync.Mutex
	events []notification.InvalidationEvent
}

func (p *capturePublisher) PublishInvalidation(_ context.Context, event notification.InvalidationEvent) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func floatPtr(f float64) *float64 { return &f }

func newTestEngine(t *testing.T, store Store, funding FundingSource, pub notification.Publisher) *ValidityEngine {
	t.Helper()
	engine, err := NewValidityEngine(store, funding, pub, DefaultValidityConfig(), observability.NewNopLogger(), nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

// TestProfitThresholdInvalidates verifies a 0.05% spread fails the default
// 0.1% profit floor.
func TestProfitThresholdInvalidates(t *testing.T) {
	store := newMockStore(ArbitrageOpportunity{
		ID:             "opp-1",
		Pair:           "BTCUSDT",
		LongExchange:   "binance",
		ShortExchange:  "bybit",
		RateDifference: 0.0005,
		IsValid:        true,
	})
	pub := &capturePublisher{}
	engine := newTestEngine(t, store, &mockFunding{}, pub)

	updated, err := engine.RefreshAll(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if updated != 1 {
		t.Fatalf("updated = %d, want 1", updated)
	}
	if store.markCount("opp-1") != 1 {
		t.Errorf("mark count = %d, want 1", store.markCount("opp-1"))
	}
	if len(pub.events) != 1 || pub.events[0].Reason != ReasonBelowProfit {
		t.Errorf("events = %+v, want one below-profit event", pub.events)
	}
}

// TestFundingFallbackFetchesBothExchanges verifies an opportunity missing
// its rates triggers exactly two live fetches before a verdict.
func TestFundingFallbackFetchesBothExchanges(t *testing.T) {
	store := newMockStore(ArbitrageOpportunity{
		ID:             "opp-1",
		Pair:           "BTCUSDT",
		LongExchange:   "binance",
		ShortExchange:  "bybit",
		RateDifference: 0.005,
		IsValid:        true,
	})
	funding := &mockFunding{rates: map[string]float64{"binance": 0.01, "bybit": 0.05}}
	engine := newTestEngine(t, store, funding, &capturePublisher{})

	updated, err := engine.RefreshAll(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if funding.fetches.Load() != 2 {
		t.Errorf("live fetches = %d, want 2", funding.fetches.Load())
	}
	// |0.05 - 0.01| = 0.04 >= 0.02: still valid.
	if updated != 0 {
		t.Errorf("updated = %d, want 0", updated)
	}
}

// TestCarriedRatesSkipLiveFetch verifies no network work happens when the
// opportunity already has both rates.
func TestCarriedRatesSkipLiveFetch(t *testing.T) {
	store := newMockStore(ArbitrageOpportunity{
		ID:             "opp-1",
		Pair:           "BTCUSDT",
		LongExchange:   "binance",
		ShortExchange:  "bybit",
		RateDifference: 0.005,
		LongRate:       floatPtr(0.01),
		ShortRate:      floatPtr(0.015),
		IsValid:        true,
	})
	funding := &mockFunding{}
	engine := newTestEngine(t, store, funding, &capturePublisher{})

	updated, err := engine.RefreshAll(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if funding.fetches.Load() != 0 {
		t.Errorf("live fetches = %d, want 0", funding.fetches.Load())
	}
	// |0.015 - 0.01| = 0.005 < 0.02: funding differential closed.
	if updated != 1 {
		t.Errorf("updated = %d, want 1", updated)
	}
}

// TestExpiryShortCircuitsFetches verifies an expired opportunity never
// reaches the network-bound funding check.
func TestExpiryShortCircuitsFetches(t *testing.T) {
	past := time.Now().Add(-time.Hour).UnixMilli()
	store := newMockStore(ArbitrageOpportunity{
		ID:             "opp-1",
		Pair:           "BTCUSDT",
		LongExchange:   "binance",
		ShortExchange:  "bybit",
		RateDifference: 0.005,
		ExpiresAt:      &past,
		IsValid:        true,
	})
	funding := &mockFunding{}
	pub := &capturePublisher{}
	engine := newTestEngine(t, store, funding, pub)

	updated, err := engine.RefreshAll(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if updated != 1 {
		t.Fatalf("updated = %d, want 1", updated)
	}
	if funding.fetches.Load() != 0 {
		t.Errorf("live fetches = %d, want 0", funding.fetches.Load())
	}
	if len(pub.events) != 1 || pub.events[0].Reason != ReasonExpired {
		t.Errorf("events = %+v, want one expired event", pub.events)
	}
}

// TestMarkInvalidIsIdempotent verifies double invalidation does not error.
func TestMarkInvalidIsIdempotent(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, &mockFunding{}, &capturePublisher{})

	op := ArbitrageOpportunity{ID: "opp-1", Pair: "BTCUSDT"}
	for i := 0; i < 2; i++ {
		if err := engine.MarkInvalid(context.Background(), op, ReasonExpired); err != nil {
			t.Fatalf("mark invalid %d: %v", i, err)
		}
	}
	if store.markCount("opp-1") != 2 {
		t.Errorf("mark count = %d, want 2", store.markCount("opp-1"))
	}
}

// TestRefreshAllContinuesPastFailures verifies one failing evaluation does
// not abort the batch.
func TestRefreshAllContinuesPastFailures(t *testing.T) {
	store := newMockStore(
		ArbitrageOpportunity{
			ID:             "needs-fetch",
			Pair:           "BTCUSDT",
			LongExchange:   "binance",
			ShortExchange:  "bybit",
			RateDifference: 0.005,
			IsValid:        true,
		},
		ArbitrageOpportunity{
			ID:             "self-contained",
			Pair:           "ETHUSDT",
			LongExchange:   "binance",
			ShortExchange:  "bybit",
			RateDifference: 0.0001,
			LongRate:       floatPtr(0.01),
			ShortRate:      floatPtr(0.05),
			IsValid:        true,
		},
	)
	funding := &mockFunding{err: errors.New("exchange down")}
	engine := newTestEngine(t, store, funding, &capturePublisher{})

	updated, err := engine.RefreshAll(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	// "needs-fetch" fails evaluation (fetch error, skipped);
	// "self-contained" fails the profit check and gets marked.
	if updated != 1 {
		t.Fatalf("updated = %d, want 1", updated)
	}
	if store.markCount("needs-fetch") != 0 {
		t.Errorf("needs-fetch marked despite evaluation failure")
	}
	if store.markCount("self-contained") != 1 {
		t.Errorf("self-contained mark count = %d, want 1", store.markCount("self-contained"))
	}
}

// TestConfigValidationFailsFast verifies bad thresholds are rejected at
// construction.
func TestConfigValidationFailsFast(t *testing.T) {
	tests := []struct {
		name string
		cfg  ValidityConfig
	}{
		{"zero profit", ValidityConfig{MinProfitPercent: 0, MinFundingRateDiff: 0.02}},
		{"negative funding diff", ValidityConfig{MinProfitPercent: 0.1, MinFundingRateDiff: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewValidityEngine(newMockStore(), &mockFunding{}, nil, tt.cfg, observability.NewNopLogger(), nil)
			if !apperror.IsCode(err, apperror.CodeValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}
