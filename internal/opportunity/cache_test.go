package opportunity

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/irfndi/arb-edge/internal/platform/cache"
	"github.com/irfndi/arb-edge/internal/platform/observability"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	backend := cache.NewMemoryBackend()
	store := cache.NewTieredStore(backend, cache.StoreConfig{}, observability.NewNopLogger(), nil)
	t.Cleanup(func() { _ = store.Close() })
	return NewCache(store, observability.NewNopLogger())
}

// Key literals are shared with external readers of the same keyspace, so
// pin them exactly.
func TestKeyLiterals(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{ArbitrageOpportunityKey("opp-1"), "arb_opp:opp-1"},
		{TechnicalOpportunityKey("opp-2"), "tech_opp:opp-2"},
		{UserArbitrageKey("123"), "user_opp:user:123:arbitrage"},
		{UserTechnicalKey("123"), "user_opp:user:123:technical"},
		{GroupArbitrageKey("g9"), "group_opp:group:g9:arbitrage"},
		{GlobalOpportunitiesKey(), "global_opp:current"},
		{MarketDataKey("binance", "BTCUSDT"), "market_data:binance:BTCUSDT"},
		{FundingRatesKey("bybit", "ETHUSDT"), "funding_rates:bybit:ETHUSDT"},
		{DistStatsKey("daily_count"), "dist_stats:daily_count"},
		{UserAccessKey("123"), "user_access:123"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestUserArbitrageRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	ops := []ArbitrageOpportunity{
		{ID: "opp-1", Pair: "BTCUSDT", LongExchange: "binance", ShortExchange: "bybit", RateDifference: 0.005, IsValid: true},
		{ID: "opp-2", Pair: "ETHUSDT", LongExchange: "bybit", ShortExchange: "okx", RateDifference: 0.003, IsValid: true},
	}
	if err := c.CacheUserArbitrage(ctx, "123", ops, 0); err != nil {
		t.Fatalf("cache: %v", err)
	}

	got, err := c.GetUserArbitrage(ctx, "123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 || got[0].ID != "opp-1" || got[1].Pair != "ETHUSDT" {
		t.Errorf("round trip = %+v", got)
	}
}

func TestMissIsNotFound(t *testing.T) {
	c := newTestCache(t)
	if _, err := c.GetUserArbitrage(context.Background(), "nobody"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMarketDataRawRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	raw := json.RawMessage(`{"bid":"67000.1","ask":"67000.5"}`)
	if err := c.CacheMarketData(ctx, "binance", "BTCUSDT", raw, 0); err != nil {
		t.Fatalf("cache: %v", err)
	}
	got, err := c.GetMarketData(ctx, "binance", "BTCUSDT")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(raw) {
		t.Errorf("raw payload = %s, want %s", got, raw)
	}
}

func TestDistributionStatRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.CacheDistributionStat(ctx, "avg_confidence", 0.87, 0); err != nil {
		t.Fatalf("cache: %v", err)
	}
	got, err := c.GetDistributionStat(ctx, "avg_confidence")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != 0.87 {
		t.Errorf("stat = %v, want 0.87", got)
	}
}

func TestUserAccessRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	access := UserAccess{UserID: "123", OpportunitiesUsed: 4, DailyLimit: 10, LastAccessedAt: 1700000000000}
	if err := c.CacheUserAccess(ctx, access, 0); err != nil {
		t.Fatalf("cache: %v", err)
	}
	got, err := c.GetUserAccess(ctx, "123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != access {
		t.Errorf("access = %+v, want %+v", got, access)
	}
}

func TestInvalidateUserDropsAllUserKeys(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.CacheUserArbitrage(ctx, "123", []ArbitrageOpportunity{{ID: "a"}}, 0); err != nil {
		t.Fatalf("cache arbitrage: %v", err)
	}
	if err := c.CacheUserTechnical(ctx, "123", []TechnicalOpportunity{{ID: "t"}}, 0); err != nil {
		t.Fatalf("cache technical: %v", err)
	}
	if err := c.CacheUserAccess(ctx, UserAccess{UserID: "123"}, 0); err != nil {
		t.Fatalf("cache access: %v", err)
	}
	// Another user survives the invalidation.
	if err := c.CacheUserArbitrage(ctx, "456", []ArbitrageOpportunity{{ID: "b"}}, 0); err != nil {
		t.Fatalf("cache other user: %v", err)
	}

	if err := c.InvalidateUser(ctx, "123"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	if _, err := c.GetUserArbitrage(ctx, "123"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("arbitrage list still readable after invalidation (err=%v)", err)
	}
	if _, err := c.GetUserTechnical(ctx, "123"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("technical list still readable after invalidation (err=%v)", err)
	}
	if _, err := c.GetUserAccess(ctx, "123"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("access record still readable after invalidation (err=%v)", err)
	}
	if _, err := c.GetUserArbitrage(ctx, "456"); err != nil {
		t.Errorf("other user's entry lost: %v", err)
	}
}

func TestKeysMatchingScopesByPrefix(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.CacheUserArbitrage(ctx, "1", nil, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.CacheUserArbitrage(ctx, "2", nil, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.CacheGroupArbitrage(ctx, "g1", nil, 0); err != nil {
		t.Fatal(err)
	}

	keys, err := c.KeysMatching(ctx, PrefixUser+":*")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	sort.Strings(keys)
	want := []string{UserArbitrageKey("1"), UserArbitrageKey("2")}
	if len(keys) != 2 || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("keys = %v, want %v", keys, want)
	}
}
