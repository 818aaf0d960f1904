package opportunity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/irfndi/arb-edge/internal/apperror"
	"github.com/irfndi/arb-edge/internal/platform/cache"
	"github.com/irfndi/arb-edge/internal/platform/observability"
)

// Cache key namespace prefixes. These literals are shared with other
// services reading the same keyspace and with any persisted cache state, so
// they must never change.
const (
	PrefixArbitrage    = "arb_opp"
	PrefixTechnical    = "tech_opp"
	PrefixGlobal       = "global_opp"
	PrefixUser         = "user_opp"
	PrefixGroup        = "group_opp"
	PrefixMarketData   = "market_data"
	PrefixFundingRates = "funding_rates"
	PrefixDistStats    = "dist_stats"
	PrefixUserAccess   = "user_access"
)

// Domain TTLs. Market data moves fast, distribution stats barely move.
const (
	DefaultCacheTTL = 300 * time.Second
	LongCacheTTL    = 3600 * time.Second
	ShortCacheTTL   = 60 * time.Second
)

// Cache is the domain facade over the tiered store for opportunity-shaped
// data. It owns key construction so every caller agrees on the keyspace.
type Cache struct {
	store  *cache.TieredStore
	logger *observability.Logger
}

// NewCache creates the opportunity cache facade.
func NewCache(store *cache.TieredStore, logger *observability.Logger) *Cache {
	return &Cache{store: store, logger: logger}
}

// ArbitrageOpportunityKey builds the cache key for one arbitrage
// opportunity.
func ArbitrageOpportunityKey(id string) string {
	return fmt.Sprintf("%s:%s", PrefixArbitrage, id)
}

// TechnicalOpportunityKey builds the cache key for one technical
// opportunity.
func TechnicalOpportunityKey(id string) string {
	return fmt.Sprintf("%s:%s", PrefixTechnical, id)
}

// UserArbitrageKey builds the cache key for a user's arbitrage list.
func UserArbitrageKey(userID string) string {
	return fmt.Sprintf("%s:user:%s:arbitrage", PrefixUser, userID)
}

// UserTechnicalKey builds the cache key for a user's technical list.
func UserTechnicalKey(userID string) string {
	return fmt.Sprintf("%s:user:%s:technical", PrefixUser, userID)
}

// GroupArbitrageKey builds the cache key for a group's arbitrage list.
func GroupArbitrageKey(groupID string) string {
	return fmt.Sprintf("%s:group:%s:arbitrage", PrefixGroup, groupID)
}

// GlobalOpportunitiesKey builds the cache key for the global snapshot.
func GlobalOpportunitiesKey() string {
	return PrefixGlobal + ":current"
}

// MarketDataKey builds the cache key for an exchange/symbol market snapshot.
func MarketDataKey(exchange, symbol string) string {
	return fmt.Sprintf("%s:%s:%s", PrefixMarketData, exchange, symbol)
}

// FundingRatesKey builds the cache key for an exchange/symbol funding list.
func FundingRatesKey(exchange, symbol string) string {
	return fmt.Sprintf("%s:%s:%s", PrefixFundingRates, exchange, symbol)
}

// DistStatsKey builds the cache key for a distribution statistic.
func DistStatsKey(metric string) string {
	return fmt.Sprintf("%s:%s", PrefixDistStats, metric)
}

// UserAccessKey builds the cache key for a user's access record.
func UserAccessKey(userID string) string {
	return fmt.Sprintf("%s:%s", PrefixUserAccess, userID)
}

// CacheArbitrageOpportunity stores one arbitrage opportunity under its id.
func (c *Cache) CacheArbitrageOpportunity(ctx context.Context, op ArbitrageOpportunity, ttl time.Duration) error {
	return c.putJSON(ctx, ArbitrageOpportunityKey(op.ID), op, cache.DataTypeOpportunity, ttl)
}

// GetArbitrageOpportunity returns one cached arbitrage opportunity.
func (c *Cache) GetArbitrageOpportunity(ctx context.Context, id string) (ArbitrageOpportunity, error) {
	var op ArbitrageOpportunity
	if err := c.getJSON(ctx, ArbitrageOpportunityKey(id), &op); err != nil {
		return ArbitrageOpportunity{}, err
	}
	return op, nil
}

// CacheTechnicalOpportunity stores one technical opportunity under its id.
func (c *Cache) CacheTechnicalOpportunity(ctx context.Context, op TechnicalOpportunity, ttl time.Duration) error {
	return c.putJSON(ctx, TechnicalOpportunityKey(op.ID), op, cache.DataTypeOpportunity, ttl)
}

// GetTechnicalOpportunity returns one cached technical opportunity.
func (c *Cache) GetTechnicalOpportunity(ctx context.Context, id string) (TechnicalOpportunity, error) {
	var op TechnicalOpportunity
	if err := c.getJSON(ctx, TechnicalOpportunityKey(id), &op); err != nil {
		return TechnicalOpportunity{}, err
	}
	return op, nil
}

// CacheUserArbitrage stores a user's arbitrage opportunity list. A zero ttl
// uses the default domain TTL.
func (c *Cache) CacheUserArbitrage(ctx context.Context, userID string, ops []ArbitrageOpportunity, ttl time.Duration) error {
	return c.putJSON(ctx, UserArbitrageKey(userID), ops, cache.DataTypeOpportunity, ttl)
}

// GetUserArbitrage returns a user's cached arbitrage opportunities.
// A cache miss returns cache.ErrNotFound.
func (c *Cache) GetUserArbitrage(ctx context.Context, userID string) ([]ArbitrageOpportunity, error) {
	var ops []ArbitrageOpportunity
	if err := c.getJSON(ctx, UserArbitrageKey(userID), &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// CacheUserTechnical stores a user's technical opportunity list.
func (c *Cache) CacheUserTechnical(ctx context.Context, userID string, ops []TechnicalOpportunity, ttl time.Duration) error {
	return c.putJSON(ctx, UserTechnicalKey(userID), ops, cache.DataTypeOpportunity, ttl)
}

// GetUserTechnical returns a user's cached technical opportunities.
func (c *Cache) GetUserTechnical(ctx context.Context, userID string) ([]TechnicalOpportunity, error) {
	var ops []TechnicalOpportunity
	if err := c.getJSON(ctx, UserTechnicalKey(userID), &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// CacheGroupArbitrage stores a group's arbitrage opportunity list.
func (c *Cache) CacheGroupArbitrage(ctx context.Context, groupID string, ops []ArbitrageOpportunity, ttl time.Duration) error {
	return c.putJSON(ctx, GroupArbitrageKey(groupID), ops, cache.DataTypeOpportunity, ttl)
}

// GetGroupArbitrage returns a group's cached arbitrage opportunities.
func (c *Cache) GetGroupArbitrage(ctx context.Context, groupID string) ([]ArbitrageOpportunity, error) {
	var ops []ArbitrageOpportunity
	if err := c.getJSON(ctx, GroupArbitrageKey(groupID), &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// CacheGlobalOpportunities stores the current global opportunity snapshot.
func (c *Cache) CacheGlobalOpportunities(ctx context.Context, ops []ArbitrageOpportunity, ttl time.Duration) error {
	return c.putJSON(ctx, GlobalOpportunitiesKey(), ops, cache.DataTypeOpportunity, ttl)
}

// GetGlobalOpportunities returns the cached global opportunity snapshot.
func (c *Cache) GetGlobalOpportunities(ctx context.Context) ([]ArbitrageOpportunity, error) {
	var ops []ArbitrageOpportunity
	if err := c.getJSON(ctx, GlobalOpportunitiesKey(), &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// CacheMarketData stores a raw market snapshot with the short TTL unless
// overridden.
func (c *Cache) CacheMarketData(ctx context.Context, exchange, symbol string, data json.RawMessage, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ShortCacheTTL
	}
	return c.putJSON(ctx, MarketDataKey(exchange, symbol), data, cache.DataTypeMarketData, ttl)
}

// GetMarketData returns a cached market snapshot.
func (c *Cache) GetMarketData(ctx context.Context, exchange, symbol string) (json.RawMessage, error) {
	var data json.RawMessage
	if err := c.getJSON(ctx, MarketDataKey(exchange, symbol), &data); err != nil {
		return nil, err
	}
	return data, nil
}

// CacheDistributionStat stores one distribution statistic with the long TTL
// unless overridden.
func (c *Cache) CacheDistributionStat(ctx context.Context, metric string, value float64, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = LongCacheTTL
	}
	return c.putJSON(ctx, DistStatsKey(metric), value, cache.DataTypeUserData, ttl)
}

// GetDistributionStat returns one cached distribution statistic.
func (c *Cache) GetDistributionStat(ctx context.Context, metric string) (float64, error) {
	var value float64
	if err := c.getJSON(ctx, DistStatsKey(metric), &value); err != nil {
		return 0, err
	}
	return value, nil
}

// UserAccess records how many opportunities a user has consumed today.
type UserAccess struct {
	UserID            string `json:"user_id"`
	OpportunitiesUsed int    `json:"opportunities_used"`
	DailyLimit        int    `json:"daily_limit"`
	LastAccessedAt    int64  `json:"last_accessed_at"`
}

// CacheUserAccess stores a user's access record.
func (c *Cache) CacheUserAccess(ctx context.Context, access UserAccess, ttl time.Duration) error {
	return c.putJSON(ctx, UserAccessKey(access.UserID), access, cache.DataTypeUserData, ttl)
}

// GetUserAccess returns a user's cached access record.
func (c *Cache) GetUserAccess(ctx context.Context, userID string) (UserAccess, error) {
	var access UserAccess
	if err := c.getJSON(ctx, UserAccessKey(userID), &access); err != nil {
		return UserAccess{}, err
	}
	return access, nil
}

// InvalidateUser drops every cache entry scoped to one user.
func (c *Cache) InvalidateUser(ctx context.Context, userID string) error {
	keys := []string{
		UserArbitrageKey(userID),
		UserTechnicalKey(userID),
		UserAccessKey(userID),
	}
	for _, key := range keys {
		if err := c.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateGroup drops every cache entry scoped to one group.
func (c *Cache) InvalidateGroup(ctx context.Context, groupID string) error {
	return c.store.Delete(ctx, GroupArbitrageKey(groupID))
}

// KeysMatching returns live cache keys matching a glob pattern.
func (c *Cache) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	return c.store.Keys(ctx, pattern)
}

// Statistics returns the underlying store's counters.
func (c *Cache) Statistics() cache.Snapshot {
	return c.store.Statistics()
}

func (c *Cache) putJSON(ctx context.Context, key string, v any, dataType cache.DataType, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return apperror.Serialization("encode cached payload", err)
	}
	return c.store.PutTyped(ctx, key, string(payload), dataType, dataType.DefaultTier(), ttl)
}

func (c *Cache) getJSON(ctx context.Context, key string, out any) error {
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(entry.Value), out); err != nil {
		return apperror.Serialization("decode cached payload", err)
	}
	return nil
}
