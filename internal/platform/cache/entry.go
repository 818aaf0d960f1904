// Package cache implements a tier-aware, TTL-enforcing key/value cache over
// a pluggable storage backend. Entries are assigned to Hot/Warm/Cold tiers
// with per-tier default TTLs; frequently accessed entries are promoted to
// faster tiers based on access patterns.
package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tier is a cache priority band with its own default TTL.
type Tier int

const (
	// TierHot holds real-time data (5 minute default TTL).
	TierHot Tier = iota
	// TierWarm holds recent data (1 hour default TTL).
	TierWarm
	// TierCold holds historical data (24 hour default TTL).
	TierCold
)

// Tiers lists all tiers in lookup order (hottest first).
var Tiers = [3]Tier{TierHot, TierWarm, TierCold}

// DefaultTTL returns the default time-to-live for entries in this tier.
func (t Tier) DefaultTTL() time.Duration {
	switch t {
	case TierHot:
		return 5 * time.Minute
	case TierWarm:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Priority returns the tier priority (higher = more important).
func (t Tier) Priority() int {
	switch t {
	case TierHot:
		return 3
	case TierWarm:
		return 2
	default:
		return 1
	}
}

// String returns the tier name used in backend key construction.
func (t Tier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierWarm:
		return "warm"
	default:
		return "cold"
	}
}

// Above returns the next-higher tier, or the same tier if already hottest.
func (t Tier) Above() Tier {
	if t == TierHot {
		return TierHot
	}
	return t - 1
}

// Below returns the next-lower tier, or the same tier if already coldest.
func (t Tier) Below() Tier {
	if t == TierCold {
		return TierCold
	}
	return t + 1
}

// ShouldAccept reports whether an entry with the given access history
// qualifies for this tier.
func (t Tier) ShouldAccept(accessCount uint64, lastAccessAge time.Duration) bool {
	switch t {
	case TierHot:
		return accessCount >= 5 && lastAccessAge < 5*time.Minute
	case TierWarm:
		return accessCount >= 2 && lastAccessAge < time.Hour
	default:
		return true
	}
}

// MarshalJSON encodes the tier as its string name.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a tier from its string name.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTier(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier converts a tier name to a Tier.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "hot":
		return TierHot, nil
	case "warm":
		return TierWarm, nil
	case "cold":
		return TierCold, nil
	default:
		return TierCold, fmt.Errorf("unknown cache tier %q", s)
	}
}

// DataType tags the logical category of a cached payload. It is used for
// metrics breakdown and tier assignment defaults.
type DataType int

const (
	// DataTypeGeneric is the fallback category.
	DataTypeGeneric DataType = iota
	// DataTypeMarketData covers tickers and live market snapshots.
	DataTypeMarketData
	// DataTypeUserData covers user-scoped views and access records.
	DataTypeUserData
	// DataTypeConfig covers configuration payloads.
	DataTypeConfig
	// DataTypeOpportunity covers arbitrage/technical opportunity snapshots.
	DataTypeOpportunity
	// DataTypeFundingRate covers funding-rate records.
	DataTypeFundingRate
)

// String returns the data type tag.
func (d DataType) String() string {
	switch d {
	case DataTypeMarketData:
		return "market_data"
	case DataTypeUserData:
		return "user_data"
	case DataTypeConfig:
		return "config"
	case DataTypeOpportunity:
		return "opportunity"
	case DataTypeFundingRate:
		return "funding_rate"
	default:
		return "generic"
	}
}

// DefaultTier returns the tier new entries of this data type land in when
// no access history suggests otherwise.
func (d DataType) DefaultTier() Tier {
	switch d {
	case DataTypeMarketData, DataTypeFundingRate:
		return TierHot
	case DataTypeUserData, DataTypeOpportunity:
		return TierWarm
	case DataTypeConfig:
		return TierCold
	default:
		return TierWarm
	}
}

// MarshalJSON encodes the data type as its string tag.
func (d DataType) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a data type from its string tag.
func (d *DataType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "market_data":
		*d = DataTypeMarketData
	case "user_data":
		*d = DataTypeUserData
	case "config":
		*d = DataTypeConfig
	case "opportunity":
		*d = DataTypeOpportunity
	case "funding_rate":
		*d = DataTypeFundingRate
	default:
		*d = DataTypeGeneric
	}
	return nil
}

// Entry is one cached value with its tier placement and access metadata.
// Timestamps are epoch milliseconds to match the persisted wire format.
type Entry struct {
	Key           string   `json:"key"`
	Value         string   `json:"value"`
	Tier          Tier     `json:"tier"`
	DataType      DataType `json:"data_type"`
	CreatedAt     int64    `json:"created_at"`
	ExpiresAt     int64    `json:"expires_at"`
	LastAccessed  int64    `json:"last_accessed"`
	AccessCount   uint64   `json:"access_count"`
	SizeBytes     int64    `json:"size_bytes"`
	Compressed    bool     `json:"compressed"`
	TTLSeconds    int64    `json:"ttl_seconds"`
	TTLOverridden bool     `json:"ttl_overridden"`
}

// IsExpired reports whether the entry has passed its expiry time.
func (e *Entry) IsExpired() bool {
	return nowMillis() > e.ExpiresAt
}

// RecordAccess updates the access bookkeeping for a successful read.
func (e *Entry) RecordAccess() {
	e.LastAccessed = nowMillis()
	e.AccessCount++
}

// AgeMS returns the age of this entry in milliseconds.
func (e *Entry) AgeMS() int64 {
	age := nowMillis() - e.CreatedAt
	if age < 0 {
		return 0
	}
	return age
}

// LastAccessAge returns the time since the entry was last read.
func (e *Entry) LastAccessAge() time.Duration {
	age := nowMillis() - e.LastAccessed
	if age < 0 {
		age = 0
	}
	return time.Duration(age) * time.Millisecond
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
