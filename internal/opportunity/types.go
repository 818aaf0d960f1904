// Package opportunity holds the arbitrage/technical opportunity domain:
// the entity types, the domain cache facade and the validity engine.
package opportunity

import (
	"time"
)

// ArbitrageOpportunity is a funding-rate arbitrage candidate between a long
// and a short exchange for one trading pair. The relational store owns the
// authoritative copy; cached snapshots are serialized views of it.
type ArbitrageOpportunity struct {
	ID            string `json:"id"`
	Pair          string `json:"pair"`
	LongExchange  string `json:"long_exchange"`
	ShortExchange string `json:"short_exchange"`

	// LongRate/ShortRate are the funding rates backing RateDifference.
	// They are nil when the generator did not capture rates at detection
	// time; the validity engine then fetches fresh ones.
	LongRate  *float64 `json:"long_rate,omitempty"`
	ShortRate *float64 `json:"short_rate,omitempty"`

	RateDifference       float64  `json:"rate_difference"`
	NetRateDifference    *float64 `json:"net_rate_difference,omitempty"`
	PotentialProfitValue *float64 `json:"potential_profit_value,omitempty"`
	Confidence           float64  `json:"confidence"`

	CreatedAt int64  `json:"created_at"`
	ExpiresAt *int64 `json:"expires_at,omitempty"`
	IsValid   bool   `json:"is_valid"`
	Details   string `json:"details,omitempty"`
}

// IsExpired reports whether the opportunity has passed its expiry time.
// Opportunities without an expiry never expire.
func (o *ArbitrageOpportunity) IsExpired(now time.Time) bool {
	return o.ExpiresAt != nil && now.UnixMilli() > *o.ExpiresAt
}

// TechnicalOpportunity is a single-exchange trade signal derived from
// technical analysis.
type TechnicalOpportunity struct {
	ID         string `json:"id"`
	Pair       string `json:"pair"`
	Exchange   string `json:"exchange"`
	SignalType string `json:"signal_type"`

	Confidence     float64 `json:"confidence"`
	EntryPrice     float64 `json:"entry_price"`
	TargetPrice    float64 `json:"target_price"`
	StopLoss       float64 `json:"stop_loss"`
	ExpectedReturn float64 `json:"expected_return_percentage"`
	Timeframe      string  `json:"timeframe,omitempty"`

	CreatedAt int64  `json:"created_at"`
	ExpiresAt *int64 `json:"expires_at,omitempty"`
	IsValid   bool   `json:"is_valid"`
}

// IsExpired reports whether the signal has passed its expiry time.
func (o *TechnicalOpportunity) IsExpired(now time.Time) bool {
	return o.ExpiresAt != nil && now.UnixMilli() > *o.ExpiresAt
}
