package cache

import (
	"sync/atomic"
	"time"
)

// Operation names a public store operation for statistics and metrics.
type Operation string

const (
	OpGet      Operation = "get"
	OpPut      Operation = "put"
	OpDelete   Operation = "delete"
	OpPromote  Operation = "promote"
	OpDemote   Operation = "demote"
	OpBatchGet Operation = "batch_get"
	OpBatchPut Operation = "batch_put"
	OpKeys     Operation = "keys"
	OpClear    Operation = "clear"
)

// Statistics tracks aggregate cache counters. All counters are updated
// atomically so concurrent readers never need a lock.
type Statistics struct {
	hits       atomic.Uint64
	misses     atomic.Uint64
	totalItems atomic.Int64
	evictions  atomic.Uint64
	promotions atomic.Uint64
	demotions  atomic.Uint64
	operations atomic.Uint64
	failures   atomic.Uint64
	latencyUS  atomic.Int64

	tierItems [len(Tiers)]atomic.Int64
}

// Snapshot is a point-in-time copy of the statistics counters.
type Snapshot struct {
	Hits       uint64           `json:"hits"`
	Misses     uint64           `json:"misses"`
	HitRate    float64          `json:"hit_rate"`
	TotalItems int64            `json:"total_items"`
	Evictions  uint64           `json:"evictions"`
	Promotions uint64           `json:"promotions"`
	Demotions  uint64           `json:"demotions"`
	Operations uint64           `json:"operations"`
	Failures   uint64           `json:"failures"`
	AvgLatency float64          `json:"avg_latency_ms"`
	TierItems  map[string]int64 `json:"tier_items"`
}

// RecordHit counts a successful read.
func (s *Statistics) RecordHit() { s.hits.Add(1) }

// RecordMiss counts a read that found nothing.
func (s *Statistics) RecordMiss() { s.misses.Add(1) }

// RecordOperation counts one public store operation and its latency.
func (s *Statistics) RecordOperation(op Operation, success bool, latency time.Duration) {
	s.operations.Add(1)
	s.latencyUS.Add(latency.Microseconds())
	if !success {
		s.failures.Add(1)
	}
}

// ItemAdded adjusts item counts after a new key lands in a tier.
func (s *Statistics) ItemAdded(tier Tier) {
	s.totalItems.Add(1)
	s.tierItems[tier].Add(1)
}

// ItemRemoved adjusts item counts after a key leaves a tier.
func (s *Statistics) ItemRemoved(tier Tier) {
	s.totalItems.Add(-1)
	s.tierItems[tier].Add(-1)
}

// ItemMoved adjusts per-tier counts when an entry changes tier.
func (s *Statistics) ItemMoved(from, to Tier) {
	s.tierItems[from].Add(-1)
	s.tierItems[to].Add(1)
}

// RecordEviction counts a capacity-driven eviction.
func (s *Statistics) RecordEviction() { s.evictions.Add(1) }

// RecordPromotion counts a tier promotion.
func (s *Statistics) RecordPromotion() { s.promotions.Add(1) }

// RecordDemotion counts a tier demotion.
func (s *Statistics) RecordDemotion() { s.demotions.Add(1) }

// HitRate returns hits/(hits+misses), or 0 when no reads happened yet.
func (s *Statistics) HitRate() float64 {
	hits := s.hits.Load()
	misses := s.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// TotalItems returns the current stored item count.
func (s *Statistics) TotalItems() int64 { return s.totalItems.Load() }

// Snapshot returns a copy of all counters for reporting.
func (s *Statistics) Snapshot() Snapshot {
	tiers := make(map[string]int64, len(Tiers))
	for _, t := range Tiers {
		tiers[t.String()] = s.tierItems[t].Load()
	}
	var avgMS float64
	if ops := s.operations.Load(); ops > 0 {
		avgMS = float64(s.latencyUS.Load()) / float64(ops) / 1000.0
	}
	return Snapshot{
		Hits:       s.hits.Load(),
		Misses:     s.misses.Load(),
		HitRate:    s.HitRate(),
		TotalItems: s.totalItems.Load(),
		Evictions:  s.evictions.Load(),
		Promotions: s.promotions.Load(),
		Demotions:  s.demotions.Load(),
		Operations: s.operations.Load(),
		Failures:   s.failures.Load(),
		AvgLatency: avgMS,
		TierItems:  tiers,
	}
}

// Reset zeroes every counter. Used by Clear.
func (s *Statistics) Reset() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.totalItems.Store(0)
	s.evictions.Store(0)
	s.promotions.Store(0)
	s.demotions.Store(0)
	s.operations.Store(0)
	s.failures.Store(0)
	s.latencyUS.Store(0)
	for i := range s.tierItems {
		s.tierItems[i].Store(0)
	}
}
