package cache

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/irfndi/arb-edge/internal/apperror"
	"github.com/irfndi/arb-edge/internal/platform/observability"
)

// StoreConfig configures a TieredStore.
type StoreConfig struct {
	// TierCapacity is the maximum item count per tier. Zero means unlimited.
	TierCapacity int
	// Compression enables transparent gzip compression of large values.
	Compression bool
}

// TieredStore is a tier-aware, TTL-enforcing cache over a Backend.
//
// Entries live under tier-prefixed backend keys ("hot:<key>" etc.) and are
// found by searching tiers hottest-first. Reads update access bookkeeping
// and may promote hot entries to a faster tier; capacity overflow evicts
// the oldest-inserted entry of the tier. Eviction is deliberately FIFO on
// insertion order, not LRU; promotion is the frequency-based mechanism.
//
// Item counts and insertion order are tracked in-process, so a store
// instance assumes it is the only writer for its backend keyspace.
type TieredStore struct {
	backend Backend
	cfg     StoreConfig
	logger  *observability.Logger
	metrics *observability.Metrics
	stats   Statistics

	mu    sync.Mutex
	order [len(Tiers)][]string
	index [len(Tiers)]map[string]struct{}
}

// NewTieredStore creates a store over the given backend. Metrics may be nil.
func NewTieredStore(backend Backend, cfg StoreConfig, logger *observability.Logger, metrics *observability.Metrics) *TieredStore {
	s := &TieredStore{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
	for i := range s.index {
		s.index[i] = make(map[string]struct{})
	}
	return s
}

func tierKey(tier Tier, key string) string {
	return tier.String() + ":" + key
}

// Get returns the entry for key, searching tiers hottest-first. A miss or
// an expired entry returns ErrNotFound; expired entries are purged
// best-effort and the purge never fails the read. On a hit, access
// bookkeeping is persisted best-effort and the entry may be promoted to
// the next tier when its access pattern qualifies.
func (s *TieredStore) Get(ctx context.Context, key string) (*Entry, error) {
	start := time.Now()

	for _, tier := range Tiers {
		raw, err := s.backend.Get(ctx, tierKey(tier, key))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			s.stats.RecordOperation(OpGet, false, time.Since(start))
			return nil, apperror.Storage("cache get failed", err)
		}

		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.stats.RecordOperation(OpGet, false, time.Since(start))
			return nil, apperror.Serialization("decode cache entry", err)
		}

		if entry.IsExpired() {
			s.purgeExpired(ctx, tier, key)
			continue
		}

		entry.RecordAccess()
		s.persistBookkeeping(ctx, tier, &entry)

		if tier != TierHot && tier.Above().ShouldAccept(entry.AccessCount, entry.LastAccessAge()) {
			s.tryPromote(ctx, tier, &entry)
		}

		if entry.Compressed {
			plain, err := decompressValue(entry.Value)
			if err != nil {
				s.stats.RecordOperation(OpGet, false, time.Since(start))
				return nil, apperror.Serialization("decompress cache entry", err)
			}
			entry.Value = plain
			entry.Compressed = false
		}

		s.stats.RecordHit()
		s.stats.RecordOperation(OpGet, true, time.Since(start))
		s.metrics.RecordCacheHit(ctx, entry.Tier.String(), entry.DataType.String())
		s.metrics.RecordCacheOp(ctx, string(OpGet), true, time.Since(start))
		return &entry, nil
	}

	s.stats.RecordMiss()
	s.stats.RecordOperation(OpGet, true, time.Since(start))
	s.metrics.RecordCacheMiss(ctx, DataTypeGeneric.String())
	return nil, ErrNotFound
}

// GetValue returns just the stored value for key.
func (s *TieredStore) GetValue(ctx context.Context, key string) (string, error) {
	entry, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return entry.Value, nil
}

// Put stores value in the given tier with the tier's default TTL.
func (s *TieredStore) Put(ctx context.Context, key, value string, tier Tier) error {
	return s.PutTyped(ctx, key, value, DataTypeGeneric, tier, 0)
}

// PutWithTTL stores value in the given tier with an explicit TTL override.
func (s *TieredStore) PutWithTTL(ctx context.Context, key, value string, tier Tier, ttl time.Duration) error {
	return s.PutTyped(ctx, key, value, DataTypeGeneric, tier, ttl)
}

// PutData stores value tagged with a data type, in that type's default tier.
func (s *TieredStore) PutData(ctx context.Context, key, value string, dataType DataType, ttl time.Duration) error {
	return s.PutTyped(ctx, key, value, dataType, dataType.DefaultTier(), ttl)
}

// PutTyped is the full put form. A zero ttl uses the tier default.
// Overwriting an existing key resets its creation time and access count.
func (s *TieredStore) PutTyped(ctx context.Context, key, value string, dataType DataType, tier Tier, ttl time.Duration) error {
	start := time.Now()

	overridden := ttl > 0
	if !overridden {
		ttl = tier.DefaultTTL()
	}

	sizeBytes := int64(len(value))
	compressed := false
	if s.cfg.Compression && sizeBytes >= compressThreshold {
		packed, err := compressValue(value)
		if err != nil {
			s.stats.RecordOperation(OpPut, false, time.Since(start))
			return apperror.Serialization("compress cache entry", err)
		}
		value = packed
		compressed = true
	}

	now := nowMillis()
	entry := Entry{
		Key:           key,
		Value:         value,
		Tier:          tier,
		DataType:      dataType,
		CreatedAt:     now,
		ExpiresAt:     now + ttl.Milliseconds(),
		LastAccessed:  now,
		SizeBytes:     sizeBytes,
		Compressed:    compressed,
		TTLSeconds:    int64(ttl.Seconds()),
		TTLOverridden: overridden,
	}

	envelope, err := json.Marshal(&entry)
	if err != nil {
		s.stats.RecordOperation(OpPut, false, time.Since(start))
		return apperror.Serialization("encode cache entry", err)
	}

	s.evictForCapacity(ctx, tier, key)

	if err := s.backend.Put(ctx, tierKey(tier, key), string(envelope), ttl); err != nil {
		s.stats.RecordOperation(OpPut, false, time.Since(start))
		s.metrics.RecordCacheOp(ctx, string(OpPut), false, time.Since(start))
		return apperror.Storage("cache put failed", err)
	}

	s.trackInsert(tier, key)
	s.removeFromOtherTiers(ctx, tier, key)
	s.stats.RecordOperation(OpPut, true, time.Since(start))
	s.metrics.RecordCacheOp(ctx, string(OpPut), true, time.Since(start))
	return nil
}

// removeFromOtherTiers drops any copy of key living outside tier, keeping
// logical keys unique across the store. Without this an overwrite into a
// different tier would leave the stale prior copy to resurface once the
// newer one expires.
func (s *TieredStore) removeFromOtherTiers(ctx context.Context, tier Tier, key string) {
	for _, other := range Tiers {
		if other == tier {
			continue
		}
		if err := s.backend.Delete(ctx, tierKey(other, key)); err != nil {
			s.logger.LogWarn(ctx, "failed to remove stale copy from other tier",
				"key", key, "tier", other.String(), "error", err)
			continue
		}
		if s.untrack(other, key) {
			s.stats.ItemRemoved(other)
		}
	}
}

// Delete removes key from every tier. Deleting an absent key is not an error.
func (s *TieredStore) Delete(ctx context.Context, key string) error {
	start := time.Now()

	var errs []error
	for _, tier := range Tiers {
		if err := s.backend.Delete(ctx, tierKey(tier, key)); err != nil {
			errs = append(errs, err)
			continue
		}
		if s.untrack(tier, key) {
			s.stats.ItemRemoved(tier)
		}
	}
	if len(errs) > 0 {
		s.stats.RecordOperation(OpDelete, false, time.Since(start))
		return apperror.Storage("cache delete failed", errors.Join(errs...))
	}

	s.stats.RecordOperation(OpDelete, true, time.Since(start))
	s.metrics.RecordCacheOp(ctx, string(OpDelete), true, time.Since(start))
	return nil
}

// Keys returns all live keys matching a glob pattern such as "user:123:*".
// A "*" matches any run of characters. Expired entries never appear:
// backend TTLs track entry expiry, so listed keys are live.
func (s *TieredStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	start := time.Now()

	prefix := literalPrefix(pattern)
	seen := make(map[string]struct{})
	for _, tier := range Tiers {
		keys, err := s.backend.List(ctx, tier.String()+":"+prefix)
		if err != nil {
			s.stats.RecordOperation(OpKeys, false, time.Since(start))
			return nil, apperror.Storage("cache list failed", err)
		}
		for _, k := range keys {
			logical := strings.TrimPrefix(k, tier.String()+":")
			ok, err := path.Match(pattern, logical)
			if err != nil {
				return nil, apperror.Validation("bad key pattern: " + pattern)
			}
			if ok {
				seen[logical] = struct{}{}
			}
		}
	}

	matched := make([]string, 0, len(seen))
	for k := range seen {
		matched = append(matched, k)
	}
	sort.Strings(matched)

	s.stats.RecordOperation(OpKeys, true, time.Since(start))
	return matched, nil
}

// Promote moves an entry one tier up, recomputing its expiry under the new
// tier's default TTL unless the entry carried an explicit override.
// Already-hot entries are left in place.
func (s *TieredStore) Promote(ctx context.Context, key string) error {
	return s.shiftTier(ctx, key, true)
}

// Demote moves an entry one tier down. Already-cold entries are left in place.
func (s *TieredStore) Demote(ctx context.Context, key string) error {
	return s.shiftTier(ctx, key, false)
}

func (s *TieredStore) shiftTier(ctx context.Context, key string, up bool) error {
	op := OpDemote
	if up {
		op = OpPromote
	}
	start := time.Now()

	for _, tier := range Tiers {
		raw, err := s.backend.Get(ctx, tierKey(tier, key))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			s.stats.RecordOperation(op, false, time.Since(start))
			return apperror.Storage("cache read failed", err)
		}

		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.stats.RecordOperation(op, false, time.Since(start))
			return apperror.Serialization("decode cache entry", err)
		}
		if entry.IsExpired() {
			s.purgeExpired(ctx, tier, key)
			return ErrNotFound
		}

		target := tier.Above()
		if !up {
			target = tier.Below()
		}
		if target == tier {
			s.stats.RecordOperation(op, true, time.Since(start))
			return nil
		}

		if err := s.moveTier(ctx, &entry, tier, target); err != nil {
			s.stats.RecordOperation(op, false, time.Since(start))
			return err
		}

		if up {
			s.stats.RecordPromotion()
			s.metrics.RecordCachePromotion(ctx, tier.String(), target.String())
		} else {
			s.stats.RecordDemotion()
			s.metrics.RecordCacheDemotion(ctx, tier.String(), target.String())
		}
		s.stats.RecordOperation(op, true, time.Since(start))
		return nil
	}

	return ErrNotFound
}

// moveTier rewrites an entry under a new tier key and removes the old one.
func (s *TieredStore) moveTier(ctx context.Context, entry *Entry, from, to Tier) error {
	entry.Tier = to

	ttl := time.Duration(entry.TTLSeconds) * time.Second
	if !entry.TTLOverridden {
		ttl = to.DefaultTTL()
		entry.ExpiresAt = nowMillis() + ttl.Milliseconds()
		entry.TTLSeconds = int64(ttl.Seconds())
	} else {
		remaining := time.Duration(entry.ExpiresAt-nowMillis()) * time.Millisecond
		if remaining <= 0 {
			return ErrNotFound
		}
		ttl = remaining
	}

	envelope, err := json.Marshal(entry)
	if err != nil {
		return apperror.Serialization("encode cache entry", err)
	}

	s.evictForCapacity(ctx, to, entry.Key)
	if err := s.backend.Put(ctx, tierKey(to, entry.Key), string(envelope), ttl); err != nil {
		return apperror.Storage("cache tier move failed", err)
	}
	if err := s.backend.Delete(ctx, tierKey(from, entry.Key)); err != nil {
		s.logger.LogWarn(ctx, "failed to remove entry from previous tier",
			"key", entry.Key, "tier", from.String(), "error", err)
	}

	s.mu.Lock()
	s.untrackLocked(from, entry.Key)
	s.trackInsertLocked(to, entry.Key)
	s.mu.Unlock()
	s.stats.ItemMoved(from, to)
	return nil
}

// GetBatch fetches several keys. Per-key failures are logged and reported
// as a nil entry so one bad key never sinks the whole batch.
func (s *TieredStore) GetBatch(ctx context.Context, keys []string) (map[string]*Entry, error) {
	start := time.Now()

	out := make(map[string]*Entry, len(keys))
	for _, key := range keys {
		entry, err := s.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.logger.LogWarn(ctx, "batch get: key failed", "key", key, "error", err)
			}
			out[key] = nil
			continue
		}
		out[key] = entry
	}

	s.stats.RecordOperation(OpBatchGet, true, time.Since(start))
	return out, nil
}

// SetBatch stores several key/value pairs in one tier with a shared TTL.
// All writes are attempted; failures are joined into the returned error.
func (s *TieredStore) SetBatch(ctx context.Context, entries map[string]string, tier Tier, ttl time.Duration) error {
	start := time.Now()

	var errs []error
	for key, value := range entries {
		if err := s.PutTyped(ctx, key, value, DataTypeGeneric, tier, ttl); err != nil {
			errs = append(errs, err)
		}
	}

	s.stats.RecordOperation(OpBatchPut, len(errs) == 0, time.Since(start))
	return errors.Join(errs...)
}

// Clear removes every entry in every tier and resets statistics.
func (s *TieredStore) Clear(ctx context.Context) error {
	start := time.Now()

	var errs []error
	for _, tier := range Tiers {
		keys, err := s.backend.List(ctx, tier.String()+":")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, k := range keys {
			if err := s.backend.Delete(ctx, k); err != nil {
				errs = append(errs, err)
			}
		}
	}

	s.mu.Lock()
	for i := range Tiers {
		s.order[i] = nil
		s.index[i] = make(map[string]struct{})
	}
	s.mu.Unlock()
	s.stats.Reset()

	if len(errs) > 0 {
		s.stats.RecordOperation(OpClear, false, time.Since(start))
		return apperror.Storage("cache clear failed", errors.Join(errs...))
	}
	s.stats.RecordOperation(OpClear, true, time.Since(start))
	return nil
}

// Statistics returns a snapshot of the store's counters.
func (s *TieredStore) Statistics() Snapshot {
	return s.stats.Snapshot()
}

// Close releases the underlying backend.
func (s *TieredStore) Close() error {
	return s.backend.Close()
}

// purgeExpired issues a best-effort delete for an expired entry. Purge
// failures are logged and never surfaced to the reader.
func (s *TieredStore) purgeExpired(ctx context.Context, tier Tier, key string) {
	if err := s.backend.Delete(ctx, tierKey(tier, key)); err != nil {
		s.logger.LogWarn(ctx, "failed to purge expired cache entry",
			"key", key, "tier", tier.String(), "error", err)
	}
	if s.untrack(tier, key) {
		s.stats.ItemRemoved(tier)
	}
}

// persistBookkeeping writes updated access metadata back to the backend,
// keeping the remaining TTL intact. Failures are logged, never surfaced.
func (s *TieredStore) persistBookkeeping(ctx context.Context, tier Tier, entry *Entry) {
	remaining := time.Duration(entry.ExpiresAt-nowMillis()) * time.Millisecond
	if remaining <= 0 {
		return
	}
	envelope, err := json.Marshal(entry)
	if err != nil {
		s.logger.LogWarn(ctx, "failed to encode access bookkeeping", "key", entry.Key, "error", err)
		return
	}
	if err := s.backend.Put(ctx, tierKey(tier, entry.Key), string(envelope), remaining); err != nil {
		s.logger.LogWarn(ctx, "failed to persist access bookkeeping", "key", entry.Key, "error", err)
	}
}

// tryPromote moves a frequently read entry one tier up. Promotion is an
// optimization: failures are logged and the read still succeeds.
func (s *TieredStore) tryPromote(ctx context.Context, from Tier, entry *Entry) {
	to := from.Above()
	if err := s.moveTier(ctx, entry, from, to); err != nil {
		s.logger.LogWarn(ctx, "cache promotion failed",
			"key", entry.Key, "from", from.String(), "to", to.String(), "error", err)
		return
	}
	s.stats.RecordPromotion()
	s.metrics.RecordCachePromotion(ctx, from.String(), to.String())
}

// evictForCapacity makes room in a tier before inserting a new key. The
// oldest-inserted key goes first. Eviction delete failures are logged; the
// insert proceeds regardless so writes degrade before reads do.
func (s *TieredStore) evictForCapacity(ctx context.Context, tier Tier, incoming string) {
	if s.cfg.TierCapacity <= 0 {
		return
	}

	s.mu.Lock()
	if _, exists := s.index[tier][incoming]; exists || len(s.order[tier]) < s.cfg.TierCapacity {
		s.mu.Unlock()
		return
	}
	oldest := s.order[tier][0]
	s.untrackLocked(tier, oldest)
	s.mu.Unlock()

	if err := s.backend.Delete(ctx, tierKey(tier, oldest)); err != nil {
		s.logger.LogWarn(ctx, "failed to evict cache entry",
			"key", oldest, "tier", tier.String(), "error", err)
	}
	s.stats.ItemRemoved(tier)
	s.stats.RecordEviction()
	s.metrics.RecordCacheEviction(ctx, tier.String())
}

// trackInsert records a key's insertion position in a tier, updating the
// item counters when the key is new to the tier.
func (s *TieredStore) trackInsert(tier Tier, key string) {
	s.mu.Lock()
	added := s.trackInsertLocked(tier, key)
	s.mu.Unlock()
	if added {
		s.stats.ItemAdded(tier)
	}
}

func (s *TieredStore) trackInsertLocked(tier Tier, key string) bool {
	if _, exists := s.index[tier][key]; exists {
		return false
	}
	s.index[tier][key] = struct{}{}
	s.order[tier] = append(s.order[tier], key)
	return true
}

// untrack removes a key from a tier's insertion queue, reporting whether
// it was tracked.
func (s *TieredStore) untrack(tier Tier, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.untrackLocked(tier, key)
}

func (s *TieredStore) untrackLocked(tier Tier, key string) bool {
	if _, exists := s.index[tier][key]; !exists {
		return false
	}
	delete(s.index[tier], key)
	for i, k := range s.order[tier] {
		if k == key {
			s.order[tier] = append(s.order[tier][:i], s.order[tier][i+1:]...)
			break
		}
	}
	return true
}

// literalPrefix returns the glob-free leading portion of a pattern, used to
// narrow backend listing before matching.
func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, "*?["); i >= 0 {
		return pattern[:i]
	}
	return pattern
}
