package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/irfndi/arb-edge/internal/platform/observability"
)

// flakyBackend wraps a MemoryBackend and fails selected operations.
type flakyBackend struct {
	*MemoryBackend
	mu      sync.Mutex
	failGet map[string]error
}

func newFlakyBackend() *flakyBackend {
	return &flakyBackend{
		MemoryBackend: NewMemoryBackend(),
		failGet:       make(map[string]error),
	}
}

func (f *flakyBackend) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	err := f.failGet[key]
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return f.MemoryBackend.Get(ctx, key)
}

func newTestStore(t *testing.T, cfg StoreConfig) *TieredStore {
	t.Helper()
	backend := NewMemoryBackend()
	t.Cleanup(func() { _ = backend.Close() })
	return NewTieredStore(backend, cfg, observability.NewNopLogger(), nil)
}

// TestGetReturnsNotFoundAfterTTL verifies entries vanish once their TTL lapses.
func TestGetReturnsNotFoundAfterTTL(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreConfig{})

	if err := store.PutWithTTL(ctx, "k", "v", TierHot, 50*time.Millisecond); err != nil {
		t.Fatalf("put: %v", err)
	}

	entry, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("expected hit before expiry, got %v", err)
	}
	if entry.Value != "v" {
		t.Fatalf("expected value %q, got %q", "v", entry.Value)
	}

	time.Sleep(100 * time.Millisecond)

	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

// TestCapacityEvictionIsInsertionOrder verifies the first-inserted key is
// evicted when a tier overflows, even when it was the most recently read.
func TestCapacityEvictionIsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreConfig{TierCapacity: 2})

	for _, key := range []string{"a", "b"} {
		if err := store.Put(ctx, key, "v-"+key, TierHot); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	// Touch "a" so it is the most recently accessed; insertion order must
	// still decide eviction.
	if _, err := store.Get(ctx, "a"); err != nil {
		t.Fatalf("get a: %v", err)
	}

	if err := store.Put(ctx, "c", "v-c", TierHot); err != nil {
		t.Fatalf("put c: %v", err)
	}

	if _, err := store.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected first-inserted key evicted, got %v", err)
	}
	for _, key := range []string{"b", "c"} {
		if _, err := store.Get(ctx, key); err != nil {
			t.Fatalf("expected %s to survive eviction, got %v", key, err)
		}
	}
}

// TestStatisticsCounters verifies hit/miss/item accounting and the derived
// hit rate.
func TestStatisticsCounters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreConfig{})

	for _, key := range []string{"x", "y"} {
		if err := store.Put(ctx, key, "v", TierWarm); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	for _, key := range []string{"x", "y"} {
		if _, err := store.Get(ctx, key); err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
	}
	for _, key := range []string{"gone-1", "gone-2"} {
		if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
			t.Fatalf("get %s: expected miss, got %v", key, err)
		}
	}

	snap := store.Statistics()
	if snap.TotalItems != 2 {
		t.Errorf("total items = %d, want 2", snap.TotalItems)
	}
	if snap.Hits != 2 {
		t.Errorf("hits = %d, want 2", snap.Hits)
	}
	if snap.Misses != 2 {
		t.Errorf("misses = %d, want 2", snap.Misses)
	}
	if math.Abs(snap.HitRate-0.5) > 0.001 {
		t.Errorf("hit rate = %f, want 0.5", snap.HitRate)
	}
}

// TestClearResetsState verifies clear removes all keys and zeroes statistics.
func TestClearResetsState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreConfig{})

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("key-%d", i)
		if err := store.Put(ctx, key, "v", TierHot); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if got := store.Statistics().TotalItems; got != 0 {
		t.Errorf("total items after clear = %d, want 0", got)
	}
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("key-%d", i)
		if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
			t.Errorf("get %s after clear: expected ErrNotFound, got %v", key, err)
		}
	}
}

// TestKeysGlobMatching verifies wildcard key enumeration.
func TestKeysGlobMatching(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreConfig{})

	seed := []string{"user:123:profile", "user:123:settings", "user:456:profile"}
	for _, key := range seed {
		if err := store.Put(ctx, key, "v", TierWarm); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	tests := []struct {
		pattern string
		want    []string
	}{
		{"user:123:*", []string{"user:123:profile", "user:123:settings"}},
		{"user:*", seed},
		{"group:*", nil},
	}

	for _, tt := range tests {
		got, err := store.Keys(ctx, tt.pattern)
		if err != nil {
			t.Fatalf("keys(%q): %v", tt.pattern, err)
		}
		if len(got) != len(tt.want) {
			t.Errorf("keys(%q) = %v, want %v", tt.pattern, got, tt.want)
			continue
		}
		for i, key := range tt.want {
			if got[i] != key {
				t.Errorf("keys(%q)[%d] = %q, want %q", tt.pattern, i, got[i], key)
			}
		}
	}
}

// TestKeysExcludesExpired verifies pattern listing never returns expired keys.
func TestKeysExcludesExpired(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreConfig{})

	if err := store.PutWithTTL(ctx, "user:1:short", "v", TierHot, 30*time.Millisecond); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "user:1:long", "v", TierHot); err != nil {
		t.Fatalf("put: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	got, err := store.Keys(ctx, "user:1:*")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(got) != 1 || got[0] != "user:1:long" {
		t.Fatalf("keys = %v, want [user:1:long]", got)
	}
}

// TestConcurrentAccess runs independent set+get pairs on distinct keys and
// checks each observes its own value.
func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreConfig{})

	const workers = 10
	var wg sync.WaitGroup
	errCh := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("worker:%d", n)
			want := fmt.Sprintf("value-%d", n)
			if err := store.Put(ctx, key, want, TierHot); err != nil {
				errCh <- fmt.Errorf("put %s: %w", key, err)
				return
			}
			entry, err := store.Get(ctx, key)
			if err != nil {
				errCh <- fmt.Errorf("get %s: %w", key, err)
				return
			}
			if entry.Value != want {
				errCh <- fmt.Errorf("key %s: got %q, want %q", key, entry.Value, want)
			}
		}(i)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}
}

// TestAccessBookkeeping verifies reads bump the access counter and writes
// reset it.
func TestAccessBookkeeping(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreConfig{})

	if err := store.Put(ctx, "k", "v1", TierCold); err != nil {
		t.Fatalf("put: %v", err)
	}

	var count uint64
	for i := 0; i < 3; i++ {
		entry, err := store.Get(ctx, "k")
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		count = entry.AccessCount
	}
	if count != 3 {
		t.Errorf("access count after 3 reads = %d, want 3", count)
	}

	// Overwrite resets bookkeeping.
	if err := store.Put(ctx, "k", "v2", TierCold); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	entry, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if entry.AccessCount != 1 {
		t.Errorf("access count after overwrite+read = %d, want 1", entry.AccessCount)
	}
	if entry.Value != "v2" {
		t.Errorf("value after overwrite = %q, want v2", entry.Value)
	}
}

// TestPromoteRecomputesTTL verifies promotion moves an entry up a tier and
// re-derives expiry from the new tier's default TTL.
func TestPromoteRecomputesTTL(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreConfig{})

	if err := store.Put(ctx, "k", "v", TierCold); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Promote(ctx, "k"); err != nil {
		t.Fatalf("promote: %v", err)
	}

	entry, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.Tier != TierWarm {
		t.Errorf("tier after promote = %s, want warm", entry.Tier)
	}
	if entry.TTLSeconds != int64(TierWarm.DefaultTTL().Seconds()) {
		t.Errorf("ttl after promote = %ds, want %ds", entry.TTLSeconds, int64(TierWarm.DefaultTTL().Seconds()))
	}

	// Promoting a hot entry is a no-op, not an error.
	if err := store.Promote(ctx, "k"); err != nil {
		t.Fatalf("re-promote: %v", err)
	}
	if err := store.Promote(ctx, "k"); err != nil {
		t.Fatalf("promote at hot: %v", err)
	}
}

// TestDemoteKeepsTTLOverride verifies an explicit TTL survives tier moves.
func TestDemoteKeepsTTLOverride(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreConfig{})

	if err := store.PutWithTTL(ctx, "k", "v", TierHot, 10*time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Demote(ctx, "k"); err != nil {
		t.Fatalf("demote: %v", err)
	}

	entry, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.Tier != TierWarm {
		t.Errorf("tier after demote = %s, want warm", entry.Tier)
	}
	if !entry.TTLOverridden {
		t.Error("expected TTL override flag to survive demotion")
	}
	if entry.TTLSeconds != 600 {
		t.Errorf("ttl after demote = %ds, want 600", entry.TTLSeconds)
	}
}

// TestCompressionRoundTrip verifies large values survive transparent
// compression.
func TestCompressionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreConfig{Compression: true})

	big := strings.Repeat("funding-rate-snapshot ", 200)
	if err := store.Put(ctx, "big", big, TierWarm); err != nil {
		t.Fatalf("put: %v", err)
	}

	entry, err := store.Get(ctx, "big")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.Value != big {
		t.Fatal("decompressed value does not match original")
	}
	if entry.Compressed {
		t.Error("returned entry should expose the decompressed value")
	}
	if entry.SizeBytes != int64(len(big)) {
		t.Errorf("size bytes = %d, want %d", entry.SizeBytes, len(big))
	}
}

// TestGetBatchPartialFailure verifies one failing key does not sink a batch.
func TestGetBatchPartialFailure(t *testing.T) {
	ctx := context.Background()
	backend := newFlakyBackend()
	t.Cleanup(func() { _ = backend.Close() })
	store := NewTieredStore(backend, StoreConfig{}, observability.NewNopLogger(), nil)

	if err := store.Put(ctx, "good", "v", TierHot); err != nil {
		t.Fatalf("put: %v", err)
	}
	backend.mu.Lock()
	backend.failGet[tierKey(TierHot, "bad")] = errors.New("backend down")
	backend.mu.Unlock()

	out, err := store.GetBatch(ctx, []string{"good", "bad", "missing"})
	if err != nil {
		t.Fatalf("batch get: %v", err)
	}
	if out["good"] == nil || out["good"].Value != "v" {
		t.Errorf("good = %+v, want value v", out["good"])
	}
	if out["bad"] != nil {
		t.Errorf("bad = %+v, want nil", out["bad"])
	}
	if out["missing"] != nil {
		t.Errorf("missing = %+v, want nil", out["missing"])
	}
}

// TestOverwriteAcrossTiersKeepsKeyUnique verifies an overwrite into a
// different tier removes the prior copy: the stale value must not resurface
// once the newer one expires, and one logical key counts once.
func TestOverwriteAcrossTiersKeepsKeyUnique(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreConfig{})

	if err := store.Put(ctx, "k", "old", TierCold); err != nil {
		t.Fatalf("put cold: %v", err)
	}
	if err := store.PutWithTTL(ctx, "k", "new", TierHot, 50*time.Millisecond); err != nil {
		t.Fatalf("overwrite hot: %v", err)
	}

	entry, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if entry.Value != "new" || entry.Tier != TierHot {
		t.Fatalf("entry = %q in %s, want %q in hot", entry.Value, entry.Tier, "new")
	}
	if got := store.Statistics().TotalItems; got != 1 {
		t.Errorf("total items = %d, want 1 for one logical key", got)
	}

	time.Sleep(100 * time.Millisecond)
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale pre-overwrite value resurfaced: err = %v, want ErrNotFound", err)
	}
}

// TestFrequentReadsPromoteToHot verifies the read path auto-promotes a warm
// entry once its access pattern clears the hot tier's acceptance threshold.
func TestFrequentReadsPromoteToHot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreConfig{})

	if err := store.Put(ctx, "k", "v", TierWarm); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Hot accepts after five recent accesses; the first four stay warm.
	for i := 1; i <= 4; i++ {
		entry, err := store.Get(ctx, "k")
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if entry.Tier != TierWarm {
			t.Fatalf("read %d landed in %s, want warm", i, entry.Tier)
		}
	}

	entry, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("fifth get: %v", err)
	}
	if entry.Tier != TierHot {
		t.Fatalf("fifth read tier = %s, want hot", entry.Tier)
	}

	// The promoted copy is the only one left.
	entry, err = store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get after promotion: %v", err)
	}
	if entry.Tier != TierHot || entry.Value != "v" {
		t.Errorf("entry = %q in %s, want %q in hot", entry.Value, entry.Tier, "v")
	}
	snap := store.Statistics()
	if snap.Promotions != 1 {
		t.Errorf("promotions = %d, want 1", snap.Promotions)
	}
	if snap.TotalItems != 1 {
		t.Errorf("total items = %d, want 1", snap.TotalItems)
	}
}

// TestDeleteIsIdempotent verifies deleting an absent key is not an error.
func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreConfig{})

	if err := store.Delete(ctx, "never-set"); err != nil {
		t.Fatalf("delete absent key: %v", err)
	}

	if err := store.Put(ctx, "k", "v", TierHot); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
