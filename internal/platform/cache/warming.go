package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/irfndi/arb-edge/internal/platform/observability"
)

// WarmupProvider pre-populates the cache with data its owner knows will be
// read soon, e.g. funding rates for the configured trading pairs.
// Implementations must be idempotent.
type WarmupProvider interface {
	// Name identifies the provider in logs.
	Name() string

	// Warmup fetches and caches the provider's data.
	Warmup(ctx context.Context) error
}

// WarmupConfig configures cache warming behavior.
type WarmupConfig struct {
	// Timeout bounds the whole warmup run.
	Timeout time.Duration

	// Parallelism is the number of providers warmed concurrently.
	// Values below 1 run providers sequentially.
	Parallelism int
}

// DefaultWarmupConfig returns sensible warmup defaults.
func DefaultWarmupConfig() WarmupConfig {
	return WarmupConfig{
		Timeout:     30 * time.Second,
		Parallelism: 4,
	}
}

// WarmupResult is the outcome of warming a single provider.
type WarmupResult struct {
	Provider string
	Duration time.Duration
	Err      error
}

// WarmupResults aggregates a full warmup run.
type WarmupResults struct {
	Results   []WarmupResult
	TotalTime time.Duration
	Errors    int
}

// HasErrors reports whether any provider failed.
func (wr *WarmupResults) HasErrors() bool {
	return wr.Errors > 0
}

// Warmer runs registered warmup providers before a service starts serving.
// Provider failures are collected, not fatal: a cold cache is degraded
// service, not an outage.
type Warmer struct {
	providers []WarmupProvider
	logger    *observability.Logger
	config    WarmupConfig
}

// NewWarmer creates a cache warmer.
func NewWarmer(logger *observability.Logger, config WarmupConfig) *Warmer {
	return &Warmer{
		providers: make([]WarmupProvider, 0),
		logger:    logger,
		config:    config,
	}
}

// RegisterProvider adds a warmup provider.
func (w *Warmer) RegisterProvider(provider WarmupProvider) {
	w.providers = append(w.providers, provider)
}

// Warmup runs every registered provider, bounded by the configured timeout
// and parallelism, and returns per-provider outcomes.
func (w *Warmer) Warmup(ctx context.Context) *WarmupResults {
	start := time.Now()
	results := &WarmupResults{
		Results: make([]WarmupResult, 0, len(w.providers)),
	}

	if len(w.providers) == 0 {
		results.TotalTime = time.Since(start)
		return results
	}

	warmupCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(warmupCtx)
	if w.config.Parallelism > 0 {
		g.SetLimit(w.config.Parallelism)
	} else {
		g.SetLimit(1)
	}

	for _, provider := range w.providers {
		g.Go(func() error {
			result := w.warmupProvider(gctx, provider)
			mu.Lock()
			results.Results = append(results.Results, result)
			mu.Unlock()
			// individual failures do not cancel the group
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results.Results {
		if r.Err != nil {
			results.Errors++
		}
	}
	results.TotalTime = time.Since(start)

	if results.Errors > 0 {
		w.logger.LogWarn(ctx, fmt.Sprintf("cache warmup completed with %d/%d errors in %v",
			results.Errors, len(w.providers), results.TotalTime))
	} else {
		w.logger.LogInfo(ctx, fmt.Sprintf("cache warmup completed (%d providers) in %v",
			len(w.providers), results.TotalTime))
	}

	return results
}

func (w *Warmer) warmupProvider(ctx context.Context, provider WarmupProvider) WarmupResult {
	start := time.Now()
	name := provider.Name()

	err := provider.Warmup(ctx)
	duration := time.Since(start)

	if err != nil {
		w.logger.LogWarn(ctx, fmt.Sprintf("cache warmup failed for %s: %v (took %v)", name, err, duration))
	} else {
		w.logger.LogDebug(ctx, fmt.Sprintf("cache warmup completed for %s in %v", name, duration))
	}

	return WarmupResult{Provider: name, Duration: duration, Err: err}
}
