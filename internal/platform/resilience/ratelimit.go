package resilience

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// LimiterConfig configures a per-dependency rate limiter.
type LimiterConfig struct {
	// RequestsPerSecond is the sustained request rate allowed.
	RequestsPerSecond float64
	// Burst is the instantaneous burst capacity.
	Burst int
}

// DefaultLimiterConfig returns rate limits conservative enough for public
// exchange endpoints.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		RequestsPerSecond: 5,
		Burst:             10,
	}
}

// LimiterGroup maintains one token-bucket limiter per named dependency
// (typically per exchange), so a chatty exchange cannot starve the others.
type LimiterGroup struct {
	cfg       LimiterConfig
	mu        sync.Mutex
	overrides map[string]LimiterConfig
	limiters  map[string]*rate.Limiter
}

// NewLimiterGroup creates an empty limiter group. cfg applies to every
// name without an explicit override.
func NewLimiterGroup(cfg LimiterConfig) *LimiterGroup {
	return &LimiterGroup{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Configure sets a per-name limit, replacing the group default for that
// name. Must be called before the name's first Wait/Allow.
func (g *LimiterGroup) Configure(name string, cfg LimiterConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.overrides == nil {
		g.overrides = make(map[string]LimiterConfig)
	}
	g.overrides[name] = cfg
	delete(g.limiters, name)
}

// Wait blocks until the named dependency's limiter grants a slot or the
// context is done.
func (g *LimiterGroup) Wait(ctx context.Context, name string) error {
	return g.limiter(name).Wait(ctx)
}

// Allow reports whether a request to the named dependency may proceed now.
func (g *LimiterGroup) Allow(name string) bool {
	return g.limiter(name).Allow()
}

func (g *LimiterGroup) limiter(name string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.limiters[name]
	if !ok {
		cfg := g.cfg
		if override, ok := g.overrides[name]; ok {
			cfg = override
		}
		l = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
		g.limiters[name] = l
	}
	return l
}
