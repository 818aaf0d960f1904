package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all application metrics
type Metrics struct {
	meter metric.Meter

	// Cache metrics
	CacheHits       metric.Int64Counter
	CacheMisses     metric.Int64Counter
	CachePromotions metric.Int64Counter
	CacheDemotions  metric.Int64Counter
	CacheEvictions  metric.Int64Counter
	CacheOpDuration metric.Float64Histogram

	// Funding-rate metrics
	FundingFetches       metric.Int64Counter
	FundingFetchDuration metric.Float64Histogram

	// Validity engine metrics
	OpportunitiesEvaluated   metric.Int64Counter
	OpportunitiesInvalidated metric.Int64Counter
	RefreshPassDuration      metric.Float64Histogram

	// Error metrics
	Errors metric.Int64Counter

	// Prometheus exporter for HTTP handler
	exporter *prometheus.Exporter
}

// NewMetrics creates a new Metrics instance
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:    provider.Meter(serviceName),
		exporter: exporter,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initMetrics initializes all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	m.CacheHits, err = m.meter.Int64Counter(
		"arbedge.cache.hits",
		metric.WithDescription("Total cache hits by tier and data type"),
	)
	if err != nil {
		return err
	}

	m.CacheMisses, err = m.meter.Int64Counter(
		"arbedge.cache.misses",
		metric.WithDescription("Total cache misses by data type"),
	)
	if err != nil {
		return err
	}

	m.CachePromotions, err = m.meter.Int64Counter(
		"arbedge.cache.promotions",
		metric.WithDescription("Entries promoted to a higher tier"),
	)
	if err != nil {
		return err
	}

	m.CacheDemotions, err = m.meter.Int64Counter(
		"arbedge.cache.demotions",
		metric.WithDescription("Entries demoted to a lower tier"),
	)
	if err != nil {
		return err
	}

	m.CacheEvictions, err = m.meter.Int64Counter(
		"arbedge.cache.evictions",
		metric.WithDescription("Entries evicted by tier capacity limits"),
	)
	if err != nil {
		return err
	}

	m.CacheOpDuration, err = m.meter.Float64Histogram(
		"arbedge.cache.operation.duration",
		metric.WithDescription("Cache operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.FundingFetches, err = m.meter.Int64Counter(
		"arbedge.funding.fetches",
		metric.WithDescription("Live funding-rate fetches by exchange and status"),
	)
	if err != nil {
		return err
	}

	m.FundingFetchDuration, err = m.meter.Float64Histogram(
		"arbedge.funding.fetch.duration",
		metric.WithDescription("Funding-rate fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.OpportunitiesEvaluated, err = m.meter.Int64Counter(
		"arbedge.validity.evaluated",
		metric.WithDescription("Opportunities evaluated by the validity engine"),
	)
	if err != nil {
		return err
	}

	m.OpportunitiesInvalidated, err = m.meter.Int64Counter(
		"arbedge.validity.invalidated",
		metric.WithDescription("Opportunities newly marked invalid"),
	)
	if err != nil {
		return err
	}

	m.RefreshPassDuration, err = m.meter.Float64Histogram(
		"arbedge.validity.refresh.duration",
		metric.WithDescription("Validity refresh pass duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.Errors, err = m.meter.Int64Counter(
		"arbedge.errors",
		metric.WithDescription("Total errors by component"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordCacheHit records a cache hit for a tier and data type
func (m *Metrics) RecordCacheHit(ctx context.Context, tier, dataType string) {
	if m == nil || m.CacheHits == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("data_type", dataType),
	))
}

// RecordCacheMiss records a cache miss for a data type
func (m *Metrics) RecordCacheMiss(ctx context.Context, dataType string) {
	if m == nil || m.CacheMisses == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(
		attribute.String("data_type", dataType),
	))
}

// RecordCacheOp records a cache operation duration
func (m *Metrics) RecordCacheOp(ctx context.Context, op string, success bool, duration time.Duration) {
	if m == nil || m.CacheOpDuration == nil {
		return
	}
	m.CacheOpDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.String("operation", op),
		attribute.Bool("success", success),
	))
}

// RecordCachePromotion records a tier promotion.
func (m *Metrics) RecordCachePromotion(ctx context.Context, from, to string) {
	if m == nil || m.CachePromotions == nil {
		return
	}
	m.CachePromotions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordCacheDemotion records a tier demotion.
func (m *Metrics) RecordCacheDemotion(ctx context.Context, from, to string) {
	if m == nil || m.CacheDemotions == nil {
		return
	}
	m.CacheDemotions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordCacheEviction records a capacity-driven eviction.
func (m *Metrics) RecordCacheEviction(ctx context.Context, tier string) {
	if m == nil || m.CacheEvictions == nil {
		return
	}
	m.CacheEvictions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
	))
}

// RecordFundingFetch records a live funding-rate fetch
func (m *Metrics) RecordFundingFetch(ctx context.Context, exchange, status string, duration time.Duration) {
	if m == nil || m.FundingFetches == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("exchange", exchange),
		attribute.String("status", status),
	)
	m.FundingFetches.Add(ctx, 1, attrs)
	m.FundingFetchDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordRefreshPass records the outcome of one validity refresh pass
func (m *Metrics) RecordRefreshPass(ctx context.Context, evaluated, invalidated int, duration time.Duration) {
	if m == nil || m.OpportunitiesEvaluated == nil {
		return
	}
	m.OpportunitiesEvaluated.Add(ctx, int64(evaluated))
	m.OpportunitiesInvalidated.Add(ctx, int64(invalidated))
	m.RefreshPassDuration.Record(ctx, float64(duration.Milliseconds()))
}

// RecordError records an error for a component
func (m *Metrics) RecordError(ctx context.Context, component string) {
	if m == nil || m.Errors == nil {
		return
	}
	m.Errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", component),
	))
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
