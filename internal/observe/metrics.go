// Package observe provides application-wide observability primitives for
// stagecue: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all stagecue metrics.
const meterName = "github.com/tobfel/stagecue"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ScanDuration tracks the time spent scanning one text update through
	// all trigger handlers.
	ScanDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// TokensDetected counts typed tokens produced by the detector. Use with
	// attribute: attribute.String("type", ...)
	TokensDetected metric.Int64Counter

	// CuesFired counts effect cues dispatched to executors. Use with
	// attribute: attribute.String("domain", ...)
	CuesFired metric.Int64Counter

	// CueErrors counts executor failures by domain.
	CueErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// scanBuckets defines histogram bucket boundaries (in seconds) sized for
// per-update scan latencies, which should stay well under a frame budget.
var scanBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ScanDuration, err = m.Float64Histogram("stagecue.scan.duration",
		metric.WithDescription("Latency of one trigger scan over a text update."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(scanBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("stagecue.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.TokensDetected, err = m.Int64Counter("stagecue.tokens.detected",
		metric.WithDescription("Total typed tokens produced by the detector, by token type."),
	); err != nil {
		return nil, err
	}
	if met.CuesFired, err = m.Int64Counter("stagecue.cues.fired",
		metric.WithDescription("Total effect cues dispatched, by trigger domain."),
	); err != nil {
		return nil, err
	}
	if met.CueErrors, err = m.Int64Counter("stagecue.cues.errors",
		metric.WithDescription("Total executor failures, by trigger domain."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("stagecue.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTokens records a batch of detected tokens of one type.
func (m *Metrics) RecordTokens(ctx context.Context, tokenType string, n int64) {
	m.TokensDetected.Add(ctx, n,
		metric.WithAttributes(attribute.String("type", tokenType)),
	)
}

// RecordCueFired records one dispatched cue for a domain.
func (m *Metrics) RecordCueFired(ctx context.Context, domain string) {
	m.CuesFired.Add(ctx, 1,
		metric.WithAttributes(attribute.String("domain", domain)),
	)
}

// RecordCueError records one executor failure for a domain.
func (m *Metrics) RecordCueError(ctx context.Context, domain string) {
	m.CueErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("domain", domain)),
	)
}
