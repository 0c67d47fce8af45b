// Package observe provides application-wide observability primitives for
// Verbamed: OpenTelemetry metrics, tracing, and HTTP middleware that ties
// them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Verbamed metrics.
const meterName = "github.com/verbamed/verbamed"

// Metrics holds all OpenTelemetry metric instruments for the transcription
// pipeline. All fields are safe for concurrent use — the underlying OTel
// types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// NormalizeDuration tracks audio decode and resample latency.
	NormalizeDuration metric.Float64Histogram

	// RecognizeDuration tracks speech recognition latency. Use with
	// attribute.String("backend", "local"|"remote").
	RecognizeDuration metric.Float64Histogram

	// FoldDuration tracks LLM summary folding latency.
	FoldDuration metric.Float64Histogram

	// --- Counters ---

	// WindowsEmitted counts audio windows handed to the recognizer.
	WindowsEmitted metric.Int64Counter

	// SegmentsAppended counts transcript segments accepted into sessions.
	SegmentsAppended metric.Int64Counter

	// BackendErrors counts hard recognition backend failures. Use with
	// attribute.String("backend", ...).
	BackendErrors metric.Int64Counter

	// BackendTimeouts counts soft remote-backend response timeouts.
	BackendTimeouts metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of sessions in active status.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveStreams tracks the number of open WebSocket audio streams.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// per-window pipeline latencies: normalization is milliseconds, recognition
// can take several seconds on CPU-bound inference.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.NormalizeDuration, err = m.Float64Histogram("verbamed.normalize.duration",
		metric.WithDescription("Latency of audio decode and resampling."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognizeDuration, err = m.Float64Histogram("verbamed.recognize.duration",
		metric.WithDescription("Latency of speech recognition by backend."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FoldDuration, err = m.Float64Histogram("verbamed.fold.duration",
		metric.WithDescription("Latency of LLM summary folding."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.WindowsEmitted, err = m.Int64Counter("verbamed.windows.emitted",
		metric.WithDescription("Total audio windows handed to the recognizer."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsAppended, err = m.Int64Counter("verbamed.segments.appended",
		metric.WithDescription("Total transcript segments accepted into sessions."),
	); err != nil {
		return nil, err
	}
	if met.BackendErrors, err = m.Int64Counter("verbamed.backend.errors",
		metric.WithDescription("Total hard recognition backend failures by backend."),
	); err != nil {
		return nil, err
	}
	if met.BackendTimeouts, err = m.Int64Counter("verbamed.backend.timeouts",
		metric.WithDescription("Total soft remote-backend response timeouts."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("verbamed.active_sessions",
		metric.WithDescription("Number of sessions in active status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("verbamed.active_streams",
		metric.WithDescription("Number of open WebSocket audio streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("verbamed.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordRecognize records one recognition round: its latency histogram entry
// plus the error counter when the round failed hard.
func (m *Metrics) RecordRecognize(ctx context.Context, backend string, d time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("backend", backend))
	m.RecognizeDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.BackendErrors.Add(ctx, 1, attrs)
	}
}

// RecordBackendTimeout records one soft response timeout. Only the remote
// backend produces these; local inference never times out on its own.
func (m *Metrics) RecordBackendTimeout(ctx context.Context) {
	m.BackendTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", "remote")))
}

// RecordSegment records an accepted transcript segment.
func (m *Metrics) RecordSegment(ctx context.Context) {
	m.SegmentsAppended.Add(ctx, 1)
}

// RecordWindow records a window handed to the recognizer.
func (m *Metrics) RecordWindow(ctx context.Context) {
	m.WindowsEmitted.Add(ctx, 1)
}
