// Package observe provides application-wide observability primitives for
// Colloquy: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Colloquy metrics.
const meterName = "github.com/MrWong99/colloquy"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Conversation turns ---

	// TurnDuration tracks the wall time of a whole turn. Attributes: mode.
	TurnDuration metric.Float64Histogram

	// TurnCount counts finished turns. Attributes: mode ("blocking" or
	// "streamed"), outcome ("ok", "error", "timeout").
	TurnCount metric.Int64Counter

	// --- Tools ---

	// ToolCalls counts tool invocations. Attributes: tool, backend, status.
	ToolCalls metric.Int64Counter

	// ToolDuration tracks tool execution latency. Attributes: tool, backend.
	ToolDuration metric.Float64Histogram

	// --- Providers ---

	// ProviderRequests counts provider API calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderDuration tracks provider call latency. Attributes: provider, kind.
	ProviderDuration metric.Float64Histogram

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// --- Streaming ---

	// StreamEvents counts events pushed to live channels. Attributes: type.
	StreamEvents metric.Int64Counter

	// ActiveStreams tracks the number of streamed turns in flight.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) spanning a
// fast local tool call up to a turn that hits its deadline.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("colloquy.turn.duration",
		metric.WithDescription("Wall time of a conversation turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("colloquy.tool.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("colloquy.provider.duration",
		metric.WithDescription("Latency of provider API calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("colloquy.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TurnCount, err = m.Int64Counter("colloquy.turn.count",
		metric.WithDescription("Total conversation turns by mode and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("colloquy.tool.calls",
		metric.WithDescription("Total tool invocations by tool, backend, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("colloquy.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("colloquy.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.StreamEvents, err = m.Int64Counter("colloquy.stream.events",
		metric.WithDescription("Total events pushed to live channels by event type."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("colloquy.active_streams",
		metric.WithDescription("Number of streamed turns in flight."),
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

// RecordTurn records one finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, mode, outcome string, d time.Duration) {
	m.TurnCount.Add(ctx, 1, metric.WithAttributes(Attr("mode", mode), Attr("outcome", outcome)))
	m.TurnDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("mode", mode)))
}

// RecordToolCall records one tool invocation and its latency.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, backend, status string, d time.Duration) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(Attr("tool", tool), Attr("backend", backend), Attr("status", status)),
	)
	m.ToolDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(Attr("tool", tool), Attr("backend", backend)),
	)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set, plus its latency.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string, d time.Duration) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(Attr("provider", provider), Attr("kind", kind), Attr("status", status)),
	)
	m.ProviderDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)),
	)
}

// RecordStreamEvent records one event pushed to a live channel.
func (m *Metrics) RecordStreamEvent(ctx context.Context, eventType string) {
	m.StreamEvents.Add(ctx, 1, metric.WithAttributes(Attr("type", eventType)))
}
