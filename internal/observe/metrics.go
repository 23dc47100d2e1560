// Package observe provides application-wide observability primitives for
// LingoLive: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all LingoLive metrics.
const meterName = "github.com/lingolive/lingolive"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks the time from dialing a realtime provider to a
	// ready session.
	ConnectDuration metric.Float64Histogram

	// TurnDuration tracks the length of a full conversation turn, from the
	// first transcript fragment to turn completion.
	TurnDuration metric.Float64Histogram

	// TranslationDuration tracks text generation latency for translations
	// and grammar notes.
	TranslationDuration metric.Float64Histogram

	// --- Counters ---

	// AudioFramesSent counts microphone frames forwarded upstream. Use with
	// attribute: attribute.String("provider", ...)
	AudioFramesSent metric.Int64Counter

	// AudioChunksReceived counts synthesized audio buffers received from the
	// provider. Use with attribute: attribute.String("provider", ...)
	AudioChunksReceived metric.Int64Counter

	// MessagesCommitted counts transcript messages committed per turn. Use
	// with attribute: attribute.String("speaker", ...)
	MessagesCommitted metric.Int64Counter

	// Interruptions counts barge-in events.
	Interruptions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for interactive conversation latencies.
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
	if met.ConnectDuration, err = m.Float64Histogram("lingolive.provider.connect.duration",
		metric.WithDescription("Time from dialing a realtime provider to a ready session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("lingolive.turn.duration",
		metric.WithDescription("Length of a full conversation turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslationDuration, err = m.Float64Histogram("lingolive.translation.duration",
		metric.WithDescription("Latency of translation and grammar note generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioFramesSent, err = m.Int64Counter("lingolive.audio.frames_sent",
		metric.WithDescription("Microphone frames forwarded to the realtime provider."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksReceived, err = m.Int64Counter("lingolive.audio.chunks_received",
		metric.WithDescription("Synthesized audio buffers received from the realtime provider."),
	); err != nil {
		return nil, err
	}
	if met.MessagesCommitted, err = m.Int64Counter("lingolive.messages.committed",
		metric.WithDescription("Transcript messages committed by speaker."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("lingolive.interruptions",
		metric.WithDescription("Barge-in events that flushed scheduled playback."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("lingolive.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("lingolive.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lingolive.http.request.duration",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordMessageCommitted is a convenience method that records one committed
// transcript message.
func (m *Metrics) RecordMessageCommitted(ctx context.Context, speaker string) {
	m.MessagesCommitted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("speaker", speaker)),
	)
}

// RecordInterruption is a convenience method that records one barge-in event.
func (m *Metrics) RecordInterruption(ctx context.Context) {
	m.Interruptions.Add(ctx, 1)
}
