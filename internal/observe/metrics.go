// Package observe provides observability primitives for chatterbox:
// OpenTelemetry metrics and tracing, a trace-aware logger, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to
// Prometheus by [Setup], so they can be scraped from [Handler]. Tests
// should use [NewMetrics] with their own [metric.MeterProvider] instead of
// [DefaultMetrics] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all chatterbox metrics.
const meterName = "github.com/MrWong99/chatterbox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text latency, both the gateway's provider
	// call and the assistant's upload round trip.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks chat completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks a full conversation turn, from accepted recording
	// to the end of playback.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// GateDecisions counts speech gate outcomes. Use with attribute:
	//   attribute.String("outcome", ...)
	GateDecisions metric.Int64Counter

	// Interruptions counts turns cut short by a mic press.
	Interruptions metric.Int64Counter

	// --- Gauges ---

	// ActivePlayback is 1 while the assistant is speaking.
	ActivePlayback metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   method, path (route pattern when known) and status class ("2xx").
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// remote voice-pipeline calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "chatterbox.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "chatterbox.llm.duration", "Latency of chat completion."},
		{&met.TTSDuration, "chatterbox.tts.duration", "Latency of speech synthesis."},
		{&met.TurnDuration, "chatterbox.turn.duration", "Duration of a conversation turn."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	if met.ProviderRequests, err = m.Int64Counter("chatterbox.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("chatterbox.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.GateDecisions, err = m.Int64Counter("chatterbox.gate.decisions",
		metric.WithDescription("Speech gate outcomes by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("chatterbox.interruptions",
		metric.WithDescription("Turns interrupted by the user."),
	); err != nil {
		return nil, err
	}

	if met.ActivePlayback, err = m.Int64UpDownCounter("chatterbox.active_playback",
		metric.WithDescription("Number of playback graphs currently producing audio."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("chatterbox.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordGateDecision records one speech gate outcome ("accept" or a reject
// reason).
func (m *Metrics) RecordGateDecision(ctx context.Context, outcome string) {
	m.GateDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordInterruption records an interrupted turn.
func (m *Metrics) RecordInterruption(ctx context.Context) {
	m.Interruptions.Add(ctx, 1)
}

// ObserveStage records the latency of one provider call since start, along
// with its request and error counters. It is meant to be deferred:
//
//	defer m.ObserveStage(ctx, m.LLMDuration, "openai", "llm", time.Now(), &err)
func (m *Metrics) ObserveStage(ctx context.Context, h metric.Float64Histogram, provider, kind string, start time.Time, errp *error) {
	status := "ok"
	if errp != nil && *errp != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, kind)
	}
	h.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", provider)))
	m.RecordProviderRequest(ctx, provider, kind, status)
}
