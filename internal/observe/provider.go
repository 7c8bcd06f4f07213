package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// Telemetry owns the global meter and tracer providers installed by [Setup].
type Telemetry struct {
	meters  *sdkmetric.MeterProvider
	tracers *sdktrace.TracerProvider
}

type setupConfig struct {
	version    string
	exporter   sdktrace.SpanExporter
	registerer prometheus.Registerer
	ratio      float64
}

// SetupOption is a functional option for [Setup].
type SetupOption func(*setupConfig)

// WithVersion sets the reported service version.
func WithVersion(v string) SetupOption {
	return func(c *setupConfig) { c.version = v }
}

// WithSpanExporter batches finished spans to e. Without one spans are
// recorded for the logger's correlation ids but never leave the process.
func WithSpanExporter(e sdktrace.SpanExporter) SetupOption {
	return func(c *setupConfig) { c.exporter = e }
}

// WithRegisterer registers the metric bridge with r instead of the default
// Prometheus registry that [Handler] serves.
func WithRegisterer(r prometheus.Registerer) SetupOption {
	return func(c *setupConfig) { c.registerer = r }
}

// WithSampleRatio samples the given fraction of root spans. Values outside
// (0, 1) sample everything.
func WithSampleRatio(r float64) SetupOption {
	return func(c *setupConfig) { c.ratio = r }
}

// Setup installs the OpenTelemetry meter and tracer providers for service as
// the process globals. Meters are bridged to Prometheus. Call
// [Telemetry.Shutdown] before exiting to flush the span exporter.
func Setup(ctx context.Context, service string, opts ...SetupOption) (*Telemetry, error) {
	sc := setupConfig{registerer: prometheus.DefaultRegisterer}
	for _, o := range opts {
		o(&sc)
	}
	if service == "" {
		return nil, errors.New("observe: service name is required")
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		semconv.ServiceVersion(sc.version),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	bridge, err := promexporter.New(promexporter.WithRegisterer(sc.registerer))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus bridge: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if sc.ratio > 0 && sc.ratio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sc.ratio))
	}
	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}
	if sc.exporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(sc.exporter))
	}

	t := &Telemetry{
		meters:  sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(bridge)),
		tracers: sdktrace.NewTracerProvider(traceOpts...),
	}
	otel.SetMeterProvider(t.meters)
	otel.SetTracerProvider(t.tracers)
	return t, nil
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.tracers.Shutdown(ctx),
		t.meters.Shutdown(ctx),
	)
}
