package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ModeKey is the resource attribute carrying the run mode (telephony or
// microphone), so dashboards can split one binary's two deployments.
const ModeKey = attribute.Key("parley.mode")

// ProviderConfig configures the process-wide telemetry.
type ProviderConfig struct {
	// ServiceName defaults to "parley".
	ServiceName string

	ServiceVersion string

	// Mode is reported as [ModeKey].
	Mode string

	// InstanceID identifies this process among replicas answering the same
	// trunk. A random UUID is used when empty.
	InstanceID string

	// TraceSampleRatio is the fraction of new call traces kept. Calls that
	// arrive with a sampled W3C parent are always kept. Zero means 1.
	TraceSampleRatio float64

	// TraceExporter receives finished spans. When nil spans are recorded but
	// dropped.
	TraceExporter sdktrace.SpanExporter

	// MetricReader replaces the Prometheus reader behind /metrics. Tests use
	// a manual reader.
	MetricReader sdkmetric.Reader
}

// Resource builds the telemetry resource for cfg.
func (cfg ProviderConfig) Resource() (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "parley"
	}
	id := cfg.InstanceID
	if id == "" {
		id = uuid.NewString()
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceInstanceID(id),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.Mode != "" {
		attrs = append(attrs, ModeKey.String(cfg.Mode))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

// InitProvider installs the global meter and tracer providers. Metrics are
// exposed through the Prometheus registry that promhttp serves on /metrics;
// spans go to cfg.TraceExporter. It must run before [DefaultMetrics] is first
// called.
//
// The returned function flushes and closes both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := cfg.Resource()
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}
	if cfg.TraceSampleRatio < 0 || cfg.TraceSampleRatio > 1 {
		return nil, fmt.Errorf("observe: trace sample ratio %v is outside [0, 1]", cfg.TraceSampleRatio)
	}

	reader := cfg.MetricReader
	if reader == nil {
		prom, err := promexporter.New()
		if err != nil {
			return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
		}
		reader = prom
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	ratio := cfg.TraceSampleRatio
	if ratio == 0 {
		ratio = 1
	}
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
