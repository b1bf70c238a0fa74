// Package observability wires OpenTelemetry tracing and the Prometheus
// collectors for the fulfillment pipeline.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"google.golang.org/grpc/credentials"

	"github.com/tbourn/keyshop-fulfillment/internal/config"
)

// TracerName prefixes the tracers of the background components.
const TracerName = "keyshop"

// Tracer returns the tracer of a pipeline component, e.g. "queue".
func Tracer(component string) trace.Tracer {
	return otel.Tracer(TracerName + "/" + component)
}

// test seams
var (
	newSpanExporterFn = func(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		} else {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	}

	newResourceFn = func(ctx context.Context, attrs ...attribute.KeyValue) (*resource.Resource, error) {
		return resource.New(ctx, resource.WithAttributes(attrs...))
	}
)

// PipelineAttributes describes how this instance is wired: store driver,
// worker count and which optional collaborators are on.
func PipelineAttributes(cfg config.Config) []attribute.KeyValue {
	notifier := "log"
	if len(cfg.Messaging.KafkaBrokers) > 0 {
		notifier = "kafka"
	}
	return []attribute.KeyValue{
		attribute.String("keyshop.db.driver", cfg.DBDriver),
		attribute.Int("keyshop.queue.workers", cfg.Queue.Workers),
		attribute.String("keyshop.notifier", notifier),
		attribute.Bool("keyshop.provider.configured", cfg.Fulfillment.ProviderBaseURL != ""),
		attribute.Bool("keyshop.flags.redis", cfg.Messaging.RedisAddr != ""),
	}
}

// Sampler maps OTEL_TRACES_SAMPLER_ARG onto a parent-based sampler. The
// bounds use the always-on and always-off samplers.
func Sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// SetupOTel installs the global tracer provider and propagator when tracing
// is enabled and returns the provider's shutdown. Globals are untouched on
// error.
func SetupOTel(ctx context.Context, cfg config.Config, version string) (func(context.Context) error, error) {
	if !cfg.OTEL.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newSpanExporterFn(ctx, cfg.OTEL)
	if err != nil {
		return nil, fmt.Errorf("otel exporter: %w", err)
	}

	attrs := append([]attribute.KeyValue{
		semconv.ServiceName(cfg.OTEL.ServiceName),
		semconv.ServiceVersion(version),
	}, PipelineAttributes(cfg)...)
	res, err := newResourceFn(ctx, attrs...)
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(Sampler(cfg.OTEL.SampleRatio)),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}
