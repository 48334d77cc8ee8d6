// Package telemetry provides OpenTelemetry tracing setup.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/site-audit/internal/config"
)

// TracerName is the instrumentation scope for pipeline spans.
const TracerName = "github.com/JakeFAU/site-audit"

// InitTracerProvider installs the global trace provider. With tracing
// disabled or no endpoint configured, spans are sampled but never exported.
func InitTracerProvider(ctx context.Context, cfg config.TracingConfig) (*sdktrace.TracerProvider, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "site-audit"
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}

	if cfg.Enabled && cfg.Endpoint != "" {
		exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.InsecureHTTP {
			exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}

// Tracer returns the pipeline tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
