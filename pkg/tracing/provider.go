package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
)

// Config controls trace export for the service
type Config struct {
	Enabled     bool
	ServiceName string
	Exporter    string // "console" or "otlp"
	SampleRatio float64
	OTLP        exporters.OTLPConfig
}

// Init builds the tracer provider and registers the service tracer. The
// returned shutdown func flushes buffered spans and must run on exit.
func Init(ctx context.Context, config Config) (func(context.Context) error, error) {
	if !config.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch config.Exporter {
	case "otlp":
		exporter, err = exporters.NewOTLPExporter(ctx, config.OTLP)
		if err != nil {
			return nil, err
		}
	default:
		exporter = &exporters.ConsoleExporter{}
	}

	sampleRatio := config.SampleRatio
	if sampleRatio <= 0 {
		sampleRatio = 1
	}

	res := sdkresource.NewSchemaless(
		attribute.String("service.name", config.ServiceName),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	SetTracer(provider.Tracer(config.ServiceName))

	return provider.Shutdown, nil
}
