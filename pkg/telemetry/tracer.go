package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Span attributes.
var (
	AttrRunID   = attribute.Key("fabricupgrade.run_id")
	AttrStage   = attribute.Key("fabricupgrade.stage")
	AttrOutcome = attribute.Key("fabricupgrade.outcome")
)

// Tracer records one span per workflow stage. Controller requests made
// inside a stage become its children through the HTTP instrumentation.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	runID    string
}

// NewTracer creates the tracer of one run. When tracing is disabled spans
// are still created so the code paths are identical, but never sampled.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion, runID string) (*Tracer, error) {
	if !cfg.Enabled {
		provider := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		return &Tracer{provider: provider, tracer: provider.Tracer(serviceName), runID: runID}, nil
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(serviceVersion),
		AttrRunID.String(runID),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}
	exporter, err := spanExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s trace exporter: %w", cfg.Exporter, err)
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
		))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Tracer{provider: provider, tracer: provider.Tracer(serviceName), runID: runID}, nil
}

// spanExporter returns nil for the "none" exporter.
func spanExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "none":
		return nil, nil
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent("fabricupgrade")),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
}

// Provider returns the tracer provider for HTTP client instrumentation.
func (t *Tracer) Provider() trace.TracerProvider {
	return t.provider
}

// StartStage opens the span of a workflow stage.
func (t *Tracer) StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "stage "+stage, trace.WithAttributes(
		AttrStage.String(stage),
		AttrRunID.String(t.runID),
	))
}

// EndStage records the stage outcome on span and ends it.
func EndStage(span trace.Span, outcome string) {
	span.SetAttributes(AttrOutcome.String(outcome))
	if outcome == "success" {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, "stage "+outcome)
	}
	span.End()
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}
