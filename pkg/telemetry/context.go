package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics and events. It implements the
// engine's lifecycle observer.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config

	runID         string
	metricsServer *http.Server
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// stageSpanKey is the context key for the active stage span.
type stageSpanKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, runID)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}
	events.Subscribe(LogEvents(logger.NewComponentLogger("events")), nil)

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
		runID:   runID,
	}, nil
}

// RunID identifies this process run in logs, events and spans.
func (t *Telemetry) RunID() string {
	return t.runID
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// StartMetricsServer serves metrics if a listen address is configured.
func (t *Telemetry) StartMetricsServer() {
	t.metricsServer = t.Metrics.StartMetricsServer(func(err error) {
		t.Logger.WithError(err).Warn("Metrics server stopped")
	})
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.metricsServer != nil {
		_ = t.metricsServer.Shutdown(ctx)
	}

	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	return t.Logger.Close()
}

// StageStarted opens a span for the stage and records it as active.
func (t *Telemetry) StageStarted(ctx context.Context, stage string) context.Context {
	ctx, span := t.Tracer.StartStage(ctx, stage)
	t.Metrics.RecordStageStarted(stage)
	_ = t.Events.PublishStageStarted(t.runID, stage)
	return context.WithValue(ctx, stageSpanKey{}, span)
}

// StageFinished closes the stage span and records the outcome.
func (t *Telemetry) StageFinished(ctx context.Context, stage, outcome string, duration time.Duration) {
	if span, ok := ctx.Value(stageSpanKey{}).(trace.Span); ok {
		EndStage(span, outcome)
	}
	t.Metrics.RecordStageCompleted(stage, outcome, duration)
	_ = t.Events.PublishStageFinished(t.runID, stage, outcome, duration)
}

// AttemptFinished records a retry loop evaluation.
func (t *Telemetry) AttemptFinished(operation, outcome, errClass string) {
	t.Metrics.RecordAttempt(operation, outcome, errClass)
}

// LoginAttempted records a login attempt.
func (t *Telemetry) LoginAttempted(ok bool) {
	t.Metrics.RecordLogin(ok)
}
