// Package telemetry provides observability instrumentation for the fabric upgrade workflow.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and event publishing.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Logging.File = "upgrade.log"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Structured Logging
//
// Console output uses zerolog's ConsoleWriter. When Logging.File is set every
// record is also appended to that file as a JSON object, at Logging.FileLevel
// regardless of the console level:
//
//	logger := tel.Logger.NewComponentLogger("upgrade")
//	logger.WithField("group", "odd-leaves").Info("Starting upgrade")
//
// # Stage Instrumentation
//
// Telemetry implements the engine observer. Each pipeline stage gets a span
// ("stage <name>"), a duration histogram sample, an outcome counter and a pair of
// stage.started / stage.completed (or stage.failed) events:
//
//	pipeline := engine.NewPipeline(engine.WithObserver(tel), engine.WithLogger(tel.Logger))
//
// Metrics are exposed over HTTP only when Metrics.ListenAddress is set.
// Events are also written to the debug log, so the log file carries the
// full stage journal of a run.
package telemetry
