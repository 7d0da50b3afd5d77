package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// Config selects where logs, spans, metrics and events of a run go.
type Config struct {
	ServiceName    string
	ServiceVersion string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the console and file log sinks.
type LoggingConfig struct {
	// Level and Format apply to the console sink. Format is console or json.
	Level  string
	Format string
	Output string // stdout or stderr

	// File receives every record at FileLevel or above as JSON lines. It is
	// truncated on start.
	File      string
	FileLevel string

	NoColor      bool
	EnableCaller bool
	TimeFormat   string // rfc3339, unix or unixms
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled  bool
	Exporter string // otlp, stdout or none
	Endpoint string // OTLP gRPC collector, host:port
	Headers  map[string]string
	Insecure bool

	SamplingRate       float64
	MaxExportBatchSize int
	ExportTimeout      time.Duration
}

// MetricsConfig configures the Prometheus collectors. Metrics are collected
// whenever Enabled is set and served only when ListenAddress is not empty.
type MetricsConfig struct {
	Enabled       bool
	ListenAddress string
	Path          string
	Namespace     string

	// DefaultHistogramBuckets are the stage duration buckets, in seconds.
	DefaultHistogramBuckets []float64
}

// EventsConfig configures the run journal.
type EventsConfig struct {
	Enabled     bool
	BufferSize  int
	EnableAsync bool
}

// DefaultConfig logs to the console and to upgrade.log, keeps tracing off
// and collects metrics without serving them.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "fabricupgrade",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			File:       "upgrade.log",
			FileLevel:  "debug",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			Headers:            map[string]string{},
			Insecure:           true,
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			Path:                    "/metrics",
			Namespace:               "fabricupgrade",
			DefaultHistogramBuckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
		},
	}
}

var (
	logLevels     = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	logFormats    = map[string]bool{"console": true, "json": true}
	spanExporters = map[string]bool{"otlp": true, "stdout": true, "none": true}
)

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}

	if !logLevels[c.Logging.Level] {
		errs = append(errs, fmt.Errorf("invalid log level: %q", c.Logging.Level))
	}
	if c.Logging.File != "" && c.Logging.FileLevel != "" && !logLevels[c.Logging.FileLevel] {
		errs = append(errs, fmt.Errorf("invalid file log level: %q", c.Logging.FileLevel))
	}
	if !logFormats[c.Logging.Format] {
		errs = append(errs, fmt.Errorf("invalid log format: %q, want console or json", c.Logging.Format))
	}

	if c.Tracing.Enabled {
		if !spanExporters[c.Tracing.Exporter] {
			errs = append(errs, fmt.Errorf("invalid trace exporter: %q", c.Tracing.Exporter))
		}
		if c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
			errs = append(errs, errors.New("otlp exporter requires an endpoint"))
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate must be within [0, 1], got %g", c.Tracing.SamplingRate))
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("event buffer size must be positive, got %d", c.Events.BufferSize))
	}
	return errors.Join(errs...)
}
