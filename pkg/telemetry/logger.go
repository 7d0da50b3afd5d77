package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a zerolog logger that may own a log file.
type Logger struct {
	zlog   zerolog.Logger
	closer io.Closer
}

type loggerContextKey struct{}

// NewLogger builds a logger writing to the console at Level and, when File
// is set, to File at FileLevel as JSON lines.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	setTimeFieldFormat(cfg.TimeFormat)

	consoleLevel := parseLogLevel(cfg.Level, zerolog.InfoLevel)
	sinks := []io.Writer{levelSink(consoleWriter(cfg), consoleLevel)}
	lowest := consoleLevel

	var closer io.Closer
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, err
		}
		closer = file

		fileLevel := parseLogLevel(cfg.FileLevel, zerolog.DebugLevel)
		sinks = append(sinks, levelSink(file, fileLevel))
		lowest = min(lowest, fileLevel)
	}

	zctx := zerolog.New(zerolog.MultiLevelWriter(sinks...)).Level(lowest).With().Timestamp()
	if cfg.EnableCaller {
		zctx = zctx.Caller()
	}
	return &Logger{zlog: zctx.Logger(), closer: closer}, nil
}

func consoleWriter(cfg LoggingConfig) io.Writer {
	out := io.Writer(os.Stderr)
	if cfg.Output == "stdout" {
		out = os.Stdout
	}
	if cfg.Format == "json" {
		return out
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen, NoColor: cfg.NoColor}
}

func levelSink(w io.Writer, level zerolog.Level) io.Writer {
	return &zerolog.FilteredLevelWriter{Writer: zerolog.LevelWriterAdapter{Writer: w}, Level: level}
}

func setTimeFieldFormat(format string) {
	switch format {
	case "unix":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	case "unixms":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	default:
		zerolog.TimeFieldFormat = time.RFC3339
	}
}

// parseLogLevel returns fallback for an empty or unknown level.
func parseLogLevel(level string, fallback zerolog.Level) zerolog.Level {
	if level == "" {
		return fallback
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil || l == zerolog.NoLevel {
		return fallback
	}
	return l
}

// NewLoggerFrom wraps an existing zerolog logger.
func NewLoggerFrom(zlog zerolog.Logger) *Logger {
	return &Logger{zlog: zlog}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Zerolog returns the underlying zerolog logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// NewComponentLogger creates a child logger for a specific component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.derive(l.zlog.With().Str("component", component).Logger())
}

// WithContext adds the logger to the context.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext retrieves the logger from the context.
// If no logger is found, it returns a logger that discards everything.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return NewNopLogger()
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return l.derive(ctx.Logger())
}

// WithField returns a logger with a single additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.derive(l.zlog.With().Interface(key, value).Logger())
}

// WithRunID adds a run_id field to the logger.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.WithField("run_id", runID)
}

// WithStage tags records with the workflow stage.
func (l *Logger) WithStage(stage string) *Logger {
	return l.WithField("stage", stage)
}

// WithError adds error information to the logger.
func (l *Logger) WithError(err error) *Logger {
	return l.derive(l.zlog.With().Err(err).Logger())
}

func (l *Logger) derive(zlog zerolog.Logger) *Logger {
	return &Logger{zlog: zlog, closer: l.closer}
}

// Debug logs a debug-level message.
func (l *Logger) Debug(msg string) {
	l.zlog.Debug().Msg(msg)
}

// Debugf logs a formatted debug-level message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Info logs an info-level message.
func (l *Logger) Info(msg string) {
	l.zlog.Info().Msg(msg)
}

// Infof logs a formatted info-level message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Warn logs a warning-level message.
func (l *Logger) Warn(msg string) {
	l.zlog.Warn().Msg(msg)
}

// Warnf logs a formatted warning-level message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

// Error logs an error-level message.
func (l *Logger) Error(msg string) {
	l.zlog.Error().Msg(msg)
}

// Errorf logs a formatted error-level message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}
