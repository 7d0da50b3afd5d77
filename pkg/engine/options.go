package engine

import (
	"github.com/openfroyo/fabricupgrade/pkg/telemetry"
)

type settings struct {
	clock    Clock
	logger   *telemetry.Logger
	observer Observer
	exit     func(code int)
}

// Option configures the loops, pipelines and registries of this package.
type Option func(*settings)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(s *settings) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(s *settings) {
		s.observer = o
	}
}

// WithHardGate makes a pipeline call exit(1) as soon as a stage fails,
// before the GatingError is returned. Only pipelines honour it.
func WithHardGate(exit func(code int)) Option {
	return func(s *settings) {
		s.exit = exit
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		clock:    RealClock(),
		logger:   telemetry.NewNopLogger(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = telemetry.NewNopLogger()
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	return s
}
