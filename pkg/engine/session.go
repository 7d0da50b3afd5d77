package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/fabricupgrade/pkg/telemetry"
)

// AttemptOnce makes Acquire try to log in exactly once.
const AttemptOnce time.Duration = -1

// SessionAcquirer logs in repeatedly until a session is established or the
// login budget is spent.
type SessionAcquirer struct {
	factory  SessionFactory
	interval time.Duration
	clock    Clock
	logger   *telemetry.Logger
	observer Observer
}

// NewSessionAcquirer creates an acquirer that sleeps interval between failed logins.
func NewSessionAcquirer(factory SessionFactory, interval time.Duration, opts ...Option) *SessionAcquirer {
	s := newSettings(opts)
	return &SessionAcquirer{
		factory:  factory,
		interval: interval,
		clock:    s.clock,
		logger:   s.logger.NewComponentLogger("session"),
		observer: s.observer,
	}
}

// Acquire returns a new session.
//
// A positive timeout bounds the total time spent logging in, zero retries
// until ctx is done and a negative timeout (see AttemptOnce) makes a single
// attempt. ErrLoginTimeout is returned once the budget is exhausted.
func (a *SessionAcquirer) Acquire(ctx context.Context, timeout time.Duration) (Session, error) {
	start := a.clock.Now()
	var lastErr error

	for attempt := 1; ; attempt++ {
		s, err := a.factory.NewSession(ctx)
		a.observer.LoginAttempted(err == nil)
		if err == nil {
			a.logger.WithField("session", s.ID()).WithField("attempt", attempt).Debug("Login successful")
			return s, nil
		}
		lastErr = err

		if timeout < 0 {
			return nil, fmt.Errorf("%w: %v", ErrLoginTimeout, lastErr)
		}

		a.logger.WithError(err).WithField("attempt", attempt).
			Debugf("Login failed. Trying again in %s...", a.interval)

		if err := a.clock.Sleep(ctx, a.interval); err != nil {
			return nil, err
		}
		if timeout > 0 && a.clock.Now().Sub(start) > timeout {
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrLoginTimeout, attempt, lastErr)
		}
	}
}
