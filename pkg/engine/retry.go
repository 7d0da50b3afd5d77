package engine

import (
	"context"
	"time"

	"github.com/openfroyo/fabricupgrade/pkg/telemetry"
)

// RetryPolicy bounds a retry loop.
type RetryPolicy struct {
	// Timeout is the total budget across all attempts. Zero or negative
	// means retry forever.
	Timeout time.Duration

	// Interval is the sleep between attempts.
	Interval time.Duration
}

// Unbounded returns true if the policy never times out.
func (p RetryPolicy) Unbounded() bool {
	return p.Timeout <= 0
}

// Deadline returns the absolute deadline for a loop started at start, or the
// zero time when the policy is unbounded.
func (p RetryPolicy) Deadline(start time.Time) time.Time {
	if p.Unbounded() {
		return time.Time{}
	}
	return start.Add(p.Timeout)
}

// RetryLoop drives operations until they resolve or their deadline passes.
// It owns the session it hands to operations and replaces it when it goes
// stale or is rejected.
type RetryLoop struct {
	acquirer *SessionAcquirer
	interval time.Duration
	clock    Clock
	logger   *telemetry.Logger
	observer Observer

	session Session
}

// NewRetryLoop creates a retry loop that sleeps interval between attempts.
func NewRetryLoop(acquirer *SessionAcquirer, interval time.Duration, opts ...Option) *RetryLoop {
	s := newSettings(opts)
	return &RetryLoop{
		acquirer: acquirer,
		interval: interval,
		clock:    s.clock,
		logger:   s.logger.NewComponentLogger("retry"),
		observer: s.observer,
	}
}

// Policy returns a RetryPolicy for timeout using the loop interval.
func (l *RetryLoop) Policy(timeout time.Duration) RetryPolicy {
	return RetryPolicy{Timeout: timeout, Interval: l.interval}
}

// Deadline returns the absolute deadline for a budget starting now.
func (l *RetryLoop) Deadline(timeout time.Duration) time.Time {
	return l.Policy(timeout).Deadline(l.clock.Now())
}

// Run evaluates op until it succeeds, fails, or timeout elapses.
// A timeout of zero or less never expires.
func (l *RetryLoop) Run(ctx context.Context, name string, timeout time.Duration, op Operation) Outcome {
	return l.RunUntil(ctx, name, l.Deadline(timeout), op)
}

// RunUntil is Run with an absolute deadline, so several loops can share one
// stage budget. The zero deadline never expires.
func (l *RetryLoop) RunUntil(ctx context.Context, name string, deadline time.Time, op Operation) Outcome {
	logger := l.logger.WithField("operation", name)

	for attempt := 1; ; attempt++ {
		if l.session == nil || l.stale(l.session) {
			s, err := l.acquirer.Acquire(ctx, l.loginBudget(deadline))
			if err != nil {
				logger.WithError(err).Error("Unable to establish session")
				l.observer.AttemptFinished(name, Failure.String(), string(ErrorClassAuth))
				return Failure
			}
			l.session = s
		}

		outcome, err := op(ctx, l.session)
		switch {
		case err != nil:
			class := ClassOf(err)
			l.observer.AttemptFinished(name, Pending.String(), string(class))
			switch class {
			case ErrorClassAuth:
				logger.WithError(err).Debug("Authentication error. Attempting login...")
				l.session = nil
			case ErrorClassTransient:
				logger.WithError(err).Debugf("Connection error. Trying again in %s...", l.interval)
			default:
				logger.WithError(err).Debugf("Unexpected error. Trying again in %s...", l.interval)
			}

		case outcome == Success:
			l.observer.AttemptFinished(name, outcome.String(), "")
			logger.WithField("attempt", attempt).Debug("Operation succeeded")
			return Success

		case outcome == Pending:
			l.observer.AttemptFinished(name, outcome.String(), "")
			logger.WithField("attempt", attempt).Debugf("In progress. Checking again in %s...", l.interval)

		default:
			if verr := outcome.Validate(); verr != nil {
				logger.WithError(verr).Error("Operation returned an invalid outcome")
			}
			l.observer.AttemptFinished(name, Failure.String(), "")
			logger.WithField("attempt", attempt).Warn("Operation failed")
			return Failure
		}

		if err := l.clock.Sleep(ctx, l.interval); err != nil {
			logger.WithError(err).Warn("Interrupted while waiting to retry")
			return Failure
		}
		// The deadline itself is inclusive: an attempt landing exactly on it still runs.
		if !deadline.IsZero() && l.clock.Now().After(deadline) {
			logger.WithField("attempts", attempt).Error("Exceeded retry timeout")
			return Failure
		}
	}
}

// Session returns the session currently held by the loop, if any.
func (l *RetryLoop) Session() Session {
	return l.session
}

// Reset drops the held session so the next attempt logs in again.
func (l *RetryLoop) Reset() {
	l.session = nil
}

func (l *RetryLoop) stale(s Session) bool {
	exp := s.ExpiresAt()
	return !exp.IsZero() && !l.clock.Now().Before(exp)
}

// loginBudget converts the loop deadline into an Acquire timeout.
func (l *RetryLoop) loginBudget(deadline time.Time) time.Duration {
	if deadline.IsZero() {
		return 0
	}
	remaining := deadline.Sub(l.clock.Now())
	if remaining <= 0 {
		return AttemptOnce
	}
	return remaining
}
