package engine

import (
	"context"
	"time"

	"k8s.io/utils/clock"
)

// Clock is the time source used by retry and login loops.
type Clock interface {
	Now() time.Time

	// Sleep blocks for d or until ctx is done, whichever comes first. An
	// interrupted Sleep returns the cancellation cause of ctx.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct {
	c clock.Clock
}

// NewClock adapts a k8s clock to the engine Clock.
func NewClock(c clock.Clock) Clock {
	return realClock{c: c}
}

// RealClock returns a Clock backed by the system time.
func RealClock() Clock {
	return NewClock(clock.RealClock{})
}

func (r realClock) Now() time.Time {
	return r.c.Now()
}

func (r realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return context.Cause(ctx)
	}
	t := r.c.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C():
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
