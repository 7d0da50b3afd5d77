package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	testingclock "k8s.io/utils/clock/testing"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock advances a fake clock instead of blocking.
type fakeClock struct {
	fc     *testingclock.FakeClock
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{fc: testingclock.NewFakeClock(epoch)}
}

func (c *fakeClock) Now() time.Time {
	return c.fc.Now()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	c.sleeps = append(c.sleeps, d)
	c.fc.Step(d)
	return nil
}

func (c *fakeClock) elapsed() time.Duration {
	return c.fc.Since(epoch)
}

// fakeSession is a session that answers nothing.
type fakeSession struct {
	id      string
	issued  time.Time
	expires time.Time
}

func (s *fakeSession) ID() string           { return s.id }
func (s *fakeSession) IssuedAt() time.Time  { return s.issued }
func (s *fakeSession) ExpiresAt() time.Time { return s.expires }

func (s *fakeSession) GetClass(context.Context, string, *Query) ([]Attributes, error) {
	return nil, nil
}

func (s *fakeSession) GetObject(context.Context, string, string, *Query) ([]Attributes, error) {
	return nil, nil
}

func (s *fakeSession) Count(context.Context, string) (int, error) {
	return 0, nil
}

func (s *fakeSession) Request(context.Context, string, string, interface{}) (int, error) {
	return 200, nil
}

// scriptedFactory fails the first failures logins and then hands out
// sessions valid for lifetime (zero lifetime never expires).
type scriptedFactory struct {
	clock    *fakeClock
	failures int
	lifetime time.Duration

	calls    int
	sessions []*fakeSession
}

func (f *scriptedFactory) NewSession(context.Context) (Session, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, NewTransientError("connection refused", errors.New("dial tcp"))
	}
	s := &fakeSession{id: fmt.Sprintf("session-%d", f.calls), issued: f.clock.Now()}
	if f.lifetime > 0 {
		s.expires = s.issued.Add(f.lifetime)
	}
	f.sessions = append(f.sessions, s)
	return s, nil
}

// scriptedOp replays outcomes in order and repeats the last one.
type scriptedOp struct {
	steps []step
	calls int
	seen  []Session
}

type step struct {
	outcome Outcome
	err     error
}

func (o *scriptedOp) run(_ context.Context, s Session) (Outcome, error) {
	o.seen = append(o.seen, s)
	i := o.calls
	if i >= len(o.steps) {
		i = len(o.steps) - 1
	}
	o.calls++
	return o.steps[i].outcome, o.steps[i].err
}

func pendingThenSuccess(n int) *scriptedOp {
	op := &scriptedOp{}
	for i := 0; i < n; i++ {
		op.steps = append(op.steps, step{outcome: Pending})
	}
	op.steps = append(op.steps, step{outcome: Success})
	return op
}

// recordingObserver remembers every notification.
type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	finished []string
	attempts []string
	logins   []bool
}

func (o *recordingObserver) StageStarted(ctx context.Context, stage string) context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, stage)
	return ctx
}

func (o *recordingObserver) StageFinished(_ context.Context, stage, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, stage+"="+outcome)
}

func (o *recordingObserver) AttemptFinished(operation, outcome, errClass string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, operation+":"+outcome+":"+errClass)
}

func (o *recordingObserver) LoginAttempted(ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logins = append(o.logins, ok)
}
