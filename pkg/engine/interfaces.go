package engine

import (
	"context"
	"time"
)

// Attributes is a flat attribute record as returned by the controller API.
type Attributes map[string]string

// Get returns the named attribute or an empty string.
func (a Attributes) Get(key string) string {
	return a[key]
}

// DN returns the distinguished name of the record.
func (a Attributes) DN() string {
	return a["dn"]
}

// Query carries the optional query parameters understood by the controller API.
type Query struct {
	// Filter is a query-target-filter expression such as eq(cls.field,"v").
	Filter string

	// Target is the query-target scope (self, children, subtree).
	Target string

	// TargetSubtreeClass restricts the target scope to the given classes.
	TargetSubtreeClass string

	// SubtreeInclude is the rsp-subtree-include option (count, relations, ...).
	SubtreeInclude string

	// SubtreeClass is the rsp-subtree-class option.
	SubtreeClass string
}

// Querier is the remote query surface of the controller.
type Querier interface {
	// GetClass returns the attribute records of every object of the class.
	GetClass(ctx context.Context, class string, q *Query) ([]Attributes, error)

	// GetObject returns the records of the given class found at or under the
	// managed object identified by dn.
	GetObject(ctx context.Context, dn, class string, q *Query) ([]Attributes, error)

	// Count returns the number of objects of the class.
	Count(ctx context.Context, class string) (int, error)

	// Request issues a raw call against an API path and returns the HTTP status code.
	Request(ctx context.Context, method, path string, body interface{}) (int, error)
}

// Session is an authenticated handle to the controller.
type Session interface {
	Querier

	// ID identifies the session in logs.
	ID() string

	// IssuedAt is when the session was established.
	IssuedAt() time.Time

	// ExpiresAt is when the session must be replaced. The zero time means
	// the session never goes stale.
	ExpiresAt() time.Time
}

// SessionFactory establishes new sessions. Each call is a single login attempt.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

// SessionFactoryFunc adapts a function to the SessionFactory interface.
type SessionFactoryFunc func(ctx context.Context) (Session, error)

// NewSession calls f.
func (f SessionFactoryFunc) NewSession(ctx context.Context) (Session, error) {
	return f(ctx)
}

// Operation is a unit of work evaluated against a session.
// Remote failures are reported through the error, never as Failure.
type Operation func(ctx context.Context, s Session) (Outcome, error)

// Observer receives lifecycle notifications for metrics, tracing and events.
// Outcomes are passed as strings so implementations do not depend on this package.
type Observer interface {
	// StageStarted is called before a pipeline stage runs. The returned context
	// is passed to the stage.
	StageStarted(ctx context.Context, stage string) context.Context

	// StageFinished is called with the stage context once the stage resolved.
	StageFinished(ctx context.Context, stage, outcome string, duration time.Duration)

	// AttemptFinished is called after every evaluation inside a retry loop.
	// errClass is empty when the operation returned no error.
	AttemptFinished(operation, outcome, errClass string)

	// LoginAttempted is called after every login attempt.
	LoginAttempted(ok bool)
}

type nopObserver struct{}

func (nopObserver) StageStarted(ctx context.Context, _ string) context.Context { return ctx }
func (nopObserver) StageFinished(context.Context, string, string, time.Duration) {}
func (nopObserver) AttemptFinished(string, string, string)                      {}
func (nopObserver) LoginAttempted(bool)                                          {}
