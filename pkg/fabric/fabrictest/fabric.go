// Package fabrictest provides an in-memory controller for tests.
package fabrictest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
)

// Epoch is the start time of every Clock.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Request is a recorded raw call.
type Request struct {
	Method string
	Path   string
	Body   interface{}
}

// Query is a recorded class or object query.
type Query struct {
	Class string
	DN    string
	Query engine.Query
}

// Fabric answers queries from canned records. The zero value is not usable;
// use New.
type Fabric struct {
	mu sync.Mutex

	classes  map[string][][]engine.Attributes
	filtered map[string][]engine.Attributes
	objects  map[string][]engine.Attributes
	errs     map[string][]error

	// OnRequest decides the status of raw requests. Nil answers 200.
	OnRequest func(r Request) int

	Requests []Request
	Queries  []Query
	Logins   int
}

// New returns an empty fabric.
func New() *Fabric {
	return &Fabric{
		classes:  make(map[string][][]engine.Attributes),
		filtered: make(map[string][]engine.Attributes),
		objects:  make(map[string][]engine.Attributes),
		errs:     make(map[string][]error),
	}
}

// Set replaces the records of class.
func (f *Fabric) Set(class string, records ...engine.Attributes) *Fabric {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classes[class] = [][]engine.Attributes{records}
	return f
}

// Script makes successive queries of class return successive steps. The
// last step repeats.
func (f *Fabric) Script(class string, steps ...[]engine.Attributes) *Fabric {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classes[class] = steps
	return f
}

// SetFiltered answers class queries carrying exactly filter.
func (f *Fabric) SetFiltered(class, filter string, records ...engine.Attributes) *Fabric {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filtered[class+"?"+filter] = records
	return f
}

// SetObject answers object queries for class under dn.
func (f *Fabric) SetObject(dn, class string, records ...engine.Attributes) *Fabric {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[dn+"|"+class] = records
	return f
}

// Fail makes the next queries of class return errs, one per query.
func (f *Fabric) Fail(class string, errs ...error) *Fabric {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[class] = append(f.errs[class], errs...)
	return f
}

// RequestsTo returns the recorded raw requests to path.
func (f *Fabric) RequestsTo(path string) []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Request
	for _, r := range f.Requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// QueriesOf returns the recorded queries of class.
func (f *Fabric) QueriesOf(class string) []Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Query
	for _, q := range f.Queries {
		if q.Class == class {
			out = append(out, q)
		}
	}
	return out
}

func (f *Fabric) popErr(class string) error {
	errs := f.errs[class]
	if len(errs) == 0 {
		return nil
	}
	f.errs[class] = errs[1:]
	return errs[0]
}

func (f *Fabric) record(class, dn string, q *engine.Query) {
	rec := Query{Class: class, DN: dn}
	if q != nil {
		rec.Query = *q
	}
	f.Queries = append(f.Queries, rec)
}

// GetClass implements engine.Querier.
func (f *Fabric) GetClass(_ context.Context, class string, q *engine.Query) ([]engine.Attributes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(class, "", q)
	if err := f.popErr(class); err != nil {
		return nil, err
	}

	if q != nil && q.Filter != "" {
		if records, ok := f.filtered[class+"?"+q.Filter]; ok {
			return records, nil
		}
	}
	steps := f.classes[class]
	if len(steps) == 0 {
		return nil, nil
	}
	current := steps[0]
	if len(steps) > 1 {
		f.classes[class] = steps[1:]
	}
	return current, nil
}

// GetObject implements engine.Querier.
func (f *Fabric) GetObject(_ context.Context, dn, class string, q *engine.Query) ([]engine.Attributes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(class, dn, q)
	if err := f.popErr(class); err != nil {
		return nil, err
	}
	return f.objects[dn+"|"+class], nil
}

// Count implements engine.Querier.
func (f *Fabric) Count(ctx context.Context, class string) (int, error) {
	records, err := f.GetClass(ctx, class, nil)
	return len(records), err
}

// Request implements engine.Querier.
func (f *Fabric) Request(_ context.Context, method, path string, body interface{}) (int, error) {
	f.mu.Lock()
	r := Request{Method: method, Path: path, Body: body}
	f.Requests = append(f.Requests, r)
	hook := f.OnRequest
	f.mu.Unlock()

	if hook == nil {
		return http.StatusOK, nil
	}
	return hook(r), nil
}

// ID implements engine.Session.
func (f *Fabric) ID() string { return "fabrictest" }

// IssuedAt implements engine.Session.
func (f *Fabric) IssuedAt() time.Time { return time.Time{} }

// ExpiresAt implements engine.Session.
func (f *Fabric) ExpiresAt() time.Time { return time.Time{} }

// NewSession implements engine.SessionFactory and always succeeds.
func (f *Fabric) NewSession(context.Context) (engine.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Logins++
	return f, nil
}

// Clock is a fake engine.Clock whose Sleep advances time immediately.
type Clock struct {
	*testingclock.FakeClock
	Sleeps int
}

// NewClock returns a clock set to Epoch.
func NewClock() *Clock {
	return &Clock{FakeClock: testingclock.NewFakeClock(Epoch)}
}

// Sleep implements engine.Clock.
func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	c.Sleeps++
	c.Step(d)
	return nil
}

// Elapsed returns the time advanced since Epoch.
func (c *Clock) Elapsed() time.Duration {
	return c.Since(Epoch)
}

// NewLoop returns a retry loop over f that sleeps interval on clk.
func NewLoop(f *Fabric, clk *Clock, interval time.Duration, opts ...engine.Option) *engine.RetryLoop {
	opts = append([]engine.Option{engine.WithClock(clk)}, opts...)
	return engine.NewRetryLoop(engine.NewSessionAcquirer(f, interval, opts...), interval, opts...)
}

// Record builds attributes from alternating keys and values.
func Record(kv ...string) engine.Attributes {
	if len(kv)%2 != 0 {
		panic(fmt.Sprintf("fabrictest: odd number of arguments to Record: %d", len(kv)))
	}
	a := make(engine.Attributes, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		a[kv[i]] = kv[i+1]
	}
	return a
}
