package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Workflow and stage event types.
const (
	EventTypeWorkflowStarted   = "workflow.started"
	EventTypeWorkflowCompleted = "workflow.completed"
	EventTypeWorkflowFailed    = "workflow.failed"
	EventTypeStageStarted      = "stage.started"
	EventTypeStageCompleted    = "stage.completed"
	EventTypeStageFailed       = "stage.failed"
)

// Event levels, in increasing severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var eventSeverity = map[string]int{
	EventLevelInfo:    0,
	EventLevelWarning: 1,
	EventLevelError:   2,
}

// Event is one entry of the upgrade journal.
type Event struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Type      string        `json:"type"`
	Level     string        `json:"level"`
	RunID     string        `json:"run_id"`
	Stage     string        `json:"stage,omitempty"`
	Outcome   string        `json:"outcome,omitempty"`
	Stages    int           `json:"stages,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Message   string        `json:"message"`
}

// EventSubscriber receives published events.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should be delivered.
type EventFilter func(event Event) bool

// FilterByLevel accepts events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := eventSeverity[minLevel]
	return func(e Event) bool {
		return eventSeverity[e.Level] >= floor
	}
}

// FilterByType accepts events of the given types.
func FilterByType(types ...string) EventFilter {
	return func(e Event) bool {
		for _, t := range types {
			if e.Type == t {
				return true
			}
		}
		return false
	}
}

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher fans workflow events out to subscribers. Delivery happens
// on the publishing goroutine unless EnableAsync is set, in which case a
// single worker delivers events in publish order.
type EventPublisher struct {
	cfg EventsConfig

	mu      sync.RWMutex
	subs    []subscription
	filters []EventFilter

	queue  chan Event
	done   chan struct{}
	closed bool
}

// NewEventPublisher returns a publisher. A disabled publisher drops every
// event.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{cfg: cfg}
	if cfg.Enabled && cfg.EnableAsync {
		if cfg.BufferSize <= 0 {
			return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
		}
		ep.queue = make(chan Event, cfg.BufferSize)
		ep.done = make(chan struct{})
		go ep.worker()
	}
	return ep, nil
}

// Subscribe registers fn. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	ep.subs = append(ep.subs, subscription{fn: fn, filter: filter})
	ep.mu.Unlock()
}

// AddFilter drops events rejected by filter before any subscriber sees them.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	ep.filters = append(ep.filters, filter)
	ep.mu.Unlock()
}

// Publish stamps and delivers e.
func (ep *EventPublisher) Publish(e Event) error {
	if !ep.cfg.Enabled {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Level == "" {
		e.Level = EventLevelInfo
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, f := range ep.filters {
		if !f(e) {
			return nil
		}
	}

	if ep.queue == nil {
		ep.deliver(e)
		return nil
	}
	if ep.closed {
		return errors.New("event publisher stopped")
	}
	select {
	case ep.queue <- e:
		return nil
	default:
		return fmt.Errorf("event buffer full, dropped %s", e.Type)
	}
}

// deliver must be called with mu held for reading.
func (ep *EventPublisher) deliver(e Event) {
	for _, s := range ep.subs {
		if s.filter == nil || s.filter(e) {
			s.fn(e)
		}
	}
}

func (ep *EventPublisher) worker() {
	defer close(ep.done)
	for e := range ep.queue {
		ep.mu.RLock()
		ep.deliver(e)
		ep.mu.RUnlock()
	}
}

// Shutdown stops accepting events and waits until queued events have been
// delivered or ctx is done.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep.queue == nil {
		return nil
	}
	ep.mu.Lock()
	if !ep.closed {
		ep.closed = true
		close(ep.queue)
	}
	ep.mu.Unlock()

	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// PublishWorkflowStarted records the start of an upgrade run.
func (ep *EventPublisher) PublishWorkflowStarted(runID string, stages int) error {
	return ep.Publish(Event{
		Type:    EventTypeWorkflowStarted,
		RunID:   runID,
		Stages:  stages,
		Message: fmt.Sprintf("upgrade started with %d stages", stages),
	})
}

// PublishWorkflowCompleted records the end of an upgrade run. A non-empty
// failedStage names the stage that stopped it.
func (ep *EventPublisher) PublishWorkflowCompleted(runID, failedStage string, duration time.Duration) error {
	e := Event{
		Type:     EventTypeWorkflowCompleted,
		RunID:    runID,
		Duration: duration,
		Message:  "upgrade completed",
	}
	if failedStage != "" {
		e.Type = EventTypeWorkflowFailed
		e.Level = EventLevelError
		e.Stage = failedStage
		e.Message = "upgrade stopped at " + failedStage
	}
	return ep.Publish(e)
}

// PublishStageStarted records that a stage began.
func (ep *EventPublisher) PublishStageStarted(runID, stage string) error {
	return ep.Publish(Event{
		Type:    EventTypeStageStarted,
		RunID:   runID,
		Stage:   stage,
		Message: stage + " started",
	})
}

// PublishStageFinished records the outcome of a stage. Anything but success
// is an error level event.
func (ep *EventPublisher) PublishStageFinished(runID, stage, outcome string, duration time.Duration) error {
	e := Event{
		Type:     EventTypeStageCompleted,
		RunID:    runID,
		Stage:    stage,
		Outcome:  outcome,
		Duration: duration,
		Message:  stage + " resolved " + outcome,
	}
	if outcome != "success" {
		e.Type = EventTypeStageFailed
		e.Level = EventLevelError
	}
	return ep.Publish(e)
}

// LogEvents returns a subscriber writing events to the debug log.
func LogEvents(logger *Logger) EventSubscriber {
	return func(e Event) {
		fields := map[string]interface{}{
			"event_id":   e.ID,
			"event_type": e.Type,
		}
		if e.Stage != "" {
			fields["stage"] = e.Stage
		}
		if e.Outcome != "" {
			fields["outcome"] = e.Outcome
		}
		if e.Duration > 0 {
			fields["duration"] = e.Duration.String()
		}
		logger.WithFields(fields).Debug(e.Message)
	}
}
