package engine

import (
	"context"
	"fmt"

	"github.com/openfroyo/fabricupgrade/pkg/telemetry"
)

// Stage is one named step of a gated workflow. Run must resolve to Success
// or Failure; any retrying happens inside it.
type Stage struct {
	Name string
	Run  func(ctx context.Context) Outcome
}

// GatingError reports the stage that aborted a pipeline.
type GatingError struct {
	Stage   string
	Outcome Outcome

	// Err is set when the pipeline stopped because its context was done.
	Err error
}

// Error implements the error interface.
func (e *GatingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("workflow halted before stage %q: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("gating failure in stage %q", e.Stage)
}

// Unwrap returns the cancellation cause, if any.
func (e *GatingError) Unwrap() error {
	return e.Err
}

// Pipeline runs stages strictly in order and aborts at the first failure.
type Pipeline struct {
	clock    Clock
	logger   *telemetry.Logger
	observer Observer
	exit     func(code int)
}

// NewPipeline creates a pipeline.
func NewPipeline(opts ...Option) *Pipeline {
	s := newSettings(opts)
	return &Pipeline{
		clock:    s.clock,
		logger:   s.logger.NewComponentLogger("pipeline"),
		observer: s.observer,
		exit:     s.exit,
	}
}

// Run executes the stages. It returns nil when every stage succeeded and a
// *GatingError naming the first stage that did not.
func (p *Pipeline) Run(ctx context.Context, stages []Stage) error {
	for _, stage := range stages {
		logger := p.logger.WithStage(stage.Name)

		if err := ctx.Err(); err != nil {
			logger.WithError(err).Error("Workflow interrupted")
			return &GatingError{Stage: stage.Name, Outcome: Failure, Err: err}
		}

		logger.Info("Starting stage")
		stageCtx := p.observer.StageStarted(ctx, stage.Name)
		start := p.clock.Now()

		outcome := stage.Run(stageCtx)
		if outcome == Pending {
			logger.Error("Stage returned pending, treating as failure")
			outcome = Failure
		} else if err := outcome.Validate(); err != nil {
			logger.WithError(err).Error("Stage returned an invalid outcome, treating as failure")
			outcome = Failure
		}

		duration := p.clock.Now().Sub(start)
		p.observer.StageFinished(stageCtx, stage.Name, outcome.String(), duration)
		logger = logger.WithField("outcome", outcome.String()).WithField("duration", duration.String())

		if outcome != Success {
			logger.Error("Gating condition: halting workflow")
			if p.exit != nil {
				p.exit(1)
			}
			return &GatingError{Stage: stage.Name, Outcome: outcome}
		}
		logger.Info("Stage complete")
	}
	return nil
}
