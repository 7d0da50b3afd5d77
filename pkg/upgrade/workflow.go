// Package upgrade drives the fabric upgrade: configuration backup, tech
// support export, the controller upgrade and the phased switch rollout,
// gated by snapshot comparisons and health checks.
package upgrade

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
	"github.com/openfroyo/fabricupgrade/pkg/telemetry"
)

// Timeouts are the per-stage budgets of the workflow.
type Timeouts struct {
	Connect           time.Duration
	Snapshot          time.Duration
	Health            time.Duration
	Backup            time.Duration
	TechSupport       time.Duration
	ControllerUpgrade time.Duration
	PostCheck         time.Duration
	PostHealth        time.Duration
	SwitchUpgrade     time.Duration
}

// DefaultTimeouts returns the stage budgets used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:           120 * time.Second,
		Snapshot:          120 * time.Second,
		Health:            120 * time.Second,
		Backup:            600 * time.Second,
		TechSupport:       600 * time.Second,
		ControllerUpgrade: 3600 * time.Second,
		PostCheck:         3600 * time.Second,
		PostHealth:        600 * time.Second,
		SwitchUpgrade:     3600 * time.Second,
	}
}

// Settings select what the workflow upgrades.
type Settings struct {
	BackupJob         string
	TechSupport       string
	ControllerVersion string
	SwitchVersion     string
	FirmwareGroups    []string
	Timeouts          Timeouts
}

// Snapshotter takes the pre-change snapshot and compares against it.
type Snapshotter interface {
	Init(ctx context.Context, timeout time.Duration) engine.Outcome
	Run(ctx context.Context, timeout time.Duration) engine.Outcome
}

// HealthChecker validates the fabric.
type HealthChecker interface {
	Run(ctx context.Context, timeout time.Duration) engine.Outcome
}

// Workflow is the full upgrade sequence.
type Workflow struct {
	Settings Settings
	Loop     *engine.RetryLoop
	Upgrader *Upgrader
	Snapshot Snapshotter
	Health   HealthChecker

	Logger    *telemetry.Logger
	Telemetry *telemetry.Telemetry

	// Options configure the pipeline.
	Options []engine.Option
}

// Stages returns the workflow stages in execution order.
func (w *Workflow) Stages() []engine.Stage {
	t := w.Settings.Timeouts
	stages := []engine.Stage{
		{Name: "connectivity check", Run: func(ctx context.Context) engine.Outcome {
			return w.connect(ctx, t.Connect)
		}},
		{Name: "pre-change snapshot", Run: func(ctx context.Context) engine.Outcome {
			return w.Snapshot.Init(ctx, t.Snapshot)
		}},
		{Name: "pre-change health", Run: func(ctx context.Context) engine.Outcome {
			return w.Health.Run(ctx, t.Health)
		}},
		{Name: "configuration backup", Run: func(ctx context.Context) engine.Outcome {
			return w.Upgrader.Backup(ctx, w.Settings.BackupJob, t.Backup)
		}},
		{Name: "tech support", Run: func(ctx context.Context) engine.Outcome {
			return w.Upgrader.TechSupport(ctx, w.Settings.TechSupport, t.TechSupport)
		}},
		{Name: "controller upgrade", Run: func(ctx context.Context) engine.Outcome {
			return w.Upgrader.UpgradeControllers(ctx, w.Settings.ControllerVersion, t.ControllerUpgrade)
		}},
		{Name: "post-upgrade comparison", Run: func(ctx context.Context) engine.Outcome {
			return w.Snapshot.Run(ctx, t.PostCheck)
		}},
		{Name: "post-upgrade health", Run: func(ctx context.Context) engine.Outcome {
			return w.Health.Run(ctx, t.PostHealth)
		}},
	}

	for _, group := range w.Settings.FirmwareGroups {
		stages = append(stages,
			engine.Stage{Name: group + " switch upgrade", Run: func(ctx context.Context) engine.Outcome {
				return w.Upgrader.UpgradeSwitches(ctx, group, w.Settings.SwitchVersion, t.SwitchUpgrade)
			}},
			engine.Stage{Name: group + " comparison", Run: func(ctx context.Context) engine.Outcome {
				return w.Snapshot.Run(ctx, t.PostCheck)
			}},
			engine.Stage{Name: group + " health", Run: func(ctx context.Context) engine.Outcome {
				return w.Health.Run(ctx, t.PostHealth)
			}},
		)
	}
	return stages
}

// connect succeeds once a session is established within timeout.
func (w *Workflow) connect(ctx context.Context, timeout time.Duration) engine.Outcome {
	return w.Loop.Run(ctx, "connectivity", timeout, func(ctx context.Context, s engine.Session) (engine.Outcome, error) {
		w.logger().WithField("session", s.ID()).Info("Connected to controller")
		return engine.Success, nil
	})
}

func (w *Workflow) logger() *telemetry.Logger {
	if w.Logger == nil {
		return telemetry.NewNopLogger()
	}
	return w.Logger
}

func (w *Workflow) clock() engine.Clock {
	if w.Upgrader == nil {
		return engine.RealClock()
	}
	return w.Upgrader.clock()
}

// Run executes every stage and returns a *engine.GatingError naming the
// stage that stopped the workflow.
func (w *Workflow) Run(ctx context.Context) error {
	stages := w.Stages()
	logger := w.logger()

	opts := append([]engine.Option{engine.WithLogger(logger)}, w.Options...)
	runID := ""
	if w.Telemetry != nil {
		runID = w.Telemetry.RunID()
		logger = logger.WithRunID(runID)
		opts = append(opts, engine.WithObserver(w.Telemetry))
		_ = w.Telemetry.Events.PublishWorkflowStarted(runID, len(stages))
	}

	clk := w.clock()
	start := clk.Now()
	err := engine.NewPipeline(opts...).Run(ctx, stages)
	duration := clk.Now().Sub(start)

	failed := ""
	var gerr *engine.GatingError
	if errors.As(err, &gerr) {
		failed = gerr.Stage
		logger.WithStage(failed).Errorf("Failed upgrade on %s.", failed)
	} else if err == nil {
		logger.Info("Upgrade workflow complete.")
	}

	if w.Telemetry != nil {
		_ = w.Telemetry.Events.PublishWorkflowCompleted(runID, failed, duration)
		w.Telemetry.Metrics.RecordWorkflowCompleted(outcomeLabel(err))
	}
	return err
}

func outcomeLabel(err error) string {
	if err != nil {
		return engine.Failure.String()
	}
	return engine.Success.String()
}
