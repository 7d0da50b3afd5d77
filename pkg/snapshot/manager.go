package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
	"github.com/openfroyo/fabricupgrade/pkg/telemetry"
)

// Manager creates the snapshot on first use and compares against it after.
type Manager struct {
	Store Store
	Loop  *engine.RetryLoop

	Gate        FaultGate
	Verbose     bool
	Logger      *telemetry.Logger
	OnNewFaults func(severity string, count int)

	// Options are passed to the comparison registry.
	Options []engine.Option
}

func (m *Manager) logger() *telemetry.Logger {
	if m.Logger == nil {
		return telemetry.NewNopLogger()
	}
	return m.Logger
}

// Init discards any stored snapshot and takes a fresh one.
func (m *Manager) Init(ctx context.Context, timeout time.Duration) engine.Outcome {
	if err := m.Store.Delete(ctx); err != nil {
		m.logger().WithError(err).Error("Unable to delete snapshot")
		return engine.Failure
	}
	return m.Run(ctx, timeout)
}

// Run takes a snapshot if none is stored. Otherwise it compares the fabric
// against the stored snapshot until every comparison passes or timeout
// elapses.
func (m *Manager) Run(ctx context.Context, timeout time.Duration) engine.Outcome {
	logger := m.logger()
	deadline := m.Loop.Deadline(timeout)

	previous, err := m.Store.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		logger.Info("Creating snapshot...")
		return m.create(ctx, deadline)
	}
	if err != nil {
		logger.WithError(err).Error("Unable to load snapshot")
		return engine.Failure
	}

	cmp := &Comparison{
		Previous:    previous,
		Gate:        m.Gate,
		Verbose:     m.Verbose,
		Logger:      logger,
		OnNewFaults: m.OnNewFaults,
	}
	registry, err := cmp.Registry(m.Options...)
	if err != nil {
		logger.WithError(err).Error("Unable to build comparisons")
		return engine.Failure
	}

	outcome := m.Loop.RunUntil(ctx, "snapshot compare", deadline, registry.RunAll)
	if outcome == engine.Success {
		logger.Info("Snapshot compare successful.")
	} else {
		logger.Error("Snapshot compare failed.")
	}
	return outcome
}

func (m *Manager) create(ctx context.Context, deadline time.Time) engine.Outcome {
	var snap *Snapshot
	outcome := m.Loop.RunUntil(ctx, "snapshot create", deadline, func(ctx context.Context, s engine.Session) (engine.Outcome, error) {
		var err error
		snap, err = Capture(ctx, s)
		if err != nil {
			return engine.Pending, err
		}
		return engine.Success, nil
	})
	if outcome != engine.Success {
		m.logger().Error("Unable to create snapshot")
		return outcome
	}

	if err := m.Store.Save(ctx, snap); err != nil {
		m.logger().WithError(err).Error("Unable to save snapshot")
		return engine.Failure
	}
	m.logger().WithFields(map[string]interface{}{
		"faults":  len(snap.Faults),
		"devices": len(snap.Devices),
		"routes":  len(snap.Routes),
	}).Info("Snapshot created")
	return engine.Success
}
