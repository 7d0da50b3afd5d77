package upgrade

import (
	"context"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
	"github.com/openfroyo/fabricupgrade/pkg/fabric"
	"github.com/openfroyo/fabricupgrade/pkg/telemetry"
	"github.com/openfroyo/fabricupgrade/pkg/transports/apic"
)

// ControllerGroup is the maintenance group holding every controller.
const ControllerGroup = "AllCtrlrs"

// MaintenanceGroup tracks the upgrade jobs of one firmware group. It holds no
// job state of its own; every check polls the controller.
type MaintenanceGroup struct {
	Name          string
	TargetVersion string

	// ExpectedMembers is the job count seen when the group was created.
	// Nodes that reboot drop out of the job list until they are back.
	ExpectedMembers int
}

// NewMaintenanceGroup snapshots the current member count of the group.
func NewMaintenanceGroup(ctx context.Context, q engine.Querier, name, target string) (*MaintenanceGroup, error) {
	g := &MaintenanceGroup{Name: name, TargetVersion: target}
	jobs, err := g.jobs(ctx, q)
	if err != nil {
		return nil, err
	}
	g.ExpectedMembers = len(jobs)
	return g, nil
}

func (g *MaintenanceGroup) jobs(ctx context.Context, q engine.Querier) ([]fabric.MaintJob, error) {
	records, err := q.GetClass(ctx, fabric.ClassMaintUpgJob, &engine.Query{
		Filter: apic.Eq(fabric.ClassMaintUpgJob, "maintGrp", g.Name),
	})
	if err != nil {
		return nil, err
	}
	return fabric.DecodeAll[fabric.MaintJob](records)
}

// IsAlreadyUpgraded returns true if every job of the group finished at the
// target version. A group without jobs counts as upgraded.
func (g *MaintenanceGroup) IsAlreadyUpgraded(ctx context.Context, q engine.Querier) (bool, error) {
	jobs, err := g.jobs(ctx, q)
	if err != nil {
		return false, err
	}
	logger := telemetry.FromContext(ctx)
	for _, job := range jobs {
		logger.WithFields(map[string]interface{}{
			"current_version": job.DesiredVersion,
			"target_version":  g.TargetVersion,
			"group":           g.Name,
		}).Debug("Code status")
		if !job.Done(g.TargetVersion) {
			return false, nil
		}
	}
	return true, nil
}

// IsFirmwareDownloaded returns true if the target image is in the firmware
// repository.
func (g *MaintenanceGroup) IsFirmwareDownloaded(ctx context.Context, q engine.Querier) (bool, error) {
	records, err := q.GetClass(ctx, fabric.ClassFirmware, nil)
	if err != nil {
		return false, err
	}
	images, err := fabric.DecodeAll[fabric.Firmware](records)
	if err != nil {
		return false, err
	}
	for _, img := range images {
		if img.FullVersion == g.TargetVersion && img.Downloaded() {
			return true, nil
		}
	}
	return false, nil
}

// VerifyComplete reports Success once every expected member is back and
// finished at the target version. It never returns Failure.
func (g *MaintenanceGroup) VerifyComplete(ctx context.Context, q engine.Querier) (engine.Outcome, error) {
	jobs, err := g.jobs(ctx, q)
	if err != nil {
		return engine.Pending, err
	}

	logger := telemetry.FromContext(ctx).WithField("group", g.Name)
	outcome := engine.Success
	if len(jobs) < g.ExpectedMembers {
		logger.WithFields(map[string]interface{}{
			"online":   len(jobs),
			"expected": g.ExpectedMembers,
		}).Debug("Some devices are still offline.")
		outcome = engine.Pending
	}
	for _, job := range jobs {
		logger.WithFields(map[string]interface{}{
			"percent":        job.Progress,
			"node_id":        fabric.NodeID(job.DN),
			"status":         job.UpgradeStatus,
			"target_version": job.DesiredVersion,
		}).Debug("Upgrade status")
		if !job.Done(g.TargetVersion) {
			outcome = engine.Pending
		}
	}
	return outcome, nil
}
