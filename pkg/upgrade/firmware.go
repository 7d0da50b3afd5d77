package upgrade

import (
	"context"
	"time"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
)

// scheduleDateFormat is the timestamp layout of trigAbsWindowP.date.
const scheduleDateFormat = "2006-01-02T15:04:05.000+00:00"

// firmwareUpgrade describes one maintenance group rollout.
type firmwareUpgrade struct {
	operation string
	group     string
	target    string
	dn        string
	body      func() mo

	checking      string
	upToDate      string
	notStaged     string
	starting      string
	triggerFailed string
	succeeded     string
}

// ControllerVersion returns the firmware name of a controller release.
func ControllerVersion(version string) string {
	return "apic-" + version
}

// SwitchVersion returns the firmware name of a switch release.
func SwitchVersion(version string) string {
	return "n9000-" + version
}

// UpgradeControllers upgrades the controller cluster to version.
func (u *Upgrader) UpgradeControllers(ctx context.Context, version string, timeout time.Duration) engine.Outcome {
	target := ControllerVersion(version)
	return u.run(ctx, firmwareUpgrade{
		operation: "controller upgrade",
		group:     ControllerGroup,
		target:    target,
		dn:        "uni/controller",
		body: func() mo {
			now := u.clock().Now().UTC().Format(scheduleDateFormat)
			return newMO("ctrlrInst", map[string]string{"dn": "uni/controller", "status": "modified"},
				newMO("firmwareCtrlrFwP", map[string]string{
					"dn":      "uni/controller/ctrlrfwpol",
					"version": target,
				}),
				newMO("maintCtrlrMaintP", map[string]string{
					"dn":         "uni/controller/ctrlrmaintpol",
					"adminSt":    "triggered",
					"adminState": "up",
				}),
				newMO("trigSchedP", map[string]string{
					"dn":     "uni/controller/schedp-ConstSchedP",
					"status": "modified",
				},
					newMO("trigAbsWindowP", map[string]string{
						"dn":   "uni/controller/schedp-ConstSchedP/abswinp-ConstAbsWindowP",
						"date": now,
					}),
				),
			)
		},
		checking:      "Checking if upgrade is required for controllers...",
		upToDate:      "Controllers already running target code",
		notStaged:     version + " not in firmware repository",
		starting:      "Starting controller upgrade.",
		triggerFailed: "APIC upgrade failed",
		succeeded:     "APIC successfully upgraded.",
	}, timeout)
}

// UpgradeSwitches upgrades the switches of one firmware group to version.
func (u *Upgrader) UpgradeSwitches(ctx context.Context, group, version string, timeout time.Duration) engine.Outcome {
	target := SwitchVersion(version)
	dn := "uni/fabric/fwpol-" + group
	return u.run(ctx, firmwareUpgrade{
		operation: group + " switch upgrade",
		group:     group,
		target:    target,
		dn:        dn,
		body: func() mo {
			return newMO("firmwareFwP", map[string]string{"dn": dn, "version": target})
		},
		checking:      "Checking if upgrade is required for switches...",
		upToDate:      "Group already upgraded.",
		notStaged:     "Firmware not in firmware repository.",
		starting:      "Starting upgrade.",
		triggerFailed: "Failed to trigger upgrade",
		succeeded:     "Switches upgraded successfully.",
	}, timeout)
}

// run checks whether the group needs the upgrade, triggers it and waits for
// every member to finish. All steps share one deadline.
func (u *Upgrader) run(ctx context.Context, up firmwareUpgrade, timeout time.Duration) engine.Outcome {
	logger := u.logger().WithFields(map[string]interface{}{
		"group":   up.group,
		"version": up.target,
	})
	ctx = logger.WithContext(ctx)
	deadline := u.Loop.Deadline(timeout)

	var (
		group    *MaintenanceGroup
		upToDate bool
	)
	outcome := u.Loop.RunUntil(ctx, up.operation+" prepare", deadline, func(ctx context.Context, s engine.Session) (engine.Outcome, error) {
		g, err := NewMaintenanceGroup(ctx, s, up.group, up.target)
		if err != nil {
			return engine.Pending, err
		}

		logger.Info(up.checking)
		done, err := g.IsAlreadyUpgraded(ctx, s)
		if err != nil {
			return engine.Pending, err
		}
		if done {
			logger.Info(up.upToDate)
			upToDate = true
			return engine.Success, nil
		}

		logger.Info("Verifying firmware is in repository...")
		staged, err := g.IsFirmwareDownloaded(ctx, s)
		if err != nil {
			return engine.Pending, err
		}
		if !staged {
			logger.Error(up.notStaged)
			return engine.Failure, nil
		}

		logger.Info(up.starting)
		trigger, err := post(up.dn, up.body(), up.triggerFailed)(ctx, s)
		if err != nil || trigger != engine.Success {
			return trigger, err
		}
		group = g
		return engine.Success, nil
	})
	if outcome != engine.Success || upToDate {
		return outcome
	}

	outcome = u.Loop.RunUntil(ctx, up.operation+" verify", deadline, func(ctx context.Context, s engine.Session) (engine.Outcome, error) {
		return group.VerifyComplete(ctx, s)
	})
	if outcome == engine.Success {
		logger.Info(up.succeeded)
	}
	return outcome
}
