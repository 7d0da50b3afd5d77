// Package health runs the point-in-time fabric health checks that gate each
// upgrade stage.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
	"github.com/openfroyo/fabricupgrade/pkg/fabric"
	"github.com/openfroyo/fabricupgrade/pkg/telemetry"
)

// Built-in check names.
const (
	CheckFirmwareDownload  = "firmware-download"
	CheckRunningFirmware   = "running-firmware"
	CheckMaintenanceGroups = "maintenance-groups"
	CheckFabricScale       = "fabric-scale"
	CheckSwitchScale       = "switch-scale"
	CheckTCAMScale         = "tcam-scale"
	CheckVPC               = "vpc"
	CheckAPICCluster       = "apic-cluster"
	CheckAPICInterfaces    = "apic-interfaces"
	CheckBackup            = "last-backup"
	CheckVCenter           = "vcenter"
	CheckDVS               = "dvs"
	CheckNTP               = "ntp"
)

// Checker evaluates the health checks through a retry loop.
type Checker struct {
	Loop   *engine.RetryLoop
	Clock  engine.Clock
	Logger *telemetry.Logger

	// Disabled lists built-in checks to skip.
	Disabled []string

	// EnableNTP adds the NTP sync check, which is off by default.
	EnableNTP bool

	// Scripts run after the built-in checks.
	Scripts []*ScriptCheck

	// Options are passed to the check registry.
	Options []engine.Option

	capMu    sync.Mutex
	capRules []fabric.CapRule
}

func (c *Checker) logger() *telemetry.Logger {
	if c.Logger == nil {
		return telemetry.NewNopLogger()
	}
	return c.Logger
}

func (c *Checker) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock.Now()
}

// Names returns every built-in check name in evaluation order.
func Names() []string {
	return []string{
		CheckFirmwareDownload,
		CheckRunningFirmware,
		CheckMaintenanceGroups,
		CheckFabricScale,
		CheckSwitchScale,
		CheckTCAMScale,
		CheckVPC,
		CheckAPICCluster,
		CheckAPICInterfaces,
		CheckBackup,
		CheckVCenter,
		CheckDVS,
		CheckNTP,
	}
}

func (c *Checker) builtins() map[string]engine.Operation {
	return map[string]engine.Operation{
		CheckFirmwareDownload:  c.checkFirmwareDownload,
		CheckRunningFirmware:   c.checkRunningFirmware,
		CheckMaintenanceGroups: c.checkMaintenanceGroups,
		CheckFabricScale:       c.checkFabricScale,
		CheckSwitchScale:       c.checkSwitchScale,
		CheckTCAMScale:         c.checkTCAMScale,
		CheckVPC:               c.checkVPC,
		CheckAPICCluster:       c.checkAPICCluster,
		CheckAPICInterfaces:    c.checkAPICInterfaces,
		CheckBackup:            c.checkBackup,
		CheckVCenter:           c.checkVCenter,
		CheckDVS:               c.checkDVS,
		CheckNTP:               c.checkNTP,
	}
}

// Registry builds the enabled checks in evaluation order.
func (c *Checker) Registry() (*engine.CheckRegistry, error) {
	ops := c.builtins()

	skip := make(map[string]bool, len(c.Disabled))
	for _, name := range c.Disabled {
		if _, ok := ops[name]; !ok {
			return nil, fmt.Errorf("unknown health check %q", name)
		}
		skip[name] = true
	}
	if !c.EnableNTP {
		skip[CheckNTP] = true
	}

	opts := append([]engine.Option{engine.WithLogger(c.logger())}, c.Options...)
	registry := engine.NewCheckRegistry("health check", opts...)
	for _, name := range Names() {
		if skip[name] {
			continue
		}
		if err := registry.Register(name, ops[name]); err != nil {
			return nil, err
		}
	}
	for _, script := range c.Scripts {
		if script.Logger == nil {
			script.Logger = c.logger()
		}
		if err := registry.Register(script.Name(), script.Run); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Run evaluates the checks until all pass, one fails, or timeout elapses.
func (c *Checker) Run(ctx context.Context, timeout time.Duration) engine.Outcome {
	logger := c.logger()

	registry, err := c.Registry()
	if err != nil {
		logger.WithError(err).Error("Unable to build health checks")
		return engine.Failure
	}

	// Limits change with the running firmware, so every run reads them again.
	c.capMu.Lock()
	c.capRules = nil
	c.capMu.Unlock()

	outcome := c.Loop.Run(ctx, "health", timeout, registry.RunAll)
	switch outcome {
	case engine.Success:
		logger.Info("Health check successful.")
	default:
		logger.Error("Health check failed.")
	}
	return outcome
}

// capabilityRules returns the scale limits, queried once per Run.
func (c *Checker) capabilityRules(ctx context.Context, s engine.Session) ([]fabric.CapRule, error) {
	c.capMu.Lock()
	defer c.capMu.Unlock()

	if c.capRules != nil {
		return c.capRules, nil
	}
	records, err := s.GetClass(ctx, fabric.ClassCapRule, nil)
	if err != nil {
		return nil, err
	}
	rules, err := fabric.DecodeAll[fabric.CapRule](records)
	if err != nil {
		return nil, err
	}
	c.capRules = rules
	return rules, nil
}
