package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/openfroyo/fabricupgrade/pkg/config"
	"github.com/openfroyo/fabricupgrade/pkg/engine"
	"github.com/openfroyo/fabricupgrade/pkg/health"
	"github.com/openfroyo/fabricupgrade/pkg/policy"
	"github.com/openfroyo/fabricupgrade/pkg/snapshot"
	"github.com/openfroyo/fabricupgrade/pkg/telemetry"
	"github.com/openfroyo/fabricupgrade/pkg/transports/apic"
	"github.com/openfroyo/fabricupgrade/pkg/transports/ssh"
	"github.com/openfroyo/fabricupgrade/pkg/upgrade"
)

// serviceVersion is reported in traces.
var serviceVersion = "dev"

// app holds everything a command needs to talk to the fabric.
type app struct {
	cfg       *config.Config
	tel       *telemetry.Telemetry
	logger    *telemetry.Logger
	loop      *engine.RetryLoop
	store     snapshot.Store
	snapshots *snapshot.Manager
	checker   *health.Checker
	upgrader  *upgrade.Upgrader

	policies *policy.Loader
	stopHalt func() error
}

// newApp loads the configuration and wires the controller client, the
// retry loop and the stage components. The returned context is cancelled
// when the halt file appears.
func newApp(ctx context.Context) (*app, context.Context, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, ctx, err
	}
	if err := cfg.PromptMissing(os.Stdin, os.Stderr); err != nil {
		return nil, ctx, err
	}

	tel, err := telemetry.NewTelemetry(telemetryConfig(cfg))
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	tel.StartMetricsServer()
	ctx = tel.WithContext(ctx)

	a := &app{cfg: cfg, tel: tel, logger: tel.Logger.WithRunID(tel.RunID())}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, ctx, err
	}

	if cfg.HaltFile != "" {
		haltCtx, stop, err := watchHaltFile(ctx, cfg.HaltFile, a.logger)
		if err != nil {
			_ = a.Close()
			return nil, ctx, err
		}
		ctx, a.stopHalt = haltCtx, stop
	}
	return a, ctx, nil
}

func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = serviceVersion

	if cfg.Debug || verbose {
		tcfg.Logging.Level = "debug"
	}
	if jsonOutput {
		tcfg.Logging.Format = "json"
	}
	tcfg.Logging.File = cfg.LogFile

	if exp := cfg.Telemetry.TracingExporter; exp != "" && exp != "none" {
		tcfg.Tracing.Enabled = true
		tcfg.Tracing.Exporter = exp
		tcfg.Tracing.Endpoint = cfg.Telemetry.TracingEndpoint
	}
	tcfg.Metrics.ListenAddress = cfg.Telemetry.MetricsAddr
	return tcfg
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	acfg := apic.DefaultConfig(cfg.IP, cfg.User, cfg.Password)
	acfg.VerifyTLS = cfg.VerifyTLS
	acfg.RequestTimeout = cfg.RequestTimeout.Duration()
	acfg.RefreshInterval = cfg.RefreshInterval.Duration()
	acfg.SessionLifetime = cfg.SessionLifetime.Duration()
	acfg.RateLimit = cfg.RateLimit

	client, err := apic.NewClient(acfg,
		apic.WithTracerProvider(a.tel.Tracer.Provider()),
		apic.WithLogger(a.logger.NewComponentLogger("apic")),
	)
	if err != nil {
		return fmt.Errorf("failed to create controller client: %w", err)
	}

	opts := []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithObserver(a.tel),
	}
	acquirer := engine.NewSessionAcquirer(client, cfg.LoginInterval.Duration(), opts...)
	a.loop = engine.NewRetryLoop(acquirer, cfg.RetryInterval.Duration(), opts...)

	a.store, err = snapshot.Open(ctx, cfg.SnapshotBackend, cfg.SnapshotFile)
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}

	gate, err := a.faultGate(ctx)
	if err != nil {
		return err
	}
	a.snapshots = &snapshot.Manager{
		Store:       a.store,
		Loop:        a.loop,
		Gate:        gate,
		Verbose:     verbose,
		Logger:      a.logger.NewComponentLogger("snapshot"),
		OnNewFaults: a.tel.Metrics.RecordNewFaults,
	}

	scripts, err := loadScripts(cfg.Health.CustomChecks)
	if err != nil {
		return err
	}
	a.checker = &health.Checker{
		Loop:      a.loop,
		Logger:    a.logger.NewComponentLogger("health"),
		Disabled:  cfg.Health.Disabled,
		EnableNTP: cfg.Health.EnableNTP,
		Scripts:   scripts,
	}

	a.upgrader = &upgrade.Upgrader{
		Loop:   a.loop,
		Logger: a.logger.NewComponentLogger("upgrade"),
	}
	if cfg.Artifacts.Enabled {
		transport, err := ssh.NewSSHClient(sshConfig(cfg.Artifacts), ssh.WithLogger(a.logger))
		if err != nil {
			return fmt.Errorf("failed to configure artifact download: %w", err)
		}
		a.upgrader.Artifacts = &upgrade.ArtifactDownload{
			Transport: transport,
			RemoteDir: cfg.Artifacts.RemoteDir,
			LocalDir:  cfg.Artifacts.LocalDir,
		}
	}
	return nil
}

// faultGate returns the policy engine deciding on new faults. Custom
// policies are reloaded when their files change.
func (a *app) faultGate(ctx context.Context) (*policy.Engine, error) {
	pe, err := policy.NewEngine(a.logger.Zerolog())
	if err != nil {
		return nil, err
	}
	if a.cfg.FaultPolicy == "" {
		return pe, nil
	}

	paths := []string{a.cfg.FaultPolicy}
	if err := pe.LoadPolicies(ctx, paths); err != nil {
		return nil, err
	}
	a.policies, err = pe.WatchPolicies(ctx, paths)
	if err != nil {
		a.logger.WithError(err).Warn("Fault policies will not be reloaded")
	}
	return pe, nil
}

func loadScripts(checks []config.CustomCheck) ([]*health.ScriptCheck, error) {
	scripts := make([]*health.ScriptCheck, 0, len(checks))
	for _, c := range checks {
		src, err := os.ReadFile(c.Script)
		if err != nil {
			return nil, fmt.Errorf("failed to read health check %s: %w", c.Name, err)
		}
		script, err := health.NewScriptCheck(c.Name, string(src))
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, script)
	}
	return scripts, nil
}

func sshConfig(a config.Artifacts) *ssh.Config {
	cfg := ssh.DefaultConfig(a.Host, a.User)
	cfg.Port = a.Port
	cfg.Password = a.Password
	cfg.KeyFile = a.KeyFile
	if a.KnownHosts != "" {
		cfg.KnownHosts = a.KnownHosts
	}
	return cfg
}

func timeouts(t config.Timeouts) upgrade.Timeouts {
	return upgrade.Timeouts{
		Connect:           t.Connect.Duration(),
		Snapshot:          t.Snapshot.Duration(),
		Health:            t.Health.Duration(),
		Backup:            t.Backup.Duration(),
		TechSupport:       t.TechSupport.Duration(),
		ControllerUpgrade: t.ControllerUpgrade.Duration(),
		PostCheck:         t.PostCheck.Duration(),
		PostHealth:        t.PostHealth.Duration(),
		SwitchUpgrade:     t.SwitchUpgrade.Duration(),
	}
}

// pipelineOptions are shared by the workflow and the single-stage commands.
func (a *app) pipelineOptions() []engine.Option {
	opts := []engine.Option{engine.WithObserver(a.tel)}
	if hardGate {
		opts = append(opts, engine.WithHardGate(os.Exit))
	}
	return opts
}

func (a *app) workflow() *upgrade.Workflow {
	return &upgrade.Workflow{
		Settings: upgrade.Settings{
			BackupJob:         a.cfg.BackupJob,
			TechSupport:       a.cfg.TechSupport,
			ControllerVersion: a.cfg.APICVersion,
			SwitchVersion:     a.cfg.SwitchVersion,
			FirmwareGroups:    a.cfg.FirmwareGroups,
			Timeouts:          timeouts(a.cfg.Timeouts),
		},
		Loop:      a.loop,
		Upgrader:  a.upgrader,
		Snapshot:  a.snapshots,
		Health:    a.checker,
		Logger:    a.logger,
		Telemetry: a.tel,
		Options:   a.pipelineOptions(),
	}
}

// runStages runs stages through a gating pipeline.
func (a *app) runStages(ctx context.Context, stages ...engine.Stage) error {
	opts := append([]engine.Option{engine.WithLogger(a.logger)}, a.pipelineOptions()...)
	return engine.NewPipeline(opts...).Run(ctx, stages)
}

type logouter interface {
	Logout(ctx context.Context) error
}

// Close logs out and releases the store, the watchers and telemetry.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if a.loop != nil {
		if s, ok := a.loop.Session().(logouter); ok {
			if err := s.Logout(ctx); err != nil {
				a.logger.WithError(err).Debug("Logout failed")
			}
		}
	}
	if a.stopHalt != nil {
		errs = append(errs, a.stopHalt())
	}
	if a.policies != nil {
		errs = append(errs, a.policies.StopWatching())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.tel.Shutdown(ctx))
	return errors.Join(errs...)
}

// withApp builds the app, runs fn and closes the app.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) (err error) {
	a, ctx, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}
