package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "config.yaml"

// EnvPassword overrides the pwd key.
const EnvPassword = "FABRIC_PWD"

// Seconds is a duration expressed in whole seconds in the file.
type Seconds int

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s) * time.Second
}

// Config is the upgrade configuration file.
type Config struct {
	IP       string `yaml:"ip" validate:"required"`
	User     string `yaml:"usr" validate:"required"`
	Password string `yaml:"pwd,omitempty"`

	LoginInterval Seconds `yaml:"login_interval" validate:"gt=0"`
	RetryInterval Seconds `yaml:"retry_interval" validate:"gt=0"`

	APICVersion    string   `yaml:"apic_version" validate:"required"`
	SwitchVersion  string   `yaml:"switch_version" validate:"required"`
	FirmwareGroups []string `yaml:"firmware_groups" validate:"unique,dive,required"`
	BackupJob      string   `yaml:"backup_job" validate:"required"`
	TechSupport    string   `yaml:"tech_support" validate:"required"`

	SnapshotFile    string `yaml:"snapshot_file" validate:"required"`
	SnapshotBackend string `yaml:"snapshot_backend" validate:"oneof=file sqlite"`

	Debug bool `yaml:"debug"`

	RefreshInterval Seconds `yaml:"refresh_interval" validate:"gt=0"`
	SessionLifetime Seconds `yaml:"session_lifetime" validate:"gte=0"`
	RequestTimeout  Seconds `yaml:"request_timeout" validate:"gt=0"`
	VerifyTLS       bool    `yaml:"verify_tls"`
	RateLimit       float64 `yaml:"rate_limit" validate:"gte=0"`

	Timeouts Timeouts `yaml:"timeouts"`
	Health   Health   `yaml:"health"`

	// FaultPolicy is a .rego file or directory replacing the built-in
	// critical fault policy.
	FaultPolicy string `yaml:"fault_policy,omitempty"`

	LogFile string `yaml:"log_file"`

	// HaltFile aborts the run when created.
	HaltFile string `yaml:"halt_file,omitempty"`

	Telemetry Telemetry `yaml:"telemetry"`
	Artifacts Artifacts `yaml:"artifacts"`
}

// Timeouts are the stage budgets.
type Timeouts struct {
	Connect           Seconds `yaml:"connect" validate:"gt=0"`
	Snapshot          Seconds `yaml:"snapshot" validate:"gt=0"`
	Health            Seconds `yaml:"health" validate:"gt=0"`
	Backup            Seconds `yaml:"backup" validate:"gt=0"`
	TechSupport       Seconds `yaml:"tech_support" validate:"gt=0"`
	ControllerUpgrade Seconds `yaml:"controller_upgrade" validate:"gt=0"`
	PostCheck         Seconds `yaml:"post_check" validate:"gt=0"`
	PostHealth        Seconds `yaml:"post_health" validate:"gt=0"`
	SwitchUpgrade     Seconds `yaml:"switch_upgrade" validate:"gt=0"`
}

// Health selects the health checks.
type Health struct {
	Disabled     []string      `yaml:"disabled,omitempty"`
	EnableNTP    bool          `yaml:"enable_ntp"`
	CustomChecks []CustomCheck `yaml:"custom_checks,omitempty" validate:"dive"`
}

// CustomCheck is a Starlark health check.
type CustomCheck struct {
	Name string `yaml:"name" validate:"required"`

	// Script is the path of the .star file.
	Script string `yaml:"script" validate:"required"`
}

// Telemetry configures metrics and tracing.
type Telemetry struct {
	MetricsAddr     string `yaml:"metrics_addr,omitempty"`
	TracingExporter string `yaml:"tracing_exporter" validate:"oneof=none stdout otlp"`
	TracingEndpoint string `yaml:"tracing_endpoint,omitempty" validate:"required_if=TracingExporter otlp"`
}

// Artifacts configures the download of tech support bundles over SFTP.
type Artifacts struct {
	Enabled bool `yaml:"enabled"`

	// Host defaults to ip.
	Host       string `yaml:"host,omitempty"`
	Port       int    `yaml:"port" validate:"gt=0,lte=65535"`
	User       string `yaml:"user,omitempty" validate:"required_if=Enabled true"`
	KeyFile    string `yaml:"key_file,omitempty"`
	Password   string `yaml:"password,omitempty"`
	KnownHosts string `yaml:"known_hosts,omitempty"`
	RemoteDir  string `yaml:"remote_dir" validate:"required_if=Enabled true"`
	LocalDir   string `yaml:"local_dir" validate:"required_if=Enabled true"`
}

// Default returns the configuration used for keys missing from the file.
func Default() *Config {
	return &Config{
		LoginInterval:   60,
		RetryInterval:   60,
		BackupJob:       "defaultOneTime",
		TechSupport:     "preupgrade",
		SnapshotFile:    "snapshot.json",
		SnapshotBackend: "file",
		RefreshInterval: 480,
		RequestTimeout:  5,
		Timeouts: Timeouts{
			Connect:           120,
			Snapshot:          120,
			Health:            120,
			Backup:            600,
			TechSupport:       600,
			ControllerUpgrade: 3600,
			PostCheck:         3600,
			PostHealth:        600,
			SwitchUpgrade:     3600,
		},
		LogFile: "upgrade.log",
		Telemetry: Telemetry{
			TracingExporter: "none",
		},
		Artifacts: Artifacts{
			Port:      22,
			RemoteDir: "/data/techsupport",
			LocalDir:  "artifacts",
		},
	}
}

// Starter returns the configuration written by init.
func Starter() *Config {
	cfg := Default()
	cfg.IP = "apic1.example.com"
	cfg.User = "admin"
	cfg.APICVersion = "6.0(5h)"
	cfg.SwitchVersion = "16.0(5h)"
	cfg.FirmwareGroups = []string{"odd", "even"}
	return cfg
}

// Parse validates data against the schema and decodes it over Default.
func Parse(filename string, data []byte) (*Config, error) {
	if err := ValidateSchema(filename, data); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
	}
	if cfg.Artifacts.Host == "" {
		cfg.Artifacts.Host = cfg.IP
	}
	return cfg, nil
}

// Load reads, parses and validates the file at path. FABRIC_PWD takes
// precedence over pwd.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	if pwd := os.Getenv(EnvPassword); pwd != "" {
		cfg.Password = pwd
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the decoded configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed on %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Marshal encodes c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile writes c to path. An existing file is only replaced with force.
func WriteFile(path string, c *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
