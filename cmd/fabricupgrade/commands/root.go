package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/fabricupgrade/pkg/config"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
	hardGate   bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	serviceVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fabricupgrade",
		Short: "Staged, health-gated ACI fabric upgrades",
		Long: `fabricupgrade upgrades a Cisco ACI fabric through its APIC controllers.

Every stage is gated: the workflow snapshots faults, devices and inter-pod
routes, runs the health checks, backs up the configuration, exports tech
support, upgrades the controllers and then each switch firmware group,
comparing against the snapshot and re-checking health after every change.
The first stage that does not pass stops the upgrade.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&hardGate, "hard-gate", false, "exit the process as soon as a stage fails")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newSnapshotCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newBackupCommand())
	rootCmd.AddCommand(newTechSupportCommand())
	rootCmd.AddCommand(newUpgradeCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
