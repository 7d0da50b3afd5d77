package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
)

func newUpgradeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade controllers or switches without the surrounding checks",
		Long: `Upgrade a single part of the fabric. Unlike run, these commands take no
snapshot and run no health checks.

An upgrade is skipped when every node already runs the target version and
refused when the target firmware is not downloaded to the controllers.`,
	}

	cmd.AddCommand(newUpgradeControllersCommand())
	cmd.AddCommand(newUpgradeSwitchesCommand())

	return cmd
}

func newUpgradeControllersCommand() *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "controllers",
		Short: "Upgrade the APIC cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if version == "" {
					version = a.cfg.APICVersion
				}
				return a.runStages(ctx, engine.Stage{
					Name: "controller upgrade",
					Run: func(ctx context.Context) engine.Outcome {
						return a.upgrader.UpgradeControllers(ctx, version, a.cfg.Timeouts.ControllerUpgrade.Duration())
					},
				})
			})
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "target version (default: apic_version)")

	return cmd
}

func newUpgradeSwitchesCommand() *cobra.Command {
	var (
		groups  []string
		version string
	)

	cmd := &cobra.Command{
		Use:   "switches",
		Short: "Upgrade switch firmware groups one after the other",
		Example: `  # Every group from firmware_groups
  fabricupgrade upgrade switches

  # A single group
  fabricupgrade upgrade switches --group odd`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if version == "" {
					version = a.cfg.SwitchVersion
				}
				if len(groups) == 0 {
					groups = a.cfg.FirmwareGroups
				}
				if len(groups) == 0 {
					return fmt.Errorf("no firmware groups given and firmware_groups is empty")
				}

				stages := make([]engine.Stage, 0, len(groups))
				for _, group := range groups {
					stages = append(stages, engine.Stage{
						Name: group + " switch upgrade",
						Run: func(ctx context.Context) engine.Outcome {
							return a.upgrader.UpgradeSwitches(ctx, group, version, a.cfg.Timeouts.SwitchUpgrade.Duration())
						},
					})
				}
				return a.runStages(ctx, stages...)
			})
		},
	}

	cmd.Flags().StringSliceVar(&groups, "group", nil, "firmware group to upgrade, repeatable (default: firmware_groups)")
	cmd.Flags().StringVar(&version, "version", "", "target version (default: switch_version)")

	return cmd
}
