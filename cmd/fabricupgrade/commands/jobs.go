package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
)

func newBackupCommand() *cobra.Command {
	var job string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Trigger a configuration export and wait for it",
		Long: `Trigger the configuration export policy and wait until its latest job
reports success.`,
		Example: `  # Run the backup_job from the configuration
  fabricupgrade backup

  # Run another export policy
  fabricupgrade backup --job nightly`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if job == "" {
					job = a.cfg.BackupJob
				}
				return a.runStages(ctx, engine.Stage{
					Name: "configuration backup",
					Run: func(ctx context.Context) engine.Outcome {
						return a.upgrader.Backup(ctx, job, a.cfg.Timeouts.Backup.Duration())
					},
				})
			})
		},
	}

	cmd.Flags().StringVar(&job, "job", "", "export policy name (default: backup_job)")

	return cmd
}

func newTechSupportCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "tech-support",
		Short: "Trigger a tech support export and wait for it",
		Long: `Trigger the tech support export policy and wait until it reports success.
When artifacts are enabled the bundles are then copied over SFTP.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if name == "" {
					name = a.cfg.TechSupport
				}
				return a.runStages(ctx, engine.Stage{
					Name: "tech support",
					Run: func(ctx context.Context) engine.Outcome {
						return a.upgrader.TechSupport(ctx, name, a.cfg.Timeouts.TechSupport.Duration())
					},
				})
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "tech support policy name (default: tech_support)")

	return cmd
}
