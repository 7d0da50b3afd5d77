package commands

import (
	"context"

	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full upgrade workflow",
		Long: `Run every upgrade stage in order:

  1. connectivity check
  2. pre-change snapshot (always freshly created)
  3. pre-change health
  4. configuration backup
  5. tech support
  6. controller upgrade
  7. post-upgrade comparison and health
  8. per firmware group: switch upgrade, comparison and health

The first stage that does not succeed stops the workflow and the command
exits with status 1. Create the configured halt_file, or send SIGINT, to
abort at the next retry.`,
		Example: `  # Upgrade with the default config.yaml
  fabricupgrade run

  # Exit immediately on the first failed stage
  fabricupgrade run --hard-gate -c site-a.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return a.workflow().Run(ctx)
			})
		},
	}

	return cmd
}
