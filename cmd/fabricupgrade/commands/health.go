package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
	"github.com/openfroyo/fabricupgrade/pkg/health"
)

func newHealthCommand() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Run the fabric health checks",
		Long: `Run the built-in health checks followed by the configured Starlark
checks, retrying until all pass, one fails or the health timeout elapses.

Checks can be skipped with health.disabled in the configuration. The NTP
check only runs when health.enable_ntp is set.`,
		Example: `  # Run the checks
  fabricupgrade health

  # List the built-in check names
  fabricupgrade health --list`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				for _, name := range health.Names() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}

			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return a.runStages(ctx, engine.Stage{
					Name: "health",
					Run: func(ctx context.Context) engine.Outcome {
						return a.checker.Run(ctx, a.cfg.Timeouts.Health.Duration())
					},
				})
			})
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "list the built-in checks and exit")

	return cmd
}
