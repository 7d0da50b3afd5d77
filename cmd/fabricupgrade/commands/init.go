package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/fabricupgrade/pkg/config"
)

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Long: `Write a starter configuration with every setting at its default value.
The password is left out: set FABRIC_PWD or enter it when prompted.`,
		Example: `  # Create config.yaml
  fabricupgrade init

  # Overwrite an existing file
  fabricupgrade init --force -c site-a.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().
				Str("config", configPath).
				Bool("force", force).
				Msg("Writing starter configuration")

			if err := config.WriteFile(configPath, config.Starter(), force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}
