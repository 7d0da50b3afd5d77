package commands

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/fabricupgrade/pkg/config"
	"github.com/openfroyo/fabricupgrade/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Validate the configuration without contacting the controller.

This command checks:
  - the file against the configuration schema
  - field values and cross-field rules
  - that custom health check scripts compile
  - that the fault policy compiles`,
		Example: `  # Validate config.yaml
  fabricupgrade validate

  # Validate another file
  fabricupgrade validate -c site-b.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().Str("config", configPath).Msg("Validating configuration")

			cfg, err := config.Load(configPath)
			if err != nil {
				var serr *config.SchemaError
				if errors.As(err, &serr) {
					for _, v := range serr.Errors {
						log.Error().
							Str("path", v.Path).
							Int("line", v.Line).
							Msg(v.Message)
					}
				}
				return err
			}

			scripts, err := loadScripts(cfg.Health.CustomChecks)
			if err != nil {
				return err
			}

			if cfg.FaultPolicy != "" {
				pe, err := policy.NewEngine(log.Logger)
				if err != nil {
					return err
				}
				if err := pe.LoadPolicies(cmd.Context(), []string{cfg.FaultPolicy}); err != nil {
					return err
				}
			}

			log.Info().
				Str("apic_version", cfg.APICVersion).
				Str("switch_version", cfg.SwitchVersion).
				Strs("firmware_groups", cfg.FirmwareGroups).
				Int("custom_checks", len(scripts)).
				Msg("Configuration is valid")
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", configPath)
			return nil
		},
	}

	return cmd
}
