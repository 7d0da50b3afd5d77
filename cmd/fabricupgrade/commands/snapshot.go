package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openfroyo/fabricupgrade/pkg/config"
	"github.com/openfroyo/fabricupgrade/pkg/engine"
	"github.com/openfroyo/fabricupgrade/pkg/snapshot"
)

func newSnapshotCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture and compare fabric snapshots",
		Long: `A snapshot records the faults, fabric nodes and inter-pod IS-IS routes
of the fabric. Comparisons fail when a node or route disappeared or a new
fault violates the fault policy.`,
	}

	cmd.AddCommand(newSnapshotCreateCommand())
	cmd.AddCommand(newSnapshotCompareCommand())
	cmd.AddCommand(newSnapshotShowCommand())

	return cmd
}

func newSnapshotCreateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Replace the stored snapshot with the current fabric state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return a.runStages(ctx, engine.Stage{
					Name: "snapshot create",
					Run: func(ctx context.Context) engine.Outcome {
						return a.snapshots.Init(ctx, a.cfg.Timeouts.Snapshot.Duration())
					},
				})
			})
		},
	}
}

func newSnapshotCompareCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compare",
		Short: "Compare the fabric against the stored snapshot",
		Long: `Compare the fabric against the stored snapshot, retrying until every
comparison passes or the post_check timeout elapses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				exists, err := a.store.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("no snapshot stored in %s, run 'snapshot create' first", a.cfg.SnapshotFile)
				}
				return a.runStages(ctx, engine.Stage{
					Name: "snapshot compare",
					Run: func(ctx context.Context) engine.Outcome {
						return a.snapshots.Run(ctx, a.cfg.Timeouts.PostCheck.Duration())
					},
				})
			})
		},
	}
}

func newSnapshotShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Summarize the stored snapshot",
		Example: `  # Fault, node and route counts
  fabricupgrade snapshot show

  # The stored records
  fabricupgrade snapshot show --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := snapshot.Open(cmd.Context(), cfg.SnapshotBackend, cfg.SnapshotFile)
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := store.Load(cmd.Context())
			if errors.Is(err, snapshot.ErrNotFound) {
				return fmt.Errorf("no snapshot stored in %s", cfg.SnapshotFile)
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printSnapshot(cmd.OutOrStdout(), cfg.SnapshotFile, snap)
			return nil
		},
	}
}

func printSnapshot(w io.Writer, source string, snap *snapshot.Snapshot) {
	fmt.Fprintf(w, "Snapshot %s\n", source)
	fmt.Fprintf(w, "  faults:  %d\n", len(snap.Faults))

	bySeverity := make(map[string]int)
	for _, f := range snap.Faults {
		bySeverity[f.Get("severity")]++
	}
	severities := make([]string, 0, len(bySeverity))
	for s := range bySeverity {
		severities = append(severities, s)
	}
	sort.Strings(severities)
	for _, s := range severities {
		fmt.Fprintf(w, "    %-9s %d\n", s+":", bySeverity[s])
	}

	fmt.Fprintf(w, "  devices: %d\n", len(snap.Devices))
	fmt.Fprintf(w, "  routes:  %d\n", len(snap.Routes))
}
