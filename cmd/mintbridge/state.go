package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devblac/mintbridge/internal/bridge"
	"github.com/devblac/mintbridge/internal/config"
	"github.com/devblac/mintbridge/internal/storage"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the scan cursor and record counts per state",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		store, err := storage.Open(cfg.Store.DirPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		height, ok, err := store.LoadCursor(ctx)
		if err != nil {
			return err
		}
		if ok {
			fmt.Fprintf(out, "cursor: %d\n", height)
		} else {
			fmt.Fprintln(out, "cursor: none (fresh database)")
		}

		counts, err := store.CountByState(ctx)
		if err != nil {
			return err
		}
		total := 0
		for _, state := range []bridge.State{
			bridge.StateDiscovered, bridge.StateBuilding, bridge.StateBuilt,
			bridge.StateSubmitting, bridge.StateSubmitted, bridge.StateConfirmed, bridge.StateFailed,
		} {
			n := counts[state]
			total += n
			if n > 0 {
				fmt.Fprintf(out, "%-12s %d\n", state, n)
			}
		}
		fmt.Fprintf(out, "total: %d record(s)\n", total)
		return nil
	},
}
