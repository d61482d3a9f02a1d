package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/settlement-engine/api"
)

func init() {
	rootCmd.AddCommand(scenarioCmd)
	scenarioCmd.AddCommand(scenarioListCmd)
	scenarioCmd.AddCommand(scenarioLoadCmd)
}

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Seed the database with demo data",
}

// ─── scenario list ──────────────────────────────────────────────────────────

var scenarioListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available scenarios",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCATEGORY\tDESCRIPTION")
		for _, s := range api.Scenarios() {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Category, s.Description)
		}
		return tw.Flush()
	},
}

// ─── scenario load ──────────────────────────────────────────────────────────

var scenarioLoadCmd = &cobra.Command{
	Use:   "load SCENARIO_ID",
	Short: "Wipe the database and load a scenario",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, store, err := setup(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		h := api.NewHandler(store, store, logger, cfg.Tolerance())
		if err := h.ApplyScenario(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "loaded %s into %s\n", args[0], cfg.Database.Path)
		return nil
	},
}
