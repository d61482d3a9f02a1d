package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/settlement-engine/settlement"
)

func init() {
	rootCmd.AddCommand(driftCmd)
	driftCmd.AddCommand(driftScanCmd)
	driftCmd.AddCommand(driftFixCmd)

	driftScanCmd.Flags().String("tolerance", "", "Drift tolerance (default: [balance].tolerance)")
	driftScanCmd.Flags().Bool("fix", false, "Fix every drifted user after scanning")
}

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Detect and correct cached balance drift",
}

// ─── drift scan ─────────────────────────────────────────────────────────────

var driftScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List users whose cached balance drifted from the ledger",
	Args:  cobra.NoArgs,
	RunE:  runDriftScan,
}

func runDriftScan(cmd *cobra.Command, _ []string) error {
	cfg, logger, store, err := setup(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	tolerance := cfg.Tolerance()
	if v, _ := cmd.Flags().GetString("tolerance"); v != "" {
		if tolerance, err = decimal.NewFromString(v); err != nil {
			return fmt.Errorf("invalid --tolerance: %w", err)
		}
	}
	fix, _ := cmd.Flags().GetBool("fix")

	_, err = scanAndFix(cmd.Context(), store, logger, tolerance, fix, os.Stdout)
	return err
}

// scanAndFix lists drifted users and, when fix is set, corrects them. Listing
// and fixing share one tolerance so every listed user is fixable.
func scanAndFix(ctx context.Context, store settlement.TxStore, logger *slog.Logger, tolerance decimal.Decimal, fix bool, out io.Writer) (int, error) {
	calc := settlement.NewCalculator(store,
		settlement.WithTolerance(tolerance),
		settlement.WithCalculatorLogger(logger),
	)
	reports, err := calc.FindDriftedUsers(ctx, tolerance)
	if err != nil {
		return 0, err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tROLE\tSTORED\tCOMPUTED\tDRIFT\tDRIFT%")
	for _, r := range reports {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.UserID, r.Role, r.Stored.StringFixed(2), r.Computed.StringFixed(2),
			r.Drift.StringFixed(2), r.DriftPercent.String())
	}
	tw.Flush()
	fmt.Fprintf(out, "%d drifted user(s)\n", len(reports))

	if !fix {
		return 0, nil
	}
	fixed := 0
	for _, r := range reports {
		res, err := calc.FixBalanceDrift(ctx, r.UserID)
		if err != nil {
			return fixed, fmt.Errorf("fix user %d: %w", r.UserID, err)
		}
		if res.Fixed {
			fixed++
		}
	}
	fmt.Fprintf(out, "%d balance(s) fixed\n", fixed)
	return fixed, nil
}

// ─── drift fix ──────────────────────────────────────────────────────────────

var driftFixCmd = &cobra.Command{
	Use:   "fix USER_ID",
	Short: "Overwrite one user's cached balance with the computed value",
	Args:  cobra.ExactArgs(1),
	RunE:  runDriftFix,
}

func runDriftFix(cmd *cobra.Command, args []string) error {
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid USER_ID %q: %w", args[0], err)
	}

	cfg, logger, store, err := setup(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	calc := settlement.NewCalculator(store,
		settlement.WithTolerance(cfg.Tolerance()),
		settlement.WithCalculatorLogger(logger),
	)
	res, err := calc.FixBalanceDrift(cmd.Context(), settlement.UserID(userID))
	if err != nil {
		return err
	}

	if !res.Fixed {
		fmt.Fprintf(os.Stdout, "user %d within tolerance, balance %s unchanged\n", userID, res.Before.StringFixed(2))
		return nil
	}
	fmt.Fprintf(os.Stdout, "user %d balance %s -> %s\n", userID, res.Before.StringFixed(2), res.After.StringFixed(2))
	return nil
}
