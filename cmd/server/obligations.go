package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/settlement-engine/settlement"
)

func init() {
	rootCmd.AddCommand(obligationsCmd)
	obligationsCmd.AddCommand(obligationsListCmd)
}

var obligationsCmd = &cobra.Command{
	Use:   "obligations",
	Short: "Inspect obligations",
}

var obligationsListCmd = &cobra.Command{
	Use:   "list SHOP_ID USER_ID",
	Short: "Print pending obligations in repayment order",
	Args:  cobra.ExactArgs(2),
	RunE:  runObligationsList,
}

func runObligationsList(cmd *cobra.Command, args []string) error {
	shopID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid SHOP_ID %q: %w", args[0], err)
	}
	userID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid USER_ID %q: %w", args[1], err)
	}

	_, logger, store, err := setup(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := settlement.NewService(store, settlement.WithLogger(logger))
	page, err := svc.ListObligations(cmd.Context(), settlement.ObligationFilter{
		ShopID: settlement.ShopID(shopID),
		UserID: settlement.UserID(userID),
		Status: settlement.StatusPending,
	}, 1, 1000)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tCREATED\tAMOUNT\tSETTLED\tOUTSTANDING\tDESCRIPTION")
	// Pages come newest-first; print oldest-first to match repayment order.
	for i := len(page.Items) - 1; i >= 0; i-- {
		v := page.Items[i]
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			v.ID, v.Kind, v.CreatedAt.Format("2006-01-02"), v.Amount.StringFixed(2),
			v.Settled.StringFixed(2), v.Outstanding.StringFixed(2), v.Description)
	}
	tw.Flush()
	fmt.Fprintf(os.Stdout, "%d pending, %d shown\n", page.Total, len(page.Items))
	return nil
}
