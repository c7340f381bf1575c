package main

import (
	"context"
	"fmt"
	"time"

	"github.com/daviddao/poflow/internal/display"
	"github.com/daviddao/poflow/internal/engine"
	"github.com/daviddao/poflow/internal/flags"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check KIND PO_NUMBER",
	Short: "Run a system, eta or mtc check for one purchase order",
	Long: `Run a single scheduled decision cycle for a PO without waiting for the
scheduler.

  system   evaluate the rule catalog against the PO's derived flags
  eta      follow up if the supplier's reply-ETA has lapsed
  mtc      remind the supplier about a missing Material Test Certificate`,
	Example: `  po check system PO-1042
  po check eta PO-1042 --json`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"system", "eta", "mtc"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}

		var run func(context.Context, string) (*engine.Result, error)
		switch args[0] {
		case "system":
			run = a.engine.ProcessSystemCheck
		case "eta":
			run = a.engine.ProcessETACheck
		case "mtc":
			run = a.engine.ProcessMTCCheck
		default:
			return fmt.Errorf("unknown check %q (want system, eta or mtc)", args[0])
		}

		res, err := run(ctx, args[1])
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		display.Result(cmd.OutOrStdout(), res)
		return nil
	},
}

var flagsCmd = &cobra.Command{
	Use:   "flags PO_NUMBER",
	Short: "Show the derived flags rules are evaluated against",
	Long: `Compute the time-derived flags of a PO as of now: whether the delivery
date is past or missing, hours since the order and how long the supplier
has been silent.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		po, err := newStore().Get(context.Background(), args[0])
		if err != nil {
			return err
		}

		snap := flags.Compute(time.Now().UTC(), po).Snapshot()
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), snap)
		}
		display.Flags(cmd.OutOrStdout(), po.PONumber, snap)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(flagsCmd)
}
