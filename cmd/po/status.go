package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/daviddao/poflow/internal/display"
	"github.com/daviddao/poflow/internal/flags"
	"github.com/daviddao/poflow/internal/types"
	"github.com/spf13/cobra"
)

type statusOutput struct {
	Counts    map[string]int   `json:"counts"`
	Attention []attentionEntry `json:"attention"`
}

type attentionEntry struct {
	PONumber string   `json:"po_number"`
	Status   string   `json:"status"`
	Reasons  []string `json:"reasons"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"st"},
	Short:   "Show PO counts per status and the orders needing attention",
	Long: `Show a snapshot of all purchase orders.

Counts every PO by status, then lists active orders that need a human:
overdue deliveries, missing delivery dates, payment holds, open
clarification requests and missing MTCs.

Examples:
  po status          # Overview
  po status --json   # Machine-readable output
  po st              # Short alias`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		counts, err := database.StatusCounts(ctx)
		if err != nil {
			return err
		}
		active, err := newStore().ListActive(ctx)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		out := statusOutput{Counts: counts, Attention: []attentionEntry{}}
		for _, po := range active {
			if reasons := attention(now, po); len(reasons) > 0 {
				out.Attention = append(out.Attention, attentionEntry{
					PONumber: po.PONumber,
					Status:   po.Status,
					Reasons:  reasons,
				})
			}
		}

		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), out)
		}

		w := cmd.OutOrStdout()
		if len(counts) == 0 {
			fmt.Fprintln(w, "No purchase orders yet. Add one with: po order add")
			return nil
		}
		display.Header(w, "Purchase orders")
		display.StatusCounts(w, counts)

		if len(out.Attention) == 0 {
			fmt.Fprintf(w, "\n%s\n", display.Success.Render("Nothing needs attention."))
			return nil
		}
		fmt.Fprintln(w)
		display.SubHeader(w, fmt.Sprintf("Needs attention (%d)", len(out.Attention)))
		for _, e := range out.Attention {
			fmt.Fprintf(w, "  %s %-14s %s\n", display.StatusDot(e.Status), e.PONumber,
				display.Muted.Render(strings.Join(e.Reasons, ", ")))
		}
		return nil
	},
}

// attention lists why a PO needs a human, if it does.
func attention(now time.Time, po *types.PurchaseOrder) []string {
	var reasons []string
	d := flags.Compute(now, po)
	if d.DeliveryDatePast {
		reasons = append(reasons, "delivery overdue")
	}
	if d.DeliveryDateMissing {
		reasons = append(reasons, "no delivery date")
	}
	if po.Flags.PaymentHold {
		reasons = append(reasons, "payment hold")
	}
	if po.Flags.NeedsInfo || po.Flags.ClarificationRequested {
		reasons = append(reasons, "clarification open")
	}
	if po.Flags.MTCNeeded && !po.Flags.MTCReceived {
		reasons = append(reasons, "MTC missing")
	}
	return reasons
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
