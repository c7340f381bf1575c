package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/daviddao/poflow/internal/display"
	"github.com/daviddao/poflow/internal/types"
	"github.com/spf13/cobra"
)

var (
	orderBuyerName     string
	orderBuyerEmail    string
	orderSupplierName  string
	orderSupplierEmail string
	orderDate          string
	orderExpected      string
	orderItems         []string
	orderMTC           bool
	orderNotify        bool
	orderListAll       bool
)

// orderCmd is the parent command for purchase-order records.
var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Purchase orders (add, show, list)",
}

var orderAddCmd = &cobra.Command{
	Use:   "add PO_NUMBER",
	Short: "Register a new purchase order",
	Long: `Register a purchase order so inbound mail can be tied to it.

Items are given as "description:quantity[:unit]" and may be repeated. With
--notify the initial order email is sent to the supplier and the rule
catalog runs once against the new PO.`,
	Example: `  po order add PO-1042 --supplier "Acme Steel" --supplier-email sales@acme.example \
      --buyer "Dana" --buyer-email dana@ourco.example --expected 2026-11-30 \
      --item "steel plate 10mm:40:pcs" --mtc --notify`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		po := &types.PurchaseOrder{
			PONumber:      strings.TrimSpace(args[0]),
			BuyerName:     orderBuyerName,
			BuyerEmail:    orderBuyerEmail,
			SupplierName:  orderSupplierName,
			SupplierEmail: orderSupplierEmail,
			Status:        types.StatusIssued,
		}
		po.Flags.MTCNeeded = orderMTC

		now := time.Now().UTC()
		po.OrderDate = &now
		if orderDate != "" {
			t, err := parseDay(orderDate)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}
			po.OrderDate = &t
		}
		if orderExpected != "" {
			t, err := parseDay(orderExpected)
			if err != nil {
				return fmt.Errorf("--expected: %w", err)
			}
			po.ExpectedDeliveryDate = &t
		}
		for _, raw := range orderItems {
			item, err := parseItem(raw)
			if err != nil {
				return err
			}
			po.LineItems = append(po.LineItems, item)
		}

		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		if err := a.store.Create(ctx, po); err != nil {
			return fmt.Errorf("create %s: %w", po.PONumber, err)
		}

		if !orderNotify {
			if jsonOutput {
				created, err := a.store.Get(ctx, po.PONumber)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), created)
			}
			if !quietFlag {
				display.SuccessMsg("Added %s", po.PONumber)
			}
			return nil
		}

		res, err := a.engine.ProcessNewPO(ctx, po.PONumber)
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

var orderShowCmd = &cobra.Command{
	Use:   "show PO_NUMBER",
	Short: "Show a purchase order with its thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		po, err := newStore().Get(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), po)
		}
		display.PODetail(cmd.OutOrStdout(), po, time.Now().UTC())
		return nil
	},
}

var orderListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List active purchase orders",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st := newStore()

		var pos []*types.PurchaseOrder
		var err error
		if orderListAll {
			pos, err = st.ListAll(ctx)
		} else {
			pos, err = st.ListActive(ctx)
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			if pos == nil {
				pos = []*types.PurchaseOrder{}
			}
			return writeJSON(cmd.OutOrStdout(), pos)
		}
		if len(pos) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No purchase orders.")
			return nil
		}
		for _, po := range pos {
			fmt.Fprintln(cmd.OutOrStdout(), display.POLine(po))
		}
		return nil
	},
}

func parseDay(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("want YYYY-MM-DD, got %q", s)
	}
	return t, nil
}

// parseItem reads "description:quantity[:unit]".
func parseItem(raw string) (types.LineItem, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 || strings.TrimSpace(parts[0]) == "" {
		return types.LineItem{}, fmt.Errorf("--item %q: want description:quantity[:unit]", raw)
	}
	qty, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || qty <= 0 {
		return types.LineItem{}, fmt.Errorf("--item %q: quantity must be a positive number", raw)
	}
	item := types.LineItem{Description: strings.TrimSpace(parts[0]), Quantity: qty}
	if len(parts) == 3 {
		item.Unit = strings.TrimSpace(parts[2])
	}
	return item, nil
}

func init() {
	orderAddCmd.Flags().StringVar(&orderBuyerName, "buyer", "", "Buyer name")
	orderAddCmd.Flags().StringVar(&orderBuyerEmail, "buyer-email", "", "Buyer email address")
	orderAddCmd.Flags().StringVar(&orderSupplierName, "supplier", "", "Supplier name")
	orderAddCmd.Flags().StringVar(&orderSupplierEmail, "supplier-email", "", "Supplier email address")
	orderAddCmd.Flags().StringVar(&orderDate, "date", "", "Order date YYYY-MM-DD (default: today)")
	orderAddCmd.Flags().StringVar(&orderExpected, "expected", "", "Expected delivery date YYYY-MM-DD")
	orderAddCmd.Flags().StringArrayVar(&orderItems, "item", nil, "Line item description:quantity[:unit] (repeatable)")
	orderAddCmd.Flags().BoolVar(&orderMTC, "mtc", false, "A Material Test Certificate is required")
	orderAddCmd.Flags().BoolVar(&orderNotify, "notify", false, "Send the initial order email and run the rules")

	orderListCmd.Flags().BoolVar(&orderListAll, "all", false, "Include closed, completed and cancelled orders")

	orderCmd.AddCommand(orderAddCmd)
	orderCmd.AddCommand(orderShowCmd)
	orderCmd.AddCommand(orderListCmd)
	rootCmd.AddCommand(orderCmd)
}
