// Package compose drafts outbound mail for each scenario: a model-backed
// composer when a language model is configured, otherwise fixed templates.
package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/daviddao/poflow/internal/types"
)

// ErrUnknownScenario is returned for scenarios without a brief or template.
var ErrUnknownScenario = errors.New("unknown email scenario")

// Signature closes every generated message.
const Signature = "Denicx Automation"

// Data is the fact bag a scenario draws on. Empty fields are omitted.
type Data struct {
	PONumber              string
	VendorName            string
	SupplierName          string
	BuyerName             string
	OriginalBody          string
	PromisedDeliveryDate  *time.Time
	AcceptedDeliveryDate  *time.Time
	RemainingDeliveryDate *time.Time
	PartialDecision       types.PartialDecision
	LineItems             []types.LineItem
	DiscrepancyReason     string
}

// Composer drafts a message for a scenario.
type Composer interface {
	Compose(ctx context.Context, scenario string, data Data) (Content, error)
}

// Content is a drafted message.
type Content struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Valid reports whether both parts are present.
func (c Content) Valid() bool {
	return strings.TrimSpace(c.Subject) != "" && strings.TrimSpace(c.Body) != ""
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return types.FormatDate(*t)
}

// FormatLineItems renders line items as a markdown list.
func FormatLineItems(items []types.LineItem) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("**Order Details:**\n")
	for _, it := range items {
		desc := it.Description
		if desc == "" {
			desc = "N/A"
		}
		fmt.Fprintf(&b, "- %s (Quantity: %s", desc, formatQty(it.Quantity))
		if it.Unit != "" {
			fmt.Fprintf(&b, " %s", it.Unit)
		}
		if it.UnitPrice != 0 {
			fmt.Fprintf(&b, ", Unit Price: %.2f", it.UnitPrice)
		}
		b.WriteString(")\n")
	}
	return b.String()
}

func formatQty(q float64) string {
	if q == float64(int64(q)) {
		return fmt.Sprintf("%d", int64(q))
	}
	return fmt.Sprintf("%g", q)
}

// decisionText describes a buyer decision in words.
func decisionText(d types.PartialDecision) string {
	switch d {
	case types.AcceptPartial:
		return "accept the partial shipment"
	case types.RejectPartial:
		return "reject the partial shipment"
	case types.WaitFull:
		return "wait for full availability"
	case types.SplitPO:
		return "split the purchase order"
	default:
		return string(d)
	}
}
