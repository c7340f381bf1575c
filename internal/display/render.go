package display

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/daviddao/poflow/internal/engine"
	"github.com/daviddao/poflow/internal/flags"
	"github.com/daviddao/poflow/internal/rules"
	"github.com/daviddao/poflow/internal/scheduler"
	"github.com/daviddao/poflow/internal/types"
)

// OutcomeLine renders one executed action.
func OutcomeLine(o engine.Outcome) string {
	var mark, tail string
	switch o.Status {
	case engine.StatusApplied:
		mark = Success.Render("✓")
		tail = o.Detail
	case engine.StatusFailed:
		mark = ErrStyle.Render("✗")
		tail = ErrStyle.Render(o.Error)
	default:
		mark = Dim.Render("·")
		tail = Dim.Render(string(o.Status))
	}
	line := fmt.Sprintf("%s %s", mark, o.Action)
	if o.Rule != "" {
		line += "  " + Muted.Render("("+o.Rule+")")
	}
	if tail != "" {
		line += "  " + tail
	}
	return line
}

// Result prints a decision cycle.
func Result(w io.Writer, res *engine.Result) {
	if res == nil {
		return
	}
	title := res.PONumber
	if title == "" {
		title = "(no PO)"
	}
	Header(w, title)

	if ev := res.Event; ev != nil {
		fmt.Fprintf(w, "  %s %s", Muted.Render("event:"), ev.Role)
		if ev.FromEmail != "" {
			fmt.Fprintf(w, " from %s", ev.FromEmail)
		}
		if len(ev.Intents) > 0 {
			fmt.Fprintf(w, "  intents=%s", strings.Join(ev.Intents, ","))
		}
		if len(ev.Keywords) > 0 {
			fmt.Fprintf(w, "  keywords=%s", strings.Join(ev.Keywords, ","))
		}
		fmt.Fprintln(w)
	}
	if res.Warning != "" {
		fmt.Fprintf(w, "  %s %s\n", Warn.Render("!"), res.Warning)
	}
	if res.Skipped {
		fmt.Fprintf(w, "  %s\n", Dim.Render("skipped"))
	}
	if len(res.Outcomes) == 0 && res.Warning == "" && !res.Skipped {
		fmt.Fprintf(w, "  %s\n", Dim.Render("no action"))
	}
	for _, o := range res.Outcomes {
		fmt.Fprintf(w, "  %s\n", OutcomeLine(o))
	}
}

// POLine renders a PO as one list row.
func POLine(po *types.PurchaseOrder) string {
	party := po.SupplierName
	if party == "" {
		party = po.SupplierEmail
	}
	return fmt.Sprintf("%s %s %s %s  %s",
		StatusDot(po.Status),
		Bold.Render(fmt.Sprintf("%-18s", po.PONumber)),
		StatusLabel(po.Status),
		Truncate(party, 28),
		Dim.Render("due "+Date(po.ExpectedDeliveryDate)))
}

// PODetail prints a PO with its flags and thread.
func PODetail(w io.Writer, po *types.PurchaseOrder, now time.Time) {
	fmt.Fprintf(w, "%s %s  %s\n", StatusDot(po.Status), Bold.Render(po.PONumber), po.Status)
	Field(w, "buyer", party(po.BuyerName, po.BuyerEmail))
	Field(w, "supplier", party(po.SupplierName, po.SupplierEmail))
	Field(w, "order date", Date(po.OrderDate))
	Field(w, "expected delivery", Date(po.ExpectedDeliveryDate))
	if po.AcceptedDeliveryDate != nil || po.RemainingDeliveryDate != nil {
		Field(w, "accepted delivery", Date(po.AcceptedDeliveryDate))
		Field(w, "remaining delivery", Date(po.RemainingDeliveryDate))
	}
	if po.ReplyETA != nil {
		Field(w, "reply due", Since(*po.ReplyETA, now))
	}
	if set := setFlags(po.Flags); len(set) > 0 {
		Field(w, "flags", strings.Join(set, ", "))
	}

	if len(po.LineItems) > 0 {
		fmt.Fprintln(w)
		SubHeader(w, "Line items")
		for _, it := range po.LineItems {
			fmt.Fprintf(w, "  - %s  %g %s\n", it.Description, it.Quantity, it.Unit)
		}
	}

	if len(po.Thread) > 0 {
		fmt.Fprintln(w)
		SubHeader(w, fmt.Sprintf("Thread (%d)", len(po.Thread)))
		for i, m := range po.Thread {
			connector := "├─"
			switch {
			case len(po.Thread) == 1:
				connector = "└─"
			case i == 0:
				connector = "┌─"
			case i == len(po.Thread)-1:
				connector = "└─"
			}
			ThreadTree(w, connector, m, now)
		}
	}
}

func party(name, email string) string {
	switch {
	case name != "" && email != "":
		return fmt.Sprintf("%s <%s>", name, email)
	case email != "":
		return email
	case name != "":
		return name
	default:
		return Dim.Render("-")
	}
}

func setFlags(f types.Flags) []string {
	probe := map[string]bool{
		types.FlagMTCNeeded:              f.MTCNeeded,
		types.FlagMTCReceived:            f.MTCReceived,
		types.FlagPaymentHold:            f.PaymentHold,
		types.FlagNeedsInfo:              f.NeedsInfo,
		types.FlagAwaitingAcknowledgment: f.AwaitingAcknowledgment,
		types.FlagOverdue:                f.Overdue,
		types.FlagPartialAvailability:    f.PartialAvailability,
		types.FlagClarificationRequested: f.ClarificationRequested,
		types.FlagMTCPending:             f.MTCPending,
	}
	var out []string
	for _, name := range types.ValidFlags {
		if probe[name] {
			out = append(out, name)
		}
	}
	return out
}

// Flags prints the derived signals of a PO.
func Flags(w io.Writer, poNumber string, d flags.Snapshot) {
	Header(w, poNumber)
	Field(w, "delivery_date_past", yesNo(d.DeliveryDatePast))
	Field(w, "delivery_date_missing", yesNo(d.DeliveryDateMissing))
	Field(w, "hours_since_order", hours(d.HoursSinceOrder))
	silent := Dim.Render("none")
	if d.SupplierSilentOverSeconds != nil {
		silent = Span(time.Duration(*d.SupplierSilentOverSeconds * float64(time.Second)))
	}
	Field(w, "supplier_silent", silent)
	Field(w, "followup_sent", yesNo(d.NoResponseFollowupSent))
}

func yesNo(b bool) string {
	if b {
		return Success.Render("yes")
	}
	return Dim.Render("no")
}

func hours(h *float64) string {
	if h == nil {
		return Dim.Render("none")
	}
	return fmt.Sprintf("%.1f", *h)
}

// StatusCounts prints how many POs sit in each status.
func StatusCounts(w io.Writer, counts map[string]int) {
	names := make([]string, 0, len(counts))
	total := 0
	for name, n := range counts {
		names = append(names, name)
		total += n
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s %s %d\n", StatusDot(name), StatusLabel(name), counts[name])
	}
	fmt.Fprintf(w, "  %s %d\n", Muted.Render(fmt.Sprintf("%-26s", "total")), total)
}

// Issues prints catalog diagnostics.
func Issues(w io.Writer, c *rules.Catalog) {
	source := c.Path
	if source == "" {
		source = "built-in catalog"
	}
	if len(c.Issues) == 0 {
		fmt.Fprintf(w, "%s %s: %d rules, no issues\n", Success.Render("✓"), source, c.Len())
		return
	}
	Header(w, fmt.Sprintf("%s: %d rules, %d issues", source, c.Len(), len(c.Issues)))
	for _, issue := range c.Issues {
		mark := Warn.Render("!")
		if issue.Severity == rules.SeverityError {
			mark = ErrStyle.Render("✗")
		}
		fmt.Fprintf(w, "  %s %s\n", mark, issue)
	}
}

// Tick prints a scheduler pass.
func Tick(w io.Writer, rep *scheduler.TickReport) {
	fmt.Fprintf(w, "%s inbound=%d system=%d eta=%d mtc=%d",
		Bold.Render("tick"), rep.Inbound, rep.SystemChecks, rep.ETAChecks, rep.MTCChecks)
	if rep.Failures > 0 {
		fmt.Fprintf(w, " %s", ErrStyle.Render(fmt.Sprintf("failures=%d", rep.Failures)))
	}
	if rep.SystemSkipped {
		fmt.Fprintf(w, " %s", Dim.Render("(system checks not due)"))
	}
	if rep.RateLimited {
		fmt.Fprintf(w, " %s", Warn.Render("(rate limited)"))
	}
	fmt.Fprintln(w)
	for _, res := range rep.Results {
		Result(w, res)
	}
}
