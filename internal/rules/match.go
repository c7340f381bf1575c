package rules

import (
	"slices"
	"strings"
	"time"

	"github.com/daviddao/poflow/internal/flags"
	"github.com/daviddao/poflow/internal/types"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Input is everything a predicate set is evaluated against.
type Input struct {
	Event *types.ClassifiedEvent
	PO    *types.PurchaseOrder
	Flags flags.Derived
}

// Evaluate returns the actions of the first rule that matches ev against
// po, each tagged with the rule name. It returns nil when the catalog is
// empty or nothing matches.
func (c *Catalog) Evaluate(ev *types.ClassifiedEvent, po *types.PurchaseOrder, now time.Time) []Step {
	if c.Len() == 0 || ev == nil {
		return nil
	}

	in := Input{Event: ev, PO: po, Flags: flags.Compute(now, po)}
	for i := range c.Rules {
		r := &c.Rules[i]
		if !r.Matches(in) {
			continue
		}
		steps := make([]Step, 0, len(r.Then))
		for _, a := range r.Then {
			steps = append(steps, Step{Rule: r.Name, Action: a})
		}
		return steps
	}
	return nil
}

// Matches reports whether every predicate of the rule holds for in.
//
// Scheduled checks arrive as system events; only rules that constrain
// from_role are eligible for them, so rules written for real mail do not
// fire on every sweep.
func (r *Rule) Matches(in Input) bool {
	w := &r.When
	ev := in.Event

	if ev.Role == types.RoleSystem && w.FromRole == nil {
		return false
	}
	if w.FromRole != nil && !slices.Contains(w.FromRole, string(ev.Role)) {
		return false
	}
	if w.Entity != nil && (ev.EntityName == "" || !slices.Contains(w.Entity, ev.EntityName)) {
		return false
	}

	status := ""
	if in.PO != nil {
		status = in.PO.Status
	}
	if w.StatusIn != nil && (status == "" || !slices.Contains(w.StatusIn, status)) {
		return false
	}
	if w.StatusNotIn != nil && status != "" && slices.Contains(w.StatusNotIn, status) {
		return false
	}
	if w.StatusIs != nil && status != *w.StatusIs {
		return false
	}

	if w.DeliveryDatePast != nil && *w.DeliveryDatePast != in.Flags.DeliveryDatePast {
		return false
	}
	if w.DeliveryDateMissing != nil && *w.DeliveryDateMissing != in.Flags.DeliveryDateMissing {
		return false
	}
	if w.SLAHoursOver != nil && !over(in.Flags.HoursSinceOrder, *w.SLAHoursOver) {
		return false
	}
	if w.SilentOverSeconds != nil && !over(in.Flags.SupplierSilentOverSeconds, *w.SilentOverSeconds) {
		return false
	}
	if w.NoResponseFollowup != nil && *w.NoResponseFollowup != in.Flags.NoResponseFollowupSent {
		return false
	}

	if w.KeywordsAny != nil && !keywordsMatch(w.KeywordsAny, ev) {
		return false
	}
	if w.IntentIn != nil && !intersectFold(w.IntentIn, ev.Intents) {
		return false
	}
	return true
}

// over is true only for a known value strictly above threshold.
func over(v fn.Option[float64], threshold float64) bool {
	known := false
	v.WhenSome(func(x float64) {
		known = x > threshold
	})
	return known
}

// keywordsMatch checks extracted keywords first and then falls back to a
// substring search, since the classifier may not capture every phrasing.
func keywordsMatch(want []string, ev *types.ClassifiedEvent) bool {
	if intersectFold(want, ev.Keywords) {
		return true
	}
	text := strings.ToLower(ev.Subject + "\n" + ev.Body)
	for _, k := range want {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func intersectFold(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(strings.TrimSpace(w), strings.TrimSpace(h)) {
				return true
			}
		}
	}
	return false
}
