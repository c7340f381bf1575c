// Package flags derives the temporal and behavioural signals that rule
// predicates test against a purchase order.
package flags

import (
	"strings"
	"time"

	"github.com/daviddao/poflow/internal/types"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Derived holds the signals computed for one PO at one instant. It is never
// stored; Compute rebuilds it on every cycle.
type Derived struct {
	DeliveryDatePast    bool
	DeliveryDateMissing bool

	// HoursSinceOrder is None when the PO has no order date.
	HoursSinceOrder fn.Option[float64]

	// SupplierSilentOverSeconds is None until something has been sent to
	// the supplier, and zero once the supplier has answered.
	SupplierSilentOverSeconds fn.Option[float64]

	// NoResponseFollowupSent is sticky: once a follow-up for silence has
	// been sent to the supplier it stays true.
	NoResponseFollowupSent bool
}

// Compute derives the flags of po as of now. It never fails and never
// modifies po.
func Compute(now time.Time, po *types.PurchaseOrder) Derived {
	var d Derived
	if po == nil {
		d.DeliveryDateMissing = true
		return d
	}

	now = now.UTC()

	if po.ExpectedDeliveryDate != nil {
		d.DeliveryDatePast = types.DateOf(*po.ExpectedDeliveryDate).Before(types.DateOf(now))
	} else {
		d.DeliveryDateMissing = true
	}

	if po.OrderDate != nil {
		d.HoursSinceOrder = fn.Some(now.Sub(*po.OrderDate).Hours())
	}

	s := scanSupplier(po)
	if s.firstOutbound == nil {
		d.SupplierSilentOverSeconds = fn.None[float64]()
		return d
	}

	d.NoResponseFollowupSent = s.followupSent
	if s.lastInbound != nil && !s.lastInbound.Before(*s.firstOutbound) {
		d.SupplierSilentOverSeconds = fn.Some(0.0)
	} else {
		d.SupplierSilentOverSeconds = fn.Some(now.Sub(*s.firstOutbound).Seconds())
	}
	return d
}

// supplierScan is the result of a single pass over the thread.
type supplierScan struct {
	firstOutbound *time.Time
	lastInbound   *time.Time
	followupSent  bool
}

func scanSupplier(po *types.PurchaseOrder) supplierScan {
	var s supplierScan
	supplier := strings.ToLower(strings.TrimSpace(po.SupplierEmail))
	if supplier == "" {
		return s
	}

	for i := range po.Thread {
		m := &po.Thread[i]
		switch m.Direction {
		case types.Outbound:
			if types.ExtractAddress(m.To) != supplier {
				continue
			}
			ts, ok := types.ParseTimestamp(m.Timestamp)
			if !ok {
				continue
			}
			// The SLA clock is anchored on the earliest message and the
			// follow-up marker only ever ORs in.
			if s.firstOutbound == nil || ts.Before(*s.firstOutbound) {
				s.firstOutbound = &ts
			}
			if m.HasLabel(types.LabelNoResponseFollowup) {
				s.followupSent = true
			}

		case types.Inbound:
			if types.ExtractAddress(m.From) != supplier {
				continue
			}
			ts, ok := types.ParseTimestamp(m.Timestamp)
			if !ok {
				continue
			}
			if s.lastInbound == nil || ts.After(*s.lastInbound) {
				s.lastInbound = &ts
			}
		}
	}
	return s
}

// Snapshot is the JSON-friendly rendering of Derived used by the CLI.
type Snapshot struct {
	DeliveryDatePast          bool     `json:"delivery_date_past"`
	DeliveryDateMissing       bool     `json:"delivery_date_missing"`
	HoursSinceOrder           *float64 `json:"hours_since_order"`
	SupplierSilentOverSeconds *float64 `json:"supplier_silent_over_seconds"`
	NoResponseFollowupSent    bool     `json:"last_outbound_to_supplier_is_no_response_followup"`
}

// Snapshot converts d for display.
func (d Derived) Snapshot() Snapshot {
	return Snapshot{
		DeliveryDatePast:          d.DeliveryDatePast,
		DeliveryDateMissing:       d.DeliveryDateMissing,
		HoursSinceOrder:           optPtr(d.HoursSinceOrder),
		SupplierSilentOverSeconds: optPtr(d.SupplierSilentOverSeconds),
		NoResponseFollowupSent:    d.NoResponseFollowupSent,
	}
}

func optPtr(o fn.Option[float64]) *float64 {
	var out *float64
	o.WhenSome(func(v float64) {
		out = &v
	})
	return out
}
