package flags

import (
	"fmt"
	"testing"
	"time"

	"github.com/daviddao/poflow/internal/types"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const supplier = "sales@acme-steel.com"

var baseTime = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func outbound(ts time.Time, labels ...string) types.ThreadMessage {
	return types.ThreadMessage{
		Timestamp: ts.Format(time.RFC3339),
		Direction: types.Outbound,
		From:      "po@buyer.example",
		To:        supplier,
		Labels:    labels,
	}
}

func inbound(ts time.Time) types.ThreadMessage {
	return types.ThreadMessage{
		Timestamp: ts.Format(time.RFC3339),
		Direction: types.Inbound,
		From:      "Acme Sales <" + supplier + ">",
		To:        "po@buyer.example",
	}
}

func TestComputeDeliveryDatePastScenario(t *testing.T) {
	t.Parallel()

	now := baseTime
	po := &types.PurchaseOrder{
		PONumber:             "PO-OG-2026-0147",
		SupplierEmail:        supplier,
		Status:               types.StatusAwaitingAcknowledgment,
		OrderDate:            ptr(now.Add(-5 * 24 * time.Hour)),
		ExpectedDeliveryDate: ptr(now.Add(-24 * time.Hour)),
	}

	d := Compute(now, po)
	require.True(t, d.DeliveryDatePast)
	require.False(t, d.DeliveryDateMissing)
	require.InDelta(t, 120.0, d.HoursSinceOrder.UnwrapOr(-1), 0.001)
	require.True(t, d.SupplierSilentOverSeconds.IsNone())
	require.False(t, d.NoResponseFollowupSent)
}

func TestComputeDeliveryDateSameDayIsNotPast(t *testing.T) {
	t.Parallel()

	now := baseTime
	po := &types.PurchaseOrder{
		ExpectedDeliveryDate: ptr(types.DateOf(now)),
	}
	d := Compute(now, po)
	require.False(t, d.DeliveryDatePast)
	require.False(t, d.DeliveryDateMissing)
}

func TestComputeMissingDeliveryDate(t *testing.T) {
	t.Parallel()

	d := Compute(baseTime, &types.PurchaseOrder{})
	require.True(t, d.DeliveryDateMissing)
	require.False(t, d.DeliveryDatePast)
	require.True(t, d.HoursSinceOrder.IsNone())
}

func TestComputeSupplierSilence(t *testing.T) {
	t.Parallel()

	now := baseTime
	anchor := now.Add(-48 * time.Hour)

	tests := []struct {
		name     string
		thread   []types.ThreadMessage
		silence  float64
		followup bool
	}{
		{
			name:    "no reply since first outbound",
			thread:  []types.ThreadMessage{outbound(anchor)},
			silence: 48 * 3600,
		},
		{
			name: "anchor is the earliest outbound, not the latest",
			thread: []types.ThreadMessage{
				outbound(now.Add(-time.Hour)),
				outbound(anchor),
			},
			silence: 48 * 3600,
		},
		{
			name: "reply after anchor zeroes silence",
			thread: []types.ThreadMessage{
				outbound(anchor),
				inbound(anchor.Add(time.Hour)),
			},
			silence: 0,
		},
		{
			name: "reply at the anchor instant counts",
			thread: []types.ThreadMessage{
				inbound(anchor),
				outbound(anchor),
			},
			silence: 0,
		},
		{
			name: "reply before anchor does not count",
			thread: []types.ThreadMessage{
				inbound(anchor.Add(-time.Hour)),
				outbound(anchor),
			},
			silence: 48 * 3600,
		},
		{
			name: "follow-up label is sticky",
			thread: []types.ThreadMessage{
				outbound(anchor),
				outbound(anchor.Add(time.Hour), types.LabelNoResponseFollowup),
				outbound(anchor.Add(2 * time.Hour)),
			},
			silence:  48 * 3600,
			followup: true,
		},
		{
			name: "follow-up label matches regardless of case",
			thread: []types.ThreadMessage{
				outbound(anchor),
				outbound(anchor.Add(time.Hour), " Vendor_No_Response_Followup "),
			},
			silence:  48 * 3600,
			followup: true,
		},
		{
			name: "unparseable timestamps are skipped",
			thread: []types.ThreadMessage{
				{Timestamp: "yesterday-ish", Direction: types.Outbound, To: supplier},
				outbound(anchor),
			},
			silence: 48 * 3600,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			po := &types.PurchaseOrder{SupplierEmail: supplier, Thread: tc.thread}
			d := Compute(now, po)
			require.True(t, d.SupplierSilentOverSeconds.IsSome())
			require.InDelta(t, tc.silence, d.SupplierSilentOverSeconds.UnwrapOr(-1), 0.001)
			require.Equal(t, tc.followup, d.NoResponseFollowupSent)
		})
	}
}

func TestComputeNaiveTimestampIsUTC(t *testing.T) {
	t.Parallel()

	now := baseTime
	po := &types.PurchaseOrder{
		SupplierEmail: supplier,
		Thread: []types.ThreadMessage{{
			Timestamp: now.Add(-time.Hour).Format("2006-01-02T15:04:05"),
			Direction: types.Outbound,
			To:        "SALES@ACME-STEEL.COM",
		}},
	}
	d := Compute(now, po)
	require.InDelta(t, 3600.0, d.SupplierSilentOverSeconds.UnwrapOr(-1), 0.001)
}

// genThread draws a thread mixing traffic to and from the supplier with
// unrelated parties.
func genThread(t *rapid.T, withSupplierOutbound bool) []types.ThreadMessage {
	n := rapid.IntRange(0, 12).Draw(t, "n")
	thread := make([]types.ThreadMessage, 0, n)
	for i := 0; i < n; i++ {
		offset := time.Duration(rapid.IntRange(-500, 0).Draw(t, fmt.Sprintf("offset%d", i))) * time.Hour
		ts := baseTime.Add(offset)
		inboundMsg := rapid.Bool().Draw(t, fmt.Sprintf("inbound%d", i))
		peer := rapid.SampledFrom([]string{supplier, "buyer@denicx.com", "ops@other.example"}).
			Draw(t, fmt.Sprintf("peer%d", i))
		if !withSupplierOutbound && !inboundMsg && peer == supplier {
			peer = "buyer@denicx.com"
		}
		m := types.ThreadMessage{Timestamp: ts.Format(time.RFC3339)}
		if inboundMsg {
			m.Direction = types.Inbound
			m.From = peer
		} else {
			m.Direction = types.Outbound
			m.To = peer
			if rapid.Bool().Draw(t, fmt.Sprintf("followup%d", i)) {
				m.Labels = []string{types.LabelNoResponseFollowup}
			}
		}
		thread = append(thread, m)
	}
	return thread
}

func TestPropertyNoOutboundMeansNoSilence(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		po := &types.PurchaseOrder{
			SupplierEmail: supplier,
			Thread:        genThread(t, false),
		}
		d := Compute(baseTime, po)
		require.True(t, d.SupplierSilentOverSeconds.IsNone())
		require.False(t, d.NoResponseFollowupSent)
	})
}

func TestPropertyFollowupIsSticky(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		anchor := baseTime.Add(-72 * time.Hour)
		thread := []types.ThreadMessage{
			outbound(anchor),
			outbound(anchor.Add(time.Hour), types.LabelNoResponseFollowup),
		}
		extra := rapid.IntRange(0, 8).Draw(t, "extra")
		for i := 0; i < extra; i++ {
			step := time.Duration(rapid.IntRange(2, 200).Draw(t, fmt.Sprintf("step%d", i))) * time.Hour
			if rapid.Bool().Draw(t, fmt.Sprintf("in%d", i)) {
				thread = append(thread, inbound(anchor.Add(step)))
			} else {
				thread = append(thread, outbound(anchor.Add(step)))
			}
		}
		later := time.Duration(rapid.IntRange(0, 1000).Draw(t, "later")) * time.Hour

		po := &types.PurchaseOrder{SupplierEmail: supplier, Thread: thread}
		d := Compute(baseTime.Add(later), po)
		require.True(t, d.NoResponseFollowupSent)
	})
}

func TestPropertyComputeIsPure(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		po := &types.PurchaseOrder{
			SupplierEmail: supplier,
			Thread:        genThread(t, true),
		}
		if rapid.Bool().Draw(t, "hasOrder") {
			po.OrderDate = ptr(baseTime.Add(-time.Duration(rapid.IntRange(0, 400).Draw(t, "age")) * time.Hour))
		}
		if rapid.Bool().Draw(t, "hasExpected") {
			po.ExpectedDeliveryDate = ptr(baseTime.Add(time.Duration(rapid.IntRange(-200, 200).Draw(t, "eta")) * time.Hour))
		}
		before := po.Clone()

		first := Compute(baseTime, po)
		second := Compute(baseTime, po)
		require.Equal(t, first, second)
		require.Equal(t, before, po)
		require.False(t, first.DeliveryDatePast && first.DeliveryDateMissing)
	})
}
