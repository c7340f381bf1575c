package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/daviddao/poflow/internal/logging"
	"github.com/daviddao/poflow/internal/retry"
	"github.com/daviddao/poflow/internal/types"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), ".poflow", "po.db"), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func ptr(t time.Time) *time.Time { return &t }

func samplePO(number string) *types.PurchaseOrder {
	return &types.PurchaseOrder{
		PONumber:             number,
		BuyerName:            "Jane Buyer",
		BuyerEmail:           "jane@denicx.com",
		SupplierName:         "Acme Steel",
		SupplierEmail:        "sales@acme.example",
		OrderDate:            ptr(time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC)),
		ExpectedDeliveryDate: ptr(time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)),
		Flags:                types.Flags{MTCNeeded: true},
		LineItems: []types.LineItem{
			{Description: "Flange DN50", Quantity: 10, Unit: "pcs", UnitPrice: 12.5},
		},
	}
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := openTestDB(t)

	require.NoError(t, d.CreatePO(ctx, samplePO("PO-OG-2026-0147"), now))

	got, err := d.GetPO(ctx, "PO-OG-2026-0147")
	require.NoError(t, err)
	require.Equal(t, types.StatusIssued, got.Status)
	require.Equal(t, "sales@acme.example", got.SupplierEmail)
	require.True(t, got.Flags.MTCNeeded)
	require.False(t, got.Flags.MTCReceived)
	require.Equal(t, time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), *got.ExpectedDeliveryDate)
	require.Nil(t, got.ReplyETA)
	require.Len(t, got.LineItems, 1)
	require.Equal(t, "Flange DN50", got.LineItems[0].Description)
	require.Equal(t, types.FormatTimestamp(now), got.CreatedAt)

	err = d.CreatePO(ctx, samplePO("PO-OG-2026-0147"), now)
	require.ErrorIs(t, err, ErrExists)

	_, err = d.GetPO(ctx, "PO-NOPE-0000")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := openTestDB(t)
	require.NoError(t, d.CreatePO(ctx, samplePO("PO-A-01"), now))

	later := now.Add(time.Hour)
	require.NoError(t, d.UpdateStatus(ctx, "PO-A-01", types.StatusDelayed, later))
	require.NoError(t, d.SetFlag(ctx, "PO-A-01", types.FlagMTCReceived, true, later))
	require.NoError(t, d.SetExpectedDelivery(ctx, "PO-A-01", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), later))
	require.NoError(t, d.SetPartialDates(ctx, "PO-A-01", nil, ptr(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)), later))

	eta := later.Add(24 * time.Hour)
	require.NoError(t, d.SetReplyETA(ctx, "PO-A-01", &eta, later))

	got, err := d.GetPO(ctx, "PO-A-01")
	require.NoError(t, err)
	require.Equal(t, types.StatusDelayed, got.Status)
	require.True(t, got.Flags.MTCReceived)
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *got.ExpectedDeliveryDate)
	require.Nil(t, got.AcceptedDeliveryDate)
	require.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), *got.RemainingDeliveryDate)
	require.Equal(t, eta, *got.ReplyETA)
	require.Equal(t, types.FormatTimestamp(later), got.UpdatedAt)

	require.NoError(t, d.SetReplyETA(ctx, "PO-A-01", nil, later))
	got, err = d.GetPO(ctx, "PO-A-01")
	require.NoError(t, err)
	require.Nil(t, got.ReplyETA)

	require.ErrorContains(t, d.SetFlag(ctx, "PO-A-01", "status; DROP TABLE x", true, later), "unknown flag")
	require.ErrorIs(t, d.UpdateStatus(ctx, "PO-MISSING-01", types.StatusClosed, later), ErrNotFound)
}

func TestThreadAppendOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := openTestDB(t)
	require.NoError(t, d.CreatePO(ctx, samplePO("PO-A-01"), now))

	long := make([]byte, 800)
	for i := range long {
		long[i] = 'x'
	}

	msgs := []types.ThreadMessage{
		{Timestamp: "2026-02-01T10:00:00Z", Direction: types.Outbound, To: "sales@acme.example",
			Subject: "PO-A-01", Body: "Please confirm", Labels: []string{"initial_po_email", "to:supplier"}, MessageID: "<a@x>"},
		{Timestamp: "not a date", Direction: types.Inbound, From: "sales@acme.example",
			Subject: "Re: PO-A-01", Body: string(long)},
	}
	for _, m := range msgs {
		require.NoError(t, d.AppendThread(ctx, "PO-A-01", m, now))
	}

	thread, err := d.Thread(ctx, "PO-A-01")
	require.NoError(t, err)
	require.Len(t, thread, 2)
	require.Equal(t, msgs[0], thread[0])
	require.Equal(t, "not a date", thread[1].Timestamp)
	require.Nil(t, thread[1].Labels)
	require.Len(t, []rune(thread[1].Body), types.MaxBodyLen+3)

	err = d.AppendThread(ctx, "PO-MISSING-01", msgs[0], now)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := openTestDB(t)

	closed := samplePO("PO-C-01")
	closed.Status = types.StatusClosed
	require.NoError(t, d.CreatePO(ctx, closed, now))

	withETA := samplePO("PO-E-01")
	withETA.ReplyETA = ptr(now.Add(time.Hour))
	withETA.SupplierEmail = "ops@other.example"
	require.NoError(t, d.CreatePO(ctx, withETA, now))

	received := samplePO("PO-M-01")
	received.Flags.MTCReceived = true
	require.NoError(t, d.CreatePO(ctx, received, now))

	numbers := func(pos []*types.PurchaseOrder) []string {
		var out []string
		for _, p := range pos {
			out = append(out, p.PONumber)
		}
		return out
	}

	active, err := d.ListPOs(ctx, ListFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Equal(t, []string{"PO-E-01", "PO-M-01"}, numbers(active))

	eta, err := d.ListPOs(ctx, ListFilter{WithReplyETA: true})
	require.NoError(t, err)
	require.Equal(t, []string{"PO-E-01"}, numbers(eta))

	mtc, err := d.ListPOs(ctx, ListFilter{ActiveOnly: true, NeedingMTC: true})
	require.NoError(t, err)
	require.Equal(t, []string{"PO-E-01"}, numbers(mtc))

	byEmail, err := d.ListPOs(ctx, ListFilter{ActiveOnly: true, Email: "SALES@acme.example"})
	require.NoError(t, err)
	require.Equal(t, []string{"PO-M-01"}, numbers(byEmail))

	counts, err := d.StatusCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{types.StatusClosed: 1, types.StatusIssued: 2}, counts)
}

func TestProcessedMessages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := openTestDB(t)

	ok, err := d.IsProcessed(ctx, "gm-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, d.MarkProcessed(ctx, "gm-1", "PO-A-01", now))
	require.NoError(t, d.MarkProcessed(ctx, "gm-1", "PO-A-01", now))

	ok, err = d.IsProcessed(ctx, "gm-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReopenKeepsData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "po.db")

	d, err := Open(path, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, d.CreatePO(ctx, samplePO("PO-A-01"), now))
	require.NoError(t, d.Close())

	d, err = Open(path, logging.Discard())
	require.NoError(t, err)
	defer d.Close()
	_, err = d.GetPO(ctx, "PO-A-01")
	require.NoError(t, err)
}

func TestMapSQLErrorPassesThroughForeignErrors(t *testing.T) {
	t.Parallel()

	plain := errors.New("boom")
	require.Same(t, plain, MapSQLError(plain))
	require.NoError(t, MapSQLError(nil))

	wrapped := fmt.Errorf("x: %w", plain)
	require.False(t, retry.IsTransient(MapSQLError(wrapped)))
}
