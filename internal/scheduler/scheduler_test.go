package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/daviddao/poflow/internal/clock"
	"github.com/daviddao/poflow/internal/engine"
	"github.com/daviddao/poflow/internal/logging"
	"github.com/daviddao/poflow/internal/mailbox"
	"github.com/daviddao/poflow/internal/retry"
	"github.com/daviddao/poflow/internal/types"
	"github.com/stretchr/testify/require"
)

var ref = time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)

// fakeEngine records calls in order.
type fakeEngine struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeEngine) call(kind, key string) (*engine.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := kind + ":" + key
	f.calls = append(f.calls, name)
	res := &engine.Result{PONumber: key}
	if err := f.fail[name]; err != nil {
		return res, err
	}
	res.Outcomes = []engine.Outcome{{Action: "noop", Status: engine.StatusApplied}}
	return res, nil
}

func (f *fakeEngine) ProcessInbound(_ context.Context, email types.InboundEmail) (*engine.Result, error) {
	return f.call("inbound", email.Subject)
}

func (f *fakeEngine) ProcessSystemCheck(_ context.Context, po string) (*engine.Result, error) {
	return f.call("system", po)
}

func (f *fakeEngine) ProcessETACheck(_ context.Context, po string) (*engine.Result, error) {
	return f.call("eta", po)
}

func (f *fakeEngine) ProcessMTCCheck(_ context.Context, po string) (*engine.Result, error) {
	return f.call("mtc", po)
}

type fakeLister struct {
	active, eta, mtc []*types.PurchaseOrder
	activeErr        error
}

func (l *fakeLister) ListActive(context.Context) ([]*types.PurchaseOrder, error) {
	return l.active, l.activeErr
}

func (l *fakeLister) ListWithReplyETA(context.Context) ([]*types.PurchaseOrder, error) {
	return l.eta, nil
}

func (l *fakeLister) ListNeedingMTC(context.Context) ([]*types.PurchaseOrder, error) {
	return l.mtc, nil
}

type fakeInbox struct {
	batch []mailbox.Inbound
	acked map[string]string
}

func (b *fakeInbox) Fetch(context.Context) ([]mailbox.Inbound, error) {
	out := b.batch
	b.batch = nil
	return out, nil
}

func (b *fakeInbox) Ack(_ context.Context, in mailbox.Inbound, po string) error {
	if b.acked == nil {
		b.acked = make(map[string]string)
	}
	b.acked[in.Key()] = po
	return nil
}

func po(number string, eta *time.Time) *types.PurchaseOrder {
	return &types.PurchaseOrder{PONumber: number, ReplyETA: eta}
}

func at(t time.Time) *time.Time { return &t }

func inbound(id, subject string) mailbox.Inbound {
	return mailbox.Inbound{GmailID: id, Email: types.InboundEmail{MessageID: "<" + id + ">", Subject: subject}}
}

type harness struct {
	sched  *Scheduler
	engine *fakeEngine
	store  *fakeLister
	inbox  *fakeInbox
	clock  *clock.Test
}

func newHarness() *harness {
	h := &harness{
		engine: &fakeEngine{fail: map[string]error{}},
		store:  &fakeLister{},
		inbox:  &fakeInbox{},
		clock:  clock.NewTest(ref),
	}
	h.sched = New(Config{
		Engine: h.engine,
		Store:  h.store,
		Inbox:  h.inbox,
		Clock:  h.clock,
		Log:    logging.Discard(),
	})
	return h
}

func TestTickOrder(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.inbox.batch = []mailbox.Inbound{inbound("m1", "PO-A-01"), inbound("m2", "PO-B-01")}
	h.store.active = []*types.PurchaseOrder{po("PO-A-01", nil), po("PO-B-01", nil)}
	h.store.eta = []*types.PurchaseOrder{
		po("PO-A-01", at(ref.Add(-time.Minute))),
		po("PO-B-01", at(ref.Add(time.Hour))),
	}
	h.store.mtc = []*types.PurchaseOrder{po("PO-B-01", nil)}

	rep := h.sched.Tick(context.Background())
	require.Equal(t, []string{
		"inbound:PO-A-01",
		"inbound:PO-B-01",
		"system:PO-A-01",
		"system:PO-B-01",
		"eta:PO-A-01",
		"mtc:PO-B-01",
	}, h.engine.calls)
	require.Equal(t, 2, rep.Inbound)
	require.Equal(t, 2, rep.SystemChecks)
	require.Equal(t, 1, rep.ETAChecks)
	require.Equal(t, 1, rep.MTCChecks)
	require.Zero(t, rep.Failures)
	require.Len(t, rep.Results, 6)
	require.Equal(t, map[string]string{"<m1>": "PO-A-01", "<m2>": "PO-B-01"}, h.inbox.acked)
}

func TestSystemCheckCadence(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.store.active = []*types.PurchaseOrder{po("PO-A-01", nil)}

	require.Equal(t, 1, h.sched.Tick(context.Background()).SystemChecks)

	h.clock.Advance(30 * time.Second)
	rep := h.sched.Tick(context.Background())
	require.True(t, rep.SystemSkipped)
	require.Zero(t, rep.SystemChecks)

	h.clock.Advance(30 * time.Second)
	require.Equal(t, 1, h.sched.Tick(context.Background()).SystemChecks)
}

func TestRateLimitPausesSystemChecks(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.store.active = []*types.PurchaseOrder{po("PO-A-01", nil), po("PO-B-01", nil)}
	h.engine.fail["system:PO-A-01"] = fmt.Errorf("load PO-A-01: %w", retry.ErrRateLimited)

	rep := h.sched.Tick(context.Background())
	require.True(t, rep.RateLimited)
	require.Equal(t, 1, rep.Failures)
	require.Equal(t, []string{"system:PO-A-01"}, h.engine.calls)

	// The regular interval plus the back-off must pass.
	h.clock.Advance(DefaultSystemCheckEvery)
	require.True(t, h.sched.Tick(context.Background()).SystemSkipped)
	h.clock.Advance(DefaultRateLimitBackoff - time.Second)
	require.True(t, h.sched.Tick(context.Background()).SystemSkipped)

	delete(h.engine.fail, "system:PO-A-01")
	h.clock.Advance(time.Second)
	require.Equal(t, 2, h.sched.Tick(context.Background()).SystemChecks)
}

func TestRateLimitedListing(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.store.activeErr = errors.New("googleapi: Error 429: Quota exceeded")

	rep := h.sched.Tick(context.Background())
	require.True(t, rep.RateLimited)
	h.clock.Advance(DefaultSystemCheckEvery)
	require.True(t, h.sched.Tick(context.Background()).SystemSkipped)
}

func TestFailuresAreIsolated(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.inbox.batch = []mailbox.Inbound{inbound("m1", "PO-A-01"), inbound("m2", "PO-B-01")}
	h.store.active = []*types.PurchaseOrder{po("PO-A-01", nil), po("PO-B-01", nil)}
	h.engine.fail["inbound:PO-A-01"] = errors.New("database is locked")
	h.engine.fail["system:PO-A-01"] = errors.New("backend down")

	rep := h.sched.Tick(context.Background())
	require.Equal(t, 2, rep.Failures)
	require.Equal(t, []string{
		"inbound:PO-A-01",
		"inbound:PO-B-01",
		"system:PO-A-01",
		"system:PO-B-01",
	}, h.engine.calls)
	// The failed message is acknowledged as well.
	require.Len(t, h.inbox.acked, 2)
}

func TestNoInbox(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.sched = New(Config{Engine: h.engine, Store: h.store, Clock: h.clock, Log: logging.Discard()})
	h.store.active = []*types.PurchaseOrder{po("PO-A-01", nil)}

	rep := h.sched.Tick(context.Background())
	require.Zero(t, rep.Inbound)
	require.Equal(t, 1, rep.SystemChecks)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.sched.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
