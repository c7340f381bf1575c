// Package scheduler drives the engine on a fixed cadence: each tick pulls
// inbound mail, sweeps active POs with system checks and fires the
// reply-ETA and certificate follow-ups that are due.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/daviddao/poflow/internal/clock"
	"github.com/daviddao/poflow/internal/engine"
	"github.com/daviddao/poflow/internal/mailbox"
	"github.com/daviddao/poflow/internal/retry"
	"github.com/daviddao/poflow/internal/types"
)

// Default cadence.
const (
	DefaultTick             = 15 * time.Second
	DefaultSystemCheckEvery = 60 * time.Second
	DefaultRateLimitBackoff = 180 * time.Second
)

// Engine is the set of decision entry points the scheduler calls.
type Engine interface {
	ProcessInbound(ctx context.Context, email types.InboundEmail) (*engine.Result, error)
	ProcessSystemCheck(ctx context.Context, poNumber string) (*engine.Result, error)
	ProcessETACheck(ctx context.Context, poNumber string) (*engine.Result, error)
	ProcessMTCCheck(ctx context.Context, poNumber string) (*engine.Result, error)
}

var _ Engine = (*engine.Engine)(nil)

// Lister lists the POs a sweep visits.
type Lister interface {
	ListActive(ctx context.Context) ([]*types.PurchaseOrder, error)
	ListWithReplyETA(ctx context.Context) ([]*types.PurchaseOrder, error)
	ListNeedingMTC(ctx context.Context) ([]*types.PurchaseOrder, error)
}

// Inbox supplies inbound mail. It may be nil when mail only arrives
// through the webhook.
type Inbox interface {
	Fetch(ctx context.Context) ([]mailbox.Inbound, error)
	Ack(ctx context.Context, in mailbox.Inbound, poNumber string) error
}

var _ Inbox = (*mailbox.Inbox)(nil)

// Config wires a Scheduler.
type Config struct {
	Engine Engine
	Store  Lister
	Inbox  Inbox

	Tick             time.Duration
	SystemCheckEvery time.Duration
	RateLimitBackoff time.Duration

	Clock clock.Clock
	Log   *slog.Logger
}

// Scheduler runs ticks. Ticks never overlap.
type Scheduler struct {
	cfg Config
	log *slog.Logger

	mu sync.Mutex

	// nextSystemCheck is when the next sweep is due; zero means now.
	nextSystemCheck time.Time
}

// New returns a Scheduler with defaults filled in.
func New(cfg Config) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.SystemCheckEvery == 0 {
		cfg.SystemCheckEvery = DefaultSystemCheckEvery
	}
	if cfg.RateLimitBackoff == 0 {
		cfg.RateLimitBackoff = DefaultRateLimitBackoff
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Scheduler{cfg: cfg, log: cfg.Log.With("component", "scheduler")}
}

// TickReport summarises one tick.
type TickReport struct {
	At            time.Time        `json:"at"`
	Inbound       int              `json:"inbound"`
	SystemChecks  int              `json:"system_checks"`
	ETAChecks     int              `json:"eta_checks"`
	MTCChecks     int              `json:"mtc_checks"`
	Failures      int              `json:"failures"`
	SystemSkipped bool             `json:"system_skipped,omitempty"`
	RateLimited   bool             `json:"rate_limited,omitempty"`
	Results       []*engine.Result `json:"results,omitempty"`
}

func (r *TickReport) record(res *engine.Result) {
	if res != nil && (len(res.Outcomes) > 0 || res.Warning != "") {
		r.Results = append(r.Results, res)
	}
}

// Tick runs one pass. Failures of single messages or POs are logged and
// counted; only a cancelled context stops the pass early.
func (s *Scheduler) Tick(ctx context.Context) *TickReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	rep := &TickReport{At: s.cfg.Clock.Now()}

	s.inbound(ctx, rep)
	if ctx.Err() != nil {
		return rep
	}
	s.systemChecks(ctx, rep)
	if ctx.Err() != nil {
		return rep
	}
	s.etaChecks(ctx, rep)
	if ctx.Err() != nil {
		return rep
	}
	s.mtcChecks(ctx, rep)

	s.log.DebugContext(ctx, "Tick complete",
		"inbound", rep.Inbound,
		"system", rep.SystemChecks,
		"eta", rep.ETAChecks,
		"mtc", rep.MTCChecks,
		"failures", rep.Failures)
	return rep
}

func (s *Scheduler) inbound(ctx context.Context, rep *TickReport) {
	if s.cfg.Inbox == nil {
		return
	}
	batch, err := s.cfg.Inbox.Fetch(ctx)
	if err != nil {
		rep.Failures++
		s.log.WarnContext(ctx, "Inbound fetch failed", "err", err)
	}

	for _, in := range batch {
		if ctx.Err() != nil {
			return
		}
		rep.Inbound++

		res, err := s.cfg.Engine.ProcessInbound(ctx, in.Email)
		if err != nil {
			rep.Failures++
			s.log.ErrorContext(ctx, "Failed to process inbound message",
				"message_id", in.Key(), "from", in.Email.From, "err", err)
		}
		rep.record(res)

		// Failed messages are acknowledged too; a redelivery would repeat
		// whatever part of the cycle already ran.
		po := ""
		if res != nil {
			po = res.PONumber
		}
		if err := s.cfg.Inbox.Ack(ctx, in, po); err != nil {
			rep.Failures++
			s.log.WarnContext(ctx, "Failed to acknowledge message", "message_id", in.Key(), "err", err)
		}
	}
}

func (s *Scheduler) systemChecks(ctx context.Context, rep *TickReport) {
	if s.cfg.SystemCheckEvery < 0 {
		return
	}
	now := s.cfg.Clock.Now()
	if now.Before(s.nextSystemCheck) {
		rep.SystemSkipped = true
		return
	}
	s.nextSystemCheck = now.Add(s.cfg.SystemCheckEvery)

	active, err := s.cfg.Store.ListActive(ctx)
	if err != nil {
		rep.Failures++
		s.log.WarnContext(ctx, "Listing active POs failed", "err", err)
		s.backOffIfRateLimited(ctx, now, err, rep)
		return
	}

	for _, po := range active {
		if ctx.Err() != nil {
			return
		}
		rep.SystemChecks++
		err := s.unit(ctx, rep, "system check", po.PONumber, s.cfg.Engine.ProcessSystemCheck)
		if s.backOffIfRateLimited(ctx, now, err, rep) {
			return
		}
	}
}

// backOffIfRateLimited postpones the next sweep after a rate-limit error.
func (s *Scheduler) backOffIfRateLimited(ctx context.Context, now time.Time, err error, rep *TickReport) bool {
	if err == nil || !retry.IsRateLimited(err) {
		return false
	}
	rep.RateLimited = true
	s.nextSystemCheck = now.Add(s.cfg.SystemCheckEvery + s.cfg.RateLimitBackoff)
	s.log.WarnContext(ctx, "Rate limited, pausing system checks",
		"until", types.FormatTimestamp(s.nextSystemCheck))
	return true
}

func (s *Scheduler) etaChecks(ctx context.Context, rep *TickReport) {
	pos, err := s.cfg.Store.ListWithReplyETA(ctx)
	if err != nil {
		rep.Failures++
		s.log.WarnContext(ctx, "Listing reply ETAs failed", "err", err)
		return
	}

	now := s.cfg.Clock.Now()
	for _, po := range pos {
		if ctx.Err() != nil {
			return
		}
		if po.ReplyETA == nil || !po.ReplyETA.Before(now) {
			continue
		}
		rep.ETAChecks++
		_ = s.unit(ctx, rep, "eta check", po.PONumber, s.cfg.Engine.ProcessETACheck)
	}
}

func (s *Scheduler) mtcChecks(ctx context.Context, rep *TickReport) {
	pos, err := s.cfg.Store.ListNeedingMTC(ctx)
	if err != nil {
		rep.Failures++
		s.log.WarnContext(ctx, "Listing POs awaiting MTC failed", "err", err)
		return
	}

	for _, po := range pos {
		if ctx.Err() != nil {
			return
		}
		rep.MTCChecks++
		_ = s.unit(ctx, rep, "mtc check", po.PONumber, s.cfg.Engine.ProcessMTCCheck)
	}
}

// unit runs one PO-scoped entry point and records its result.
func (s *Scheduler) unit(ctx context.Context, rep *TickReport, kind, poNumber string,
	f func(context.Context, string) (*engine.Result, error)) error {

	res, err := f(ctx, poNumber)
	if err != nil {
		rep.Failures++
		s.log.ErrorContext(ctx, fmt.Sprintf("PO %s failed", kind), "po", poNumber, "err", err)
	}
	rep.record(res)
	return err
}

// Run ticks immediately and then every Tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.InfoContext(ctx, "Scheduler started",
		"tick", s.cfg.Tick.String(),
		"system_check_every", s.cfg.SystemCheckEvery.String())

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		s.Tick(ctx)

		select {
		case <-ctx.Done():
			s.log.InfoContext(ctx, "Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
