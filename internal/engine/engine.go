// Package engine decides what happens next on a purchase order. Each entry
// point runs one decision cycle: enrich the event, log it, evaluate the
// rule catalog and execute the resulting actions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/daviddao/poflow/internal/clock"
	"github.com/daviddao/poflow/internal/extract"
	"github.com/daviddao/poflow/internal/flags"
	"github.com/daviddao/poflow/internal/rules"
	"github.com/daviddao/poflow/internal/types"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultReplyETA is how long the supplier has to answer before the
// ETA-lapsed check follows up.
const DefaultReplyETA = 24 * time.Hour

// Routing holds the fixed addresses of internal departments.
type Routing struct {
	FinanceEmail     string
	EngineeringEmail string
}

// Config wires an Engine.
type Config struct {
	Store      Store
	Classifier Classifier
	Composer   Composer
	Transport  Transport
	Rules      *rules.Catalog

	// Extractor is tried before the pattern heuristics. Nil means none.
	Extractor extract.Structured

	Routing Routing

	// Sender is the From address recorded on outbound thread entries.
	Sender string

	// ReplyETA is armed after every send to the supplier.
	ReplyETA time.Duration

	Clock clock.Clock
	Log   *slog.Logger
}

// Engine runs decision cycles. It is safe for concurrent use; cycles for
// the same PO are serialized.
type Engine struct {
	store      Store
	classifier Classifier
	composer   Composer
	transport  Transport
	rules      *rules.Catalog
	extractor  extract.Structured
	routing    Routing
	sender     string
	replyETA   time.Duration
	clock      clock.Clock
	log        *slog.Logger
	locks      *keyedMutex
}

// New builds an engine from cfg.
func New(cfg Config) *Engine {
	if cfg.Rules == nil {
		cfg.Rules = &rules.Catalog{}
	}
	if cfg.Extractor == nil {
		cfg.Extractor = extract.None{}
	}
	if cfg.ReplyETA <= 0 {
		cfg.ReplyETA = DefaultReplyETA
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Engine{
		store:      cfg.Store,
		classifier: cfg.Classifier,
		composer:   cfg.Composer,
		transport:  cfg.Transport,
		rules:      cfg.Rules,
		extractor:  cfg.Extractor,
		routing:    cfg.Routing,
		sender:     cfg.Sender,
		replyETA:   cfg.ReplyETA,
		clock:      cfg.Clock,
		log:        cfg.Log.With("component", "engine"),
		locks:      newKeyedMutex(),
	}
}

// Result reports one decision cycle.
type Result struct {
	PONumber string                 `json:"po_number,omitempty"`
	Event    *types.ClassifiedEvent `json:"event,omitempty"`
	Outcomes []Outcome              `json:"outcomes,omitempty"`

	// Skipped is set when the cycle did not run, e.g. an MTC check while
	// a reply-ETA is pending.
	Skipped bool `json:"skipped,omitempty"`

	// Warning explains a cycle that stopped without mutating anything.
	Warning string `json:"warning,omitempty"`
}

// Failed returns the outcomes that did not apply.
func (r *Result) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}

// cycle is the state carried through one decision.
type cycle struct {
	ev  *types.ClassifiedEvent
	po  *types.PurchaseOrder
	now time.Time
	res *Result
}

// ProcessInbound runs a decision cycle for one inbound message.
func (e *Engine) ProcessInbound(ctx context.Context, email types.InboundEmail) (*Result, error) {
	ev, err := e.classifier.Classify(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("classify message: %w", err)
	}
	if ev == nil || ev.PONumber == "" {
		e.log.WarnContext(ctx, "No PO resolved for message", "from", email.From, "subject", email.Subject)
		return &Result{Event: ev, Warning: ErrNoPO.Error()}, nil
	}

	unlock := e.locks.Lock(ev.PONumber)
	defer unlock()

	po, res, err := e.load(ctx, ev)
	if po == nil {
		return res, err
	}

	c := &cycle{ev: ev, po: po, now: e.clock.Now(), res: res}
	var forced []rules.Step

	// A received certificate is recorded whatever the catalog says.
	if ev.HasIntent(types.IntentMTCProvided) {
		e.run(ctx, c, []rules.Step{{
			Action: rules.SetFlag{Name: types.FlagMTCReceived, Value: true},
		}})
	}

	if ev.Role == types.RoleSupplier && flags.Compute(c.now, po).DeliveryDatePast {
		if err := e.capturePromisedDate(ctx, c); err != nil {
			return c.res, err
		}
		if ev.PromisedDeliveryDate != nil {
			forced = append(forced, rules.Step{Action: rules.SendEmail{
				To:       types.AliasBuyer,
				Scenario: types.ScenarioDeliveryDateUpdateBuyer,
			}})
		}
	}

	if ev.Role == types.RoleSupplier && ev.HasIntent(types.IntentPartialAvailability) {
		if err := e.capturePartialDates(ctx, c); err != nil {
			return c.res, err
		}
	}

	if ev.Role == types.RoleInternal && po.Flags.PartialAvailability {
		e.captureDecision(ctx, c)
		if d := ev.PartialDecision; d != "" {
			forced = append([]rules.Step{
				{Action: rules.SendEmail{To: types.AliasSupplier, Scenario: types.ScenarioPartialBuyerDecisionSupplier}},
				{Action: rules.UpdateStatus{Value: d.Status()}},
			}, forced...)
		}
	}

	if err := e.store.AppendThread(ctx, ev.PONumber, inboundMessage(ev, e.sender, c.now)); err != nil {
		return c.res, fmt.Errorf("append inbound message: %w", err)
	}

	// Re-read so the appended message and the enrichment writes are seen
	// by flag computation.
	if c.po, err = e.store.Get(ctx, ev.PONumber); err != nil {
		return c.res, fmt.Errorf("reload %s: %w", ev.PONumber, err)
	}

	steps := append(forced, e.rules.Evaluate(ev, c.po, c.now)...)
	e.run(ctx, c, steps)
	return c.res, nil
}

// load fetches the PO of ev. A nil PO means the cycle ends with res and
// err as returned.
func (e *Engine) load(ctx context.Context, ev *types.ClassifiedEvent) (*types.PurchaseOrder, *Result, error) {
	res := &Result{PONumber: ev.PONumber, Event: ev}
	po, err := e.store.Get(ctx, ev.PONumber)
	switch {
	case errors.Is(err, ErrUnknownPO):
		e.log.WarnContext(ctx, "PO not found", "po", ev.PONumber)
		res.Warning = fmt.Sprintf("%s: %s", ErrUnknownPO, ev.PONumber)
		return nil, res, nil
	case err != nil:
		return nil, res, fmt.Errorf("load %s: %w", ev.PONumber, err)
	}
	return po, res, nil
}

func inboundMessage(ev *types.ClassifiedEvent, to string, now time.Time) types.ThreadMessage {
	labels := slices.Clone(ev.Keywords)
	for _, i := range ev.Intents {
		labels = append(labels, types.IntentLabel(i))
	}
	ts := ev.Timestamp
	if ts == "" {
		ts = types.FormatTimestamp(now)
	}
	return types.ThreadMessage{
		Timestamp: ts,
		Direction: types.Inbound,
		From:      ev.FromEmail,
		To:        to,
		Subject:   ev.Subject,
		Body:      ev.Body,
		Labels:    labels,
		MessageID: ev.MessageID,
	}
}

// capturePromisedDate looks for a new delivery date from a supplier whose
// delivery date has passed.
func (e *Engine) capturePromisedDate(ctx context.Context, c *cycle) error {
	ev := c.ev
	ref := dateRef(ev.Timestamp, c.now)
	promised := e.extractor.PromisedDate(ctx, ev.Subject, ev.Body, ref)
	if promised.IsNone() {
		promised = extract.PromisedDate(ev.Subject, ev.Body, ref)
	}
	if promised.IsNone() {
		return nil
	}

	date := promised.UnwrapOr(time.Time{})
	if err := e.store.SetExpectedDelivery(ctx, ev.PONumber, date); err != nil {
		return fmt.Errorf("store promised date: %w", err)
	}
	ev.PromisedDeliveryDate = &date
	c.po.ExpectedDeliveryDate = &date
	e.log.InfoContext(ctx, "Captured promised delivery date", "po", ev.PONumber, "date", types.FormatDate(date))
	return nil
}

// capturePartialDates records when the available and the remaining
// quantities will ship.
func (e *Engine) capturePartialDates(ctx context.Context, c *cycle) error {
	ev := c.ev
	ref := dateRef(ev.Timestamp, c.now)
	accepted, remaining := e.extractor.PartialDates(ctx, ev.Subject, ev.Body, ref)
	if accepted.IsNone() && remaining.IsNone() {
		accepted, remaining = extract.PartialDates(ev.Subject, ev.Body, ref)
	}

	if err := e.store.SetPartialDates(ctx, ev.PONumber, accepted, remaining); err != nil {
		return fmt.Errorf("store partial dates: %w", err)
	}
	if err := e.store.SetFlag(ctx, ev.PONumber, types.FlagPartialAvailability, true); err != nil {
		return fmt.Errorf("set partial availability: %w", err)
	}

	accepted.WhenSome(func(t time.Time) {
		ev.AcceptedDeliveryDate = &t
	})
	remaining.WhenSome(func(t time.Time) {
		ev.RemainingDeliveryDate = &t
	})
	return nil
}

// captureDecision reads the buyer's answer to a partial-availability
// question and fills in the dates the answer refers to.
func (e *Engine) captureDecision(ctx context.Context, c *cycle) {
	ev := c.ev
	decision := e.extractor.PartialDecision(ctx, ev.Subject, ev.Body)
	if decision.IsNone() {
		decision = extract.Decision(ev.Subject, ev.Body)
	}
	d := decision.UnwrapOr("")
	if d == "" {
		e.log.DebugContext(ctx, "No buyer decision found", "po", ev.PONumber)
		return
	}
	ev.PartialDecision = d

	if ev.AcceptedDeliveryDate != nil && ev.RemainingDeliveryDate != nil {
		return
	}
	accepted, remaining := partialDatesFromThread(c.po.Thread, c.now)
	if ev.AcceptedDeliveryDate == nil {
		ev.AcceptedDeliveryDate = firstDate(accepted, c.po.AcceptedDeliveryDate)
	}
	if ev.RemainingDeliveryDate == nil {
		ev.RemainingDeliveryDate = firstDate(remaining, c.po.RemainingDeliveryDate)
	}
}

// partialDatesFromThread reads the dates of the newest inbound message
// about partial availability.
func partialDatesFromThread(thread []types.ThreadMessage, now time.Time) (accepted, remaining fn.Option[time.Time]) {
	for i := len(thread) - 1; i >= 0; i-- {
		m := &thread[i]
		if m.Direction != types.Inbound || !aboutPartial(m) {
			continue
		}
		accepted, remaining = extract.PartialDates(m.Subject, m.Body, dateRef(m.Timestamp, now))
		if accepted.IsSome() || remaining.IsSome() {
			return accepted, remaining
		}
	}
	return fn.None[time.Time](), fn.None[time.Time]()
}

// dateRef is the instant relative dates in a message are read against:
// the message's own date when it parses, else now.
func dateRef(ts string, now time.Time) time.Time {
	if t, ok := types.ParseTimestamp(ts); ok {
		return t
	}
	return now
}

func aboutPartial(m *types.ThreadMessage) bool {
	for _, l := range m.Labels {
		l = strings.ToLower(l)
		if l == types.IntentLabel(types.IntentPartialAvailability) || strings.Contains(l, "partial") {
			return true
		}
	}
	return false
}

func firstDate(o fn.Option[time.Time], stored *time.Time) *time.Time {
	var out *time.Time
	o.WhenSome(func(t time.Time) {
		out = &t
	})
	if out == nil && stored != nil {
		t := *stored
		out = &t
	}
	return out
}

// ProcessSystemCheck evaluates the catalog for a PO on a scheduled sweep.
func (e *Engine) ProcessSystemCheck(ctx context.Context, poNumber string) (*Result, error) {
	unlock := e.locks.Lock(poNumber)
	defer unlock()

	return e.system(ctx, poNumber)
}

// ProcessETACheck follows up on a PO whose reply-ETA has lapsed. The ETA
// is cleared afterwards in every case, so one lapse yields at most one
// follow-up.
func (e *Engine) ProcessETACheck(ctx context.Context, poNumber string) (res *Result, err error) {
	unlock := e.locks.Lock(poNumber)
	defer unlock()

	defer func() {
		cerr := e.store.ClearReplyETA(ctx, poNumber)
		if cerr != nil && !errors.Is(cerr, ErrUnknownPO) {
			err = errors.Join(err, fmt.Errorf("clear reply ETA: %w", cerr))
		}
	}()

	return e.system(ctx, poNumber, types.KeywordETALapsed)
}

// ProcessMTCCheck asks for a missing certificate unless a reply from the
// supplier is still awaited.
func (e *Engine) ProcessMTCCheck(ctx context.Context, poNumber string) (*Result, error) {
	unlock := e.locks.Lock(poNumber)
	defer unlock()

	eta, err := e.store.ReplyETA(ctx, poNumber)
	switch {
	case errors.Is(err, ErrUnknownPO):
		// Reported by the cycle below.
	case err != nil:
		return nil, fmt.Errorf("read reply ETA of %s: %w", poNumber, err)
	}

	now := e.clock.Now()
	pending := false
	eta.WhenSome(func(t time.Time) {
		pending = t.After(now)
	})
	if pending {
		e.log.DebugContext(ctx, "Reply ETA pending, skipping MTC check", "po", poNumber)
		return &Result{PONumber: strings.ToUpper(poNumber), Skipped: true}, nil
	}

	return e.system(ctx, poNumber, types.KeywordMTCMissing)
}

// ProcessNewPO sends the initial order mail of a freshly registered PO to
// its supplier, then runs a first system check.
func (e *Engine) ProcessNewPO(ctx context.Context, poNumber string) (*Result, error) {
	unlock := e.locks.Lock(poNumber)
	defer unlock()

	ev := systemEvent(poNumber)
	po, res, err := e.load(ctx, ev)
	if po == nil {
		return res, err
	}

	c := &cycle{ev: ev, po: po, now: e.clock.Now(), res: res}
	e.run(ctx, c, []rules.Step{{Action: rules.SendEmail{
		To:       types.AliasSupplier,
		Scenario: types.ScenarioInitialPOEmail,
	}}})

	if c.po, err = e.store.Get(ctx, ev.PONumber); err != nil {
		return c.res, fmt.Errorf("reload %s: %w", ev.PONumber, err)
	}
	e.run(ctx, c, e.rules.Evaluate(ev, c.po, c.now))
	return c.res, nil
}

func systemEvent(poNumber string, keywords ...string) *types.ClassifiedEvent {
	return &types.ClassifiedEvent{
		PONumber: strings.ToUpper(strings.TrimSpace(poNumber)),
		Role:     types.RoleSystem,
		Keywords: keywords,
	}
}

// system runs a cycle for a synthetic system event. The caller holds the
// PO's lock.
func (e *Engine) system(ctx context.Context, poNumber string, keywords ...string) (*Result, error) {
	ev := systemEvent(poNumber, keywords...)
	po, res, err := e.load(ctx, ev)
	if po == nil {
		return res, err
	}

	c := &cycle{ev: ev, po: po, now: e.clock.Now(), res: res}
	e.run(ctx, c, e.rules.Evaluate(ev, po, c.now))
	return c.res, nil
}
