package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/daviddao/poflow/internal/llm"
	"github.com/daviddao/poflow/internal/types"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Structured extracts facts from a message with a language model. Every
// method returns None when the model is unavailable or its answer is
// unusable; callers fall back to the pattern heuristics.
type Structured interface {
	PromisedDate(ctx context.Context, subject, body string, ref time.Time) fn.Option[time.Time]
	PartialDates(ctx context.Context, subject, body string, ref time.Time) (accepted, remaining fn.Option[time.Time])
	PartialDecision(ctx context.Context, subject, body string) fn.Option[types.PartialDecision]
}

// None is a Structured extractor that never finds anything.
type None struct{}

func (None) PromisedDate(context.Context, string, string, time.Time) fn.Option[time.Time] {
	return fn.None[time.Time]()
}

func (None) PartialDates(context.Context, string, string, time.Time) (fn.Option[time.Time], fn.Option[time.Time]) {
	return fn.None[time.Time](), fn.None[time.Time]()
}

func (None) PartialDecision(context.Context, string, string) fn.Option[types.PartialDecision] {
	return fn.None[types.PartialDecision]()
}

// Model is a Structured extractor backed by a chat model.
type Model struct {
	llm llm.Completer
	log *slog.Logger
}

// NewModel wraps c. A nil completer yields None.
func NewModel(c llm.Completer, log *slog.Logger) Structured {
	if c == nil {
		return None{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Model{llm: c, log: log.With("component", "extract")}
}

const extractSystem = "You extract facts from procurement emails. Reply with strict JSON only."

func (m *Model) ask(ctx context.Context, prompt string, out any) bool {
	reply, err := m.llm.Complete(ctx, extractSystem, prompt)
	if err != nil {
		m.log.WarnContext(ctx, "Structured extraction failed", "err", err)
		return false
	}
	obj, ok := llm.JSONObject(reply)
	if !ok {
		m.log.DebugContext(ctx, "Structured extraction returned no JSON", "reply", reply)
		return false
	}
	if err := json.Unmarshal([]byte(obj), out); err != nil {
		m.log.DebugContext(ctx, "Structured extraction returned bad JSON", "err", err)
		return false
	}
	return true
}

// PromisedDate asks for the delivery date the supplier now commits to.
func (m *Model) PromisedDate(ctx context.Context, subject, body string, ref time.Time) fn.Option[time.Time] {
	prompt := fmt.Sprintf(`Today is %s. A supplier replied about a late purchase order.
What delivery date do they now promise? Resolve relative dates against today.
Return {"promised_delivery_date": "YYYY-MM-DD"} or {"promised_delivery_date": null}.

Subject: %s
Body:
%s`, types.FormatDate(ref), subject, body)

	var out struct {
		Promised *string `json:"promised_delivery_date"`
	}
	if !m.ask(ctx, prompt, &out) {
		return fn.None[time.Time]()
	}
	return parseDay(out.Promised)
}

// PartialDates asks for the accepted-quantity and remaining-quantity dates.
func (m *Model) PartialDates(ctx context.Context, subject, body string, ref time.Time) (fn.Option[time.Time], fn.Option[time.Time]) {
	prompt := fmt.Sprintf(`Today is %s. A supplier can only ship part of a purchase order.
We need two dates:
- accepted_delivery_date: when the available quantity ships or arrives
- remaining_delivery_date: when the remaining or backordered quantity ships or arrives
Return {"accepted_delivery_date": "YYYY-MM-DD" or null, "remaining_delivery_date": "YYYY-MM-DD" or null}.

Subject: %s
Body:
%s`, types.FormatDate(ref), subject, body)

	var out struct {
		Accepted  *string `json:"accepted_delivery_date"`
		Remaining *string `json:"remaining_delivery_date"`
	}
	if !m.ask(ctx, prompt, &out) {
		return fn.None[time.Time](), fn.None[time.Time]()
	}
	return parseDay(out.Accepted), parseDay(out.Remaining)
}

// PartialDecision asks which of the four partial-availability answers the
// buyer gave.
func (m *Model) PartialDecision(ctx context.Context, subject, body string) fn.Option[types.PartialDecision] {
	prompt := fmt.Sprintf(`A buyer answered our question about a partial shipment.
Options offered were: 1) accept the partial shipment, 2) split the purchase order, 3) wait for full availability.
Classify the answer as one of ACCEPT_PARTIAL, REJECT_PARTIAL, WAIT_FULL, SPLIT_PO, or null if unclear.
Return {"decision": "..."}.

Subject: %s
Body:
%s`, subject, body)

	var out struct {
		Decision *string `json:"decision"`
	}
	if !m.ask(ctx, prompt, &out) || out.Decision == nil {
		return fn.None[types.PartialDecision]()
	}
	d, ok := types.ParsePartialDecision(*out.Decision)
	if !ok {
		return fn.None[types.PartialDecision]()
	}
	return fn.Some(d)
}

func parseDay(s *string) fn.Option[time.Time] {
	if s == nil {
		return fn.None[time.Time]()
	}
	v := strings.TrimSpace(*s)
	if v == "" || strings.EqualFold(v, "null") {
		return fn.None[time.Time]()
	}
	t, ok := types.ParseTimestamp(v)
	if !ok {
		return fn.None[time.Time]()
	}
	return fn.Some(types.DateOf(t))
}
