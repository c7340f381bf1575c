package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/daviddao/poflow/internal/compose"
	"github.com/daviddao/poflow/internal/rules"
	"github.com/daviddao/poflow/internal/types"
)

// OutcomeStatus says how an action ended.
type OutcomeStatus string

const (
	StatusApplied OutcomeStatus = "applied"
	StatusFailed  OutcomeStatus = "failed"
	StatusIgnored OutcomeStatus = "ignored"
)

// Outcome reports one executed action.
type Outcome struct {
	Rule   string        `json:"rule,omitempty"`
	Action string        `json:"action"`
	Status OutcomeStatus `json:"status"`
	Detail string        `json:"detail,omitempty"`
	Error  string        `json:"error,omitempty"`

	Err error `json:"-"`
}

func newOutcome(step rules.Step) Outcome {
	o := Outcome{Rule: step.Rule, Action: "unknown"}
	if step.Action != nil {
		o.Action = step.Action.String()
	}
	return o
}

func (o Outcome) applied(format string, args ...any) Outcome {
	o.Status = StatusApplied
	o.Detail = fmt.Sprintf(format, args...)
	return o
}

func (o Outcome) failed(err error) Outcome {
	o.Status = StatusFailed
	o.Err = err
	o.Error = err.Error()
	return o
}

// run executes steps in order. A failing action never stops the ones
// after it.
func (e *Engine) run(ctx context.Context, c *cycle, steps []rules.Step) {
	for _, step := range steps {
		o := e.apply(ctx, c, step)
		log := e.log.With("po", c.ev.PONumber, "rule", o.Rule, "action", o.Action)
		switch o.Status {
		case StatusFailed:
			log.WarnContext(ctx, "Action failed", "err", o.Err)
		case StatusIgnored:
			log.WarnContext(ctx, "Action ignored")
		default:
			log.InfoContext(ctx, "Action applied", "detail", o.Detail)
		}
		c.res.Outcomes = append(c.res.Outcomes, o)
	}
}

// apply executes a single action.
func (e *Engine) apply(ctx context.Context, c *cycle, step rules.Step) Outcome {
	o := newOutcome(step)
	poNumber := c.ev.PONumber

	switch a := step.Action.(type) {
	case rules.UpdateStatus:
		if err := e.store.UpdateStatus(ctx, poNumber, a.Value); err != nil {
			return o.failed(err)
		}
		c.po.Status = a.Value
		return o.applied("status=%s", a.Value)

	case rules.SetFlag:
		if !types.IsValidFlag(a.Name) {
			return o.failed(fmt.Errorf("unknown flag %q", a.Name))
		}
		if err := e.store.SetFlag(ctx, poNumber, a.Name, a.Value); err != nil {
			return o.failed(err)
		}
		c.po.Flags.Set(a.Name, a.Value)
		return o.applied("%s=%t", a.Name, a.Value)

	case rules.SendEmail:
		detail, err := e.sendEmail(ctx, c, a)
		if err != nil {
			o.Detail = detail
			return o.failed(err)
		}
		return o.applied("%s", detail)

	default:
		o.Status = StatusIgnored
		return o
	}
}

// recipient resolves a send_email alias to an address.
func (e *Engine) recipient(alias string, po *types.PurchaseOrder) (string, error) {
	var addr string
	switch strings.ToLower(alias) {
	case types.AliasSupplier:
		addr = po.SupplierEmail
	case types.AliasBuyer:
		addr = po.BuyerEmail
		if addr == "" {
			addr = po.OriginalSender
		}
	case types.AliasFinance:
		addr = e.routing.FinanceEmail
	case types.AliasEngineering:
		addr = e.routing.EngineeringEmail
	}
	if addr = strings.TrimSpace(addr); addr == "" {
		return "", fmt.Errorf("%w: %q", ErrUnresolvedRecipient, alias)
	}
	return addr, nil
}

// threading picks the message to reply to: the newest inbound message
// from the recipient that has a Message-ID, else the current event.
func threading(thread []types.ThreadMessage, recipient string, ev *types.ClassifiedEvent) (inReplyTo, references string) {
	want := types.ExtractAddress(recipient)
	for i := len(thread) - 1; i >= 0; i-- {
		m := &thread[i]
		if m.Direction == types.Inbound && m.MessageID != "" && types.ExtractAddress(m.From) == want {
			return m.MessageID, m.MessageID
		}
	}
	if ev.MessageID == "" {
		return "", ev.References
	}
	if strings.HasSuffix(ev.References, ev.MessageID) {
		return ev.MessageID, ev.References
	}
	return ev.MessageID, strings.TrimSpace(ev.References + " " + ev.MessageID)
}

func composeData(ev *types.ClassifiedEvent, po *types.PurchaseOrder) compose.Data {
	d := compose.Data{
		PONumber:              po.PONumber,
		VendorName:            po.SupplierName,
		SupplierName:          po.SupplierName,
		BuyerName:             po.BuyerName,
		OriginalBody:          ev.Body,
		PromisedDeliveryDate:  ev.PromisedDeliveryDate,
		AcceptedDeliveryDate:  ev.AcceptedDeliveryDate,
		RemainingDeliveryDate: ev.RemainingDeliveryDate,
		PartialDecision:       ev.PartialDecision,
		LineItems:             po.LineItems,
	}
	if d.PromisedDeliveryDate == nil {
		d.PromisedDeliveryDate = po.ExpectedDeliveryDate
	}
	if d.AcceptedDeliveryDate == nil {
		d.AcceptedDeliveryDate = po.AcceptedDeliveryDate
	}
	if d.RemainingDeliveryDate == nil {
		d.RemainingDeliveryDate = po.RemainingDeliveryDate
	}
	return d
}

// sendEmail drafts, sends and logs one message. The returned detail names
// the recipient whenever the message went out.
func (e *Engine) sendEmail(ctx context.Context, c *cycle, a rules.SendEmail) (string, error) {
	to, err := e.recipient(a.To, c.po)
	if err != nil {
		return "", err
	}

	content, err := e.composer.Compose(ctx, a.Scenario, composeData(c.ev, c.po))
	if err != nil {
		return "", fmt.Errorf("generate %s: %w", a.Scenario, err)
	}
	if !content.Valid() {
		return "", fmt.Errorf("generate %s: empty subject or body", a.Scenario)
	}

	inReplyTo, references := threading(c.po.Thread, to, c.ev)
	messageID, err := e.transport.Send(ctx, OutboundEmail{
		To:         to,
		Subject:    content.Subject,
		Body:       content.Body,
		InReplyTo:  inReplyTo,
		References: references,
	})
	if err != nil {
		return "", fmt.Errorf("send %s to %s: %w", a.Scenario, to, err)
	}
	detail := fmt.Sprintf("sent %s to %s", a.Scenario, to)

	var errs []error
	err = e.store.AppendThread(ctx, c.ev.PONumber, types.ThreadMessage{
		Timestamp: types.FormatTimestamp(e.clock.Now()),
		Direction: types.Outbound,
		From:      e.sender,
		To:        to,
		Subject:   content.Subject,
		Body:      content.Body,
		Labels:    []string{a.Scenario, types.ToLabel(strings.ToLower(a.To))},
		MessageID: messageID,
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("log outbound message: %w", err))
	}

	if strings.EqualFold(a.To, types.AliasSupplier) {
		if err := e.store.SetReplyETA(ctx, c.ev.PONumber, e.clock.Now().Add(e.replyETA)); err != nil {
			errs = append(errs, fmt.Errorf("arm reply ETA: %w", err))
		}
	}
	return detail, errors.Join(errs...)
}
