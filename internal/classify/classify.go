// Package classify turns inbound mail into classified events: it finds the
// PO number, works out who sent the message and tags keywords and intents.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"slices"
	"strings"

	"github.com/daviddao/poflow/internal/engine"
	"github.com/daviddao/poflow/internal/llm"
	"github.com/daviddao/poflow/internal/types"
)

// Directory is the PO lookup the classifier needs.
type Directory interface {
	Get(ctx context.Context, poNumber string) (*types.PurchaseOrder, error)
	ActiveByEmail(ctx context.Context, email string) ([]*types.PurchaseOrder, error)
}

// Config configures a Classifier.
type Config struct {
	// InternalDomains are the sender domains of our own organisation.
	InternalDomains []string

	// LLM, when set, adds model-suggested intents and picks between
	// several open POs of one sender.
	LLM llm.Completer

	Log *slog.Logger
}

// Classifier implements engine.Classifier.
type Classifier struct {
	dir      Directory
	internal []string
	llm      llm.Completer
	log      *slog.Logger
}

var _ engine.Classifier = (*Classifier)(nil)

// New returns a classifier that resolves POs through dir.
func New(dir Directory, cfg Config) *Classifier {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	internal := make([]string, 0, len(cfg.InternalDomains))
	for _, d := range cfg.InternalDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			internal = append(internal, d)
		}
	}
	return &Classifier{
		dir:      dir,
		internal: internal,
		llm:      cfg.LLM,
		log:      log.With("component", "classify"),
	}
}

// PONumber returns the first PO number in subject, then body, upper-cased.
func PONumber(subject, body string) string {
	for _, text := range []string{subject, body} {
		if m := poPattern.FindString(text); m != "" {
			return strings.ToUpper(m)
		}
	}
	return ""
}

// Classify builds the event for email. The event's PONumber is empty when
// no PO could be tied to the message.
func (c *Classifier) Classify(ctx context.Context, email types.InboundEmail) (*types.ClassifiedEvent, error) {
	body := PlainText(email.Body)
	from := types.ExtractAddress(email.From)

	ev := &types.ClassifiedEvent{
		FromEmail:  from,
		Subject:    strings.TrimSpace(email.Subject),
		Body:       body,
		MessageID:  strings.TrimSpace(email.MessageID),
		References: strings.TrimSpace(email.References),
		Timestamp:  NormalizeDate(email.Date),
		Role:       types.RoleSupplier,
	}
	if c.isInternal(from) {
		ev.Role = types.RoleInternal
	}

	po, err := c.resolvePO(ctx, from, ev.Subject, body)
	if err != nil {
		return nil, err
	}
	if po != nil {
		ev.PONumber = po.PONumber
		c.resolveEntity(ev, po)
	}

	text := strings.ToLower(ev.Subject + "\n" + body)
	ev.Keywords = Keywords(text)
	ev.Intents = mergeIntents(c.modelIntents(ctx, ev, po), HeuristicIntents(text, email.Attachments))
	return ev, nil
}

// NormalizeDate rewrites an RFC 5322 or ISO-8601 date as a stored
// timestamp. Anything else is returned unchanged.
func NormalizeDate(date string) string {
	if t, ok := types.ParseTimestamp(date); ok {
		return types.FormatTimestamp(t)
	}
	if t, err := mail.ParseDate(date); err == nil {
		return types.FormatTimestamp(t)
	}
	return date
}

func (c *Classifier) isInternal(addr string) bool {
	return slices.Contains(c.internal, domainOf(addr))
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return strings.ToLower(addr[i+1:])
	}
	return ""
}

// resolvePO finds the PO named in the text or, failing that, the one open
// PO the sender is a party to.
func (c *Classifier) resolvePO(ctx context.Context, from, subject, body string) (*types.PurchaseOrder, error) {
	if number := PONumber(subject, body); number != "" {
		po, err := c.dir.Get(ctx, number)
		switch {
		case errors.Is(err, engine.ErrUnknownPO):
			// Keep the number so the engine can report the unknown PO.
			return &types.PurchaseOrder{PONumber: number}, nil
		case err != nil:
			return nil, fmt.Errorf("look up %s: %w", number, err)
		}
		return po, nil
	}

	if from == "" {
		return nil, nil
	}
	candidates, err := c.dir.ActiveByEmail(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("look up POs for %s: %w", from, err)
	}
	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		c.log.DebugContext(ctx, "Resolved PO from sender", "po", candidates[0].PONumber, "from", from)
		return candidates[0], nil
	}

	if po := c.pickCandidate(ctx, subject, body, candidates); po != nil {
		return po, nil
	}
	c.log.InfoContext(ctx, "Sender has several open POs, leaving unresolved", "from", from, "candidates", len(candidates))
	return nil, nil
}

// resolveEntity names the sender. An exact buyer or supplier address
// decides the role; otherwise the role from the domain stands and the
// supplier name is used.
func (c *Classifier) resolveEntity(ev *types.ClassifiedEvent, po *types.PurchaseOrder) {
	switch {
	case po.BuyerEmail != "" && strings.EqualFold(ev.FromEmail, po.BuyerEmail):
		ev.Role = types.RoleInternal
		ev.EntityName = po.BuyerName
	case po.SupplierEmail != "" && strings.EqualFold(ev.FromEmail, po.SupplierEmail):
		ev.Role = types.RoleSupplier
		ev.EntityName = po.SupplierName
	default:
		ev.EntityName = po.SupplierName
	}
}

// Keywords returns the known keywords present in lower-cased text.
func Keywords(text string) []string {
	var out []string
	for _, k := range keywordPatterns {
		if k.re.MatchString(text) {
			out = append(out, k.keyword)
		}
	}
	return out
}

// HeuristicIntents returns the intents whose patterns fire on lower-cased
// text. Attachments named like a test certificate count as mtc_provided.
func HeuristicIntents(text string, attachments []types.Attachment) []string {
	var out []string
	for _, p := range intentPatterns {
		if anyMatch(p.match, text) && !anyMatch(p.negative, text) {
			out = append(out, p.intent)
		}
	}
	if !slices.Contains(out, types.IntentMTCProvided) {
		for _, a := range attachments {
			if mtcAttachment.MatchString(a.Filename) {
				out = append(out, types.IntentMTCProvided)
				break
			}
		}
	}
	return out
}

// mergeIntents keeps model intents first, then heuristics, dropping
// duplicates and anything outside the vocabulary.
func mergeIntents(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		for _, i := range l {
			i = strings.ToLower(strings.TrimSpace(i))
			if types.IsValidIntent(i) && !slices.Contains(out, i) {
				out = append(out, i)
			}
		}
	}
	return out
}
