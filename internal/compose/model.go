package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/daviddao/poflow/internal/llm"
	"github.com/daviddao/poflow/internal/types"
)

// ErrUnparsableReply is returned when a model reply has no subject or body.
var ErrUnparsableReply = errors.New("could not parse subject/body from model reply")

type brief struct {
	purpose      string
	tone         string
	instructions []string
}

var briefs = map[string]brief{
	types.ScenarioNewPONotification: {
		purpose: "a vendor about a new purchase order",
		tone:    "formal and clear",
		instructions: []string{
			"Create a clear subject line that includes the PO number.",
			"Write a short email body stating that a new PO is attached.",
		},
	},
	types.ScenarioInitialPOEmail: {
		purpose: "the supplier placing a new purchase order",
		tone:    "formal and clear",
		instructions: []string{
			"Subject should include the PO number.",
			"Ask the supplier to acknowledge the order and confirm the delivery date.",
		},
	},
	types.ScenarioCreditHoldAlert: {
		purpose: "the internal finance department about a purchase order on credit hold",
		tone:    "urgent but formal",
		instructions: []string{
			"Create a subject line that clearly states the PO is on hold and requires action.",
			"Explain that the vendor has placed the PO on hold due to a payment issue.",
			"Include the vendor's original message for context.",
			"Request that the finance team provide a payment confirmation.",
		},
	},
	types.ScenarioPaymentConfirmationForward: {
		purpose: "a vendor, forwarding a payment confirmation to release a hold",
		tone:    "polite and direct",
		instructions: []string{
			"Create a subject line referencing the PO number.",
			"State that a payment confirmation is attached regarding the recent credit hold.",
			"Politely request that they proceed with processing the order.",
		},
	},
	types.ScenarioTechnicalQueryForward: {
		purpose: "the internal engineering team summarizing a vendor's technical query",
		tone:    "professional and actionable",
		instructions: []string{
			"Subject should reference the PO number and that this is a technical query.",
			"Briefly summarize the vendor's question and any key terms.",
			"Ask the engineering team to advise and reply to all with the next steps.",
		},
	},
	types.ScenarioMissingDeliveryDateRequest: {
		purpose: "the buyer requesting the missing expected delivery date of a purchase order",
		tone:    "polite and action-oriented",
		instructions: []string{
			"Subject should include the PO number and reference the missing delivery date.",
			"Ask the buyer for the expected delivery date so vendor communication can proceed.",
		},
	},
	types.ScenarioPartialBuyerDecisionSupplier: {
		purpose: "the supplier conveying the buyer's decision on partial availability",
		tone:    "clear and action-oriented",
		instructions: []string{
			"Subject should include the PO number and reference the buyer decision.",
			"Clearly state the buyer decision.",
			"If the accepted-items delivery date is known, ask the supplier to confirm it for the available quantity.",
			"If the remaining delivery date is known, ask the supplier to confirm it for the balance.",
		},
	},
	types.ScenarioPartialRequestRemainingDate: {
		purpose: "the supplier asking for the committed delivery date of the remaining quantity",
		tone:    "professional and specific",
		instructions: []string{
			"Subject should include the PO number and request the remaining delivery date.",
			"Acknowledge the partial availability and ask for the date of the remaining balance.",
		},
	},
	types.ScenarioDeliveryDateUpdateBuyer: {
		purpose: "the buyer reporting the supplier's updated promised delivery date",
		tone:    "clear and informative",
		instructions: []string{
			"Subject should include the PO number and indicate an updated delivery date.",
			"State the new promised delivery date.",
		},
	},
	types.ScenarioDeliveryDelayFollowup: {
		purpose: "the supplier about a delivery date that has lapsed",
		tone:    "firm yet professional",
		instructions: []string{
			"Subject should include the PO number and indicate overdue delivery.",
			"Ask for an updated committed delivery date and the reason for the delay.",
		},
	},
	types.ScenarioPartialQuantityConfirmation: {
		purpose: "the buyer summarizing the supplier's partial availability and asking for a decision",
		tone:    "clear and decision-oriented",
		instructions: []string{
			"Subject should include the PO number and indicate partial availability.",
			"Summarize that the supplier can only supply part of the requested quantity.",
			"Mention the accepted-items and remaining delivery dates when provided.",
			"Offer three numbered options: 1) accept the partial shipment, 2) split the PO, 3) wait for full availability.",
		},
	},
	types.ScenarioRequestClarification: {
		purpose: "a supplier requesting clarification on a purchase order",
		tone:    "polite and specific",
		instructions: []string{
			"Subject should include the PO number and ask for clarification.",
			"State the point of confusion we have identified.",
			"Ask the supplier for the information needed to resolve it.",
		},
	},
	types.ScenarioRequestMTC: {
		purpose: "a supplier requesting the Material Test Certificate (MTC) for a purchase order",
		tone:    "polite and clear",
		instructions: []string{
			"Subject should include the PO number and mention the MTC request.",
			"Remind the supplier that an MTC is required and ask for it at their earliest convenience.",
		},
	},
	types.ScenarioVendorNoResponseFollowup: {
		purpose: "the supplier when no response has been received",
		tone:    "firm and professional",
		instructions: []string{
			"Subject should include the PO number and indicate a follow-up.",
			"State that we are following up on our previous query and await a response.",
		},
	},
}

const composeSystem = "You write concise procurement emails. Reply with a single JSON object with the keys \"subject\" and \"body\"."

// Model composes mail with a language model.
type Model struct {
	llm llm.Completer
	log *slog.Logger
}

// NewModel returns a model-backed composer.
func NewModel(c llm.Completer, log *slog.Logger) *Model {
	if log == nil {
		log = slog.Default()
	}
	return &Model{llm: c, log: log.With("component", "compose")}
}

// Compose asks the model for the scenario's message.
func (m *Model) Compose(ctx context.Context, scenario string, data Data) (Content, error) {
	prompt, err := Prompt(scenario, data)
	if err != nil {
		return Content{}, err
	}

	reply, err := m.llm.Complete(ctx, composeSystem, prompt)
	if err != nil {
		return Content{}, fmt.Errorf("compose %s: %w", scenario, err)
	}

	content, err := ParseReply(reply)
	if err != nil {
		m.log.WarnContext(ctx, "Unusable model reply", "scenario", scenario, "err", err)
		return Content{}, fmt.Errorf("compose %s: %w", scenario, err)
	}
	return content, nil
}

// Prompt builds the model prompt for a scenario.
func Prompt(scenario string, data Data) (string, error) {
	b, ok := briefs[scenario]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownScenario, scenario)
	}

	var p strings.Builder
	fmt.Fprintf(&p, "Generate a concise email to %s.\nThe tone should be %s.\n\nDetails:\n", b.purpose, b.tone)

	detail := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			fmt.Fprintf(&p, "- %s: %s\n", label, value)
		}
	}
	detail("Purchase Order Number", data.PONumber)
	detail("Vendor Name", data.VendorName)
	detail("Supplier Name", data.SupplierName)
	detail("Buyer Name", data.BuyerName)
	detail("Promised Delivery Date (YYYY-MM-DD)", formatDate(data.PromisedDeliveryDate))
	detail("Accepted-items delivery date", formatDate(data.AcceptedDeliveryDate))
	detail("Remaining items delivery date", formatDate(data.RemainingDeliveryDate))
	if data.PartialDecision != "" {
		detail("Buyer Decision", fmt.Sprintf("%s (%s)", data.PartialDecision, decisionText(data.PartialDecision)))
	}
	detail("Point of Confusion", data.DiscrepancyReason)
	if body := strings.TrimSpace(data.OriginalBody); body != "" {
		detail("Original message", strconv.Quote(body))
	}
	if items := FormatLineItems(data.LineItems); items != "" {
		p.WriteString("\n" + items)
	}

	p.WriteString("\nInstructions:\n")
	for i, in := range b.instructions {
		fmt.Fprintf(&p, "%d. %s\n", i+1, in)
	}
	fmt.Fprintf(&p, "%d. Keep it brief and sign off as '%s'.\n", len(b.instructions)+1, Signature)
	p.WriteString("\nReturn a single JSON object: {\"subject\": \"...\", \"body\": \"...\"}\n")

	return p.String(), nil
}

var controlChars = regexp.MustCompile("[\x00-\x08\x0B\x0C\x0E-\x1F]")

// ParseReply extracts subject and body from a model reply. It tolerates
// code fences, chatter around the JSON and JSON that only parses key by
// key.
func ParseReply(reply string) (Content, error) {
	obj, ok := llm.JSONObject(reply)
	if !ok {
		obj = reply
	}
	obj = controlChars.ReplaceAllString(obj, "")

	var c Content
	if err := json.Unmarshal([]byte(obj), &c); err == nil && c.Valid() {
		return c, nil
	}

	subject, okS := stringValue(obj, "subject")
	body, okB := stringValue(obj, "body")
	if okS && okB {
		c = Content{Subject: subject, Body: body}
		if c.Valid() {
			return c, nil
		}
	}
	return Content{}, ErrUnparsableReply
}

// stringValue scans for "key": "..." and returns the unescaped string,
// stopping at the first unescaped quote.
func stringValue(text, key string) (string, bool) {
	re := regexp.MustCompile(`"` + regexp.QuoteMeta(key) + `"\s*:\s*"`)
	loc := re.FindStringIndex(text)
	if loc == nil {
		return "", false
	}

	var out strings.Builder
	escaped := false
	for _, r := range text[loc[1]:] {
		switch {
		case escaped:
			switch r {
			case 'n':
				out.WriteRune('\n')
			case 't':
				out.WriteRune('\t')
			default:
				out.WriteRune(r)
			}
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			return out.String(), true
		default:
			out.WriteRune(r)
		}
	}
	return "", false
}

// New picks the model composer when c is set, else the templates.
func New(c llm.Completer, log *slog.Logger) Composer {
	if c == nil {
		return NewTemplates()
	}
	return NewModel(c, log)
}
