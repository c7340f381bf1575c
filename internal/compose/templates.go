package compose

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/daviddao/poflow/internal/types"
)

type scenarioTemplate struct {
	subject string
	body    string
}

var templateFuncs = template.FuncMap{
	"date":     formatDate,
	"items":    FormatLineItems,
	"decision": decisionText,
	"quote": func(s string) string {
		s = strings.TrimSpace(s)
		if s == "" {
			return ""
		}
		return "> " + strings.ReplaceAll(s, "\n", "\n> ")
	},
}

// Every body is markdown and is followed by the line items and signature.
var scenarioTemplates = map[string]scenarioTemplate{
	types.ScenarioNewPONotification: {
		subject: "New Purchase Order {{.PONumber}}",
		body: `Dear {{or .VendorName .SupplierName "Supplier"}},

Please find attached our purchase order {{.PONumber}}. Kindly confirm receipt and the expected delivery date.`,
	},
	types.ScenarioInitialPOEmail: {
		subject: "Purchase Order {{.PONumber}}",
		body: `Dear {{or .SupplierName .VendorName "Supplier"}},

We are pleased to place purchase order {{.PONumber}} with you. Please acknowledge this order and confirm the delivery date.{{with date .PromisedDeliveryDate}}

Our requested delivery date is {{.}}.{{end}}`,
	},
	types.ScenarioCreditHoldAlert: {
		subject: "Action required: {{.PONumber}} on credit hold",
		body: `Hello Finance team,

{{or .VendorName "The supplier"}} has placed purchase order {{.PONumber}} on hold because of a payment issue. Please send a payment confirmation so the order can be released.
{{with quote .OriginalBody}}
Supplier message:

{{.}}{{end}}`,
	},
	types.ScenarioPaymentConfirmationForward: {
		subject: "Re: {{.PONumber}} payment confirmation",
		body: `Dear {{or .VendorName .SupplierName "Supplier"}},

Please find the payment confirmation for purchase order {{.PONumber}} regarding the recent credit hold. Kindly proceed with processing the order.`,
	},
	types.ScenarioTechnicalQueryForward: {
		subject: "Technical query on {{.PONumber}}",
		body: `Hello Engineering team,

{{or .VendorName "The supplier"}} raised a technical question on purchase order {{.PONumber}}. Please advise and reply to all with the next steps.
{{with quote .OriginalBody}}
Supplier query:

{{.}}{{end}}`,
	},
	types.ScenarioMissingDeliveryDateRequest: {
		subject: "{{.PONumber}}: expected delivery date missing",
		body: `Dear {{or .BuyerName "Buyer"}},

Purchase order {{.PONumber}} has no expected delivery date. Please provide it so we can continue with the supplier.`,
	},
	types.ScenarioPartialBuyerDecisionSupplier: {
		subject: "Re: {{.PONumber}} buyer decision on partial availability",
		body: `Dear {{or .SupplierName .VendorName "Supplier"}},

Regarding the partial availability on purchase order {{.PONumber}}, the buyer has decided to {{decision .PartialDecision}}.{{with date .AcceptedDeliveryDate}}

Please confirm {{.}} as the delivery date for the available quantity.{{end}}{{with date .RemainingDeliveryDate}}

Please confirm {{.}} as the delivery date for the remaining balance.{{end}}`,
	},
	types.ScenarioPartialRequestRemainingDate: {
		subject: "Re: {{.PONumber}} delivery date for remaining quantity",
		body: `Dear {{or .SupplierName .VendorName "Supplier"}},

Thank you for letting us know about the partial availability on purchase order {{.PONumber}}. Please share the committed delivery date for the remaining balance.`,
	},
	types.ScenarioDeliveryDateUpdateBuyer: {
		subject: "{{.PONumber}}: updated delivery date",
		body: `Dear {{or .BuyerName "Buyer"}},

{{or .SupplierName "The supplier"}} has promised a new delivery date for purchase order {{.PONumber}}: {{or (date .PromisedDeliveryDate) "not stated"}}.`,
	},
	types.ScenarioDeliveryDelayFollowup: {
		subject: "{{.PONumber}}: delivery overdue",
		body: `Dear {{or .SupplierName .VendorName "Supplier"}},

The delivery date for purchase order {{.PONumber}} has passed. Please send an updated committed delivery date and the reason for the delay.`,
	},
	types.ScenarioPartialQuantityConfirmation: {
		subject: "{{.PONumber}}: partial availability, decision needed",
		body: `Dear {{or .BuyerName "Buyer"}},

{{or .SupplierName "The supplier"}} can only supply part of the quantity on purchase order {{.PONumber}}.{{with date .AcceptedDeliveryDate}}
The available quantity can be delivered on {{.}}.{{end}}{{with date .RemainingDeliveryDate}}
The remaining quantity is promised for {{.}}.{{end}}

How would you like to proceed?

1. Accept the partial shipment
2. Split the purchase order
3. Wait for full availability`,
	},
	types.ScenarioRequestClarification: {
		subject: "{{.PONumber}}: clarification needed",
		body: `Dear {{or .VendorName .SupplierName "Supplier"}},

We need clarification on purchase order {{.PONumber}}{{with .DiscrepancyReason}}: {{.}}.{{else}}.{{end}} Please send the missing information so we can resolve it.`,
	},
	types.ScenarioRequestMTC: {
		subject: "{{.PONumber}}: Material Test Certificate required",
		body: `Dear {{or .VendorName .SupplierName "Supplier"}},

A Material Test Certificate (MTC) is required for purchase order {{.PONumber}}. Please provide it at your earliest convenience.`,
	},
	types.ScenarioVendorNoResponseFollowup: {
		subject: "Follow-up: {{.PONumber}}",
		body: `Dear {{or .SupplierName .VendorName "Supplier"}},

We are following up on our previous message about purchase order {{.PONumber}} and are still awaiting your response.`,
	},
}

type compiledTemplate struct {
	subject *template.Template
	body    *template.Template
}

// Templates composes mail from fixed text. It needs no network access.
type Templates struct {
	byScenario map[string]compiledTemplate
}

// NewTemplates parses the built-in scenario templates.
func NewTemplates() *Templates {
	t := &Templates{byScenario: make(map[string]compiledTemplate, len(scenarioTemplates))}
	for name, st := range scenarioTemplates {
		t.byScenario[name] = compiledTemplate{
			subject: template.Must(template.New(name + ".subject").Funcs(templateFuncs).Parse(st.subject)),
			body:    template.Must(template.New(name + ".body").Funcs(templateFuncs).Parse(st.body)),
		}
	}
	return t
}

// Compose renders the scenario's template with data.
func (t *Templates) Compose(_ context.Context, scenario string, data Data) (Content, error) {
	ct, ok := t.byScenario[scenario]
	if !ok {
		return Content{}, fmt.Errorf("%w: %q", ErrUnknownScenario, scenario)
	}

	var subject, body bytes.Buffer
	if err := ct.subject.Execute(&subject, data); err != nil {
		return Content{}, fmt.Errorf("render %s subject: %w", scenario, err)
	}
	if err := ct.body.Execute(&body, data); err != nil {
		return Content{}, fmt.Errorf("render %s body: %w", scenario, err)
	}

	out := strings.TrimSpace(body.String())
	if items := FormatLineItems(data.LineItems); items != "" {
		out += "\n\n" + strings.TrimSpace(items)
	}
	out += "\n\nBest regards,\n" + Signature

	return Content{Subject: strings.TrimSpace(subject.String()), Body: out}, nil
}
