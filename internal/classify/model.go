package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/daviddao/poflow/internal/llm"
	"github.com/daviddao/poflow/internal/types"
)

const triageSystem = "You are an email triage assistant for procurement. Reply with strict JSON only."

// modelIntents asks the model for intents. It returns nil without a model
// or on any failure; the heuristics still apply.
func (c *Classifier) modelIntents(ctx context.Context, ev *types.ClassifiedEvent, po *types.PurchaseOrder) []string {
	if c.llm == nil {
		return nil
	}

	var p strings.Builder
	p.WriteString("Categorize the email into zero or more intents from this controlled list only:\n")
	p.WriteString(strings.Join(types.ValidIntents, ", "))
	p.WriteString("\n\nReturn a JSON object with a single key \"intents\" holding an array of strings from the list. Return an empty array when nothing matches.\n\n")
	if po != nil && po.Status != "" {
		fmt.Fprintf(&p, "PO context: status %s", po.Status)
		for _, li := range po.LineItems {
			fmt.Fprintf(&p, "; %s x %g", li.Description, li.Quantity)
		}
		p.WriteString("\n")
	}
	fmt.Fprintf(&p, "Subject: %s\nBody: %s\n", ev.Subject, ev.Body)

	var out struct {
		Intents []string `json:"intents"`
	}
	if !c.ask(ctx, p.String(), &out) {
		return nil
	}
	return out.Intents
}

// pickCandidate asks the model which of the sender's open POs the message
// is about. Answers outside the candidate list are ignored.
func (c *Classifier) pickCandidate(ctx context.Context, subject, body string, candidates []*types.PurchaseOrder) *types.PurchaseOrder {
	if c.llm == nil {
		return nil
	}

	var p strings.Builder
	p.WriteString("The email below does not name a purchase order. Pick the open purchase order it most likely refers to.\n\nOpen purchase orders:\n")
	for _, po := range candidates {
		fmt.Fprintf(&p, "- %s (status %s", po.PONumber, po.Status)
		for _, li := range po.LineItems {
			fmt.Fprintf(&p, "; %s", li.Description)
		}
		p.WriteString(")\n")
	}
	fmt.Fprintf(&p, "\nSubject: %s\nBody: %s\n\nReturn {\"po_number\": \"...\"}, or {\"po_number\": null} when unsure.\n", subject, body)

	var out struct {
		PONumber *string `json:"po_number"`
	}
	if !c.ask(ctx, p.String(), &out) || out.PONumber == nil {
		return nil
	}
	want := strings.ToUpper(strings.TrimSpace(*out.PONumber))
	for _, po := range candidates {
		if po.PONumber == want {
			return po
		}
	}
	return nil
}

func (c *Classifier) ask(ctx context.Context, prompt string, out any) bool {
	reply, err := c.llm.Complete(ctx, triageSystem, prompt)
	if err != nil {
		c.log.WarnContext(ctx, "Model triage failed", "err", err)
		return false
	}
	obj, ok := llm.JSONObject(reply)
	if !ok {
		c.log.DebugContext(ctx, "Model triage reply has no JSON object")
		return false
	}
	if err := json.Unmarshal([]byte(obj), out); err != nil {
		c.log.DebugContext(ctx, "Model triage reply is not valid JSON", "err", err)
		return false
	}
	return true
}
