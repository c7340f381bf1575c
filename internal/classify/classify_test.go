package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/daviddao/poflow/internal/engine"
	"github.com/daviddao/poflow/internal/types"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	pos map[string]*types.PurchaseOrder
	err error
}

func (f *fakeDirectory) Get(_ context.Context, poNumber string) (*types.PurchaseOrder, error) {
	if f.err != nil {
		return nil, f.err
	}
	po, ok := f.pos[poNumber]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", poNumber, engine.ErrUnknownPO)
	}
	return po.Clone(), nil
}

func (f *fakeDirectory) ActiveByEmail(_ context.Context, email string) ([]*types.PurchaseOrder, error) {
	var out []*types.PurchaseOrder
	for _, number := range []string{"PO-AX-301", "PO-OG-202", "PO-OG-2026-0147"} {
		po, ok := f.pos[number]
		if !ok || types.IsTerminal(po.Status) {
			continue
		}
		if strings.EqualFold(po.SupplierEmail, email) || strings.EqualFold(po.BuyerEmail, email) {
			out = append(out, po.Clone())
		}
	}
	return out, nil
}

type fakeCompleter struct {
	reply string
	err   error
}

func (f *fakeCompleter) Complete(context.Context, string, string) (string, error) {
	return f.reply, f.err
}

func testDirectory() *fakeDirectory {
	return &fakeDirectory{pos: map[string]*types.PurchaseOrder{
		"PO-OG-2026-0147": {
			PONumber:      "PO-OG-2026-0147",
			BuyerName:     "Jane Buyer",
			BuyerEmail:    "jane@denicx.com",
			SupplierName:  "Acme Steel",
			SupplierEmail: "sales@acme.example",
			Status:        types.StatusAwaitingAcknowledgment,
		},
		"PO-AX-301": {
			PONumber:      "PO-AX-301",
			SupplierName:  "Valve Co",
			SupplierEmail: "orders@valve.example",
			Status:        types.StatusIssued,
		},
		"PO-OG-202": {
			PONumber:      "PO-OG-202",
			SupplierName:  "Valve Co",
			SupplierEmail: "orders@valve.example",
			Status:        types.StatusAcknowledged,
		},
	}}
}

func newClassifier(dir Directory, c *fakeCompleter) *Classifier {
	cfg := Config{InternalDomains: []string{"Denicx.com"}}
	if c != nil {
		cfg.LLM = c
	}
	return New(dir, cfg)
}

func TestPONumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		subject, body, want string
	}{
		{"Re: po-og-2026-0147 update", "", "PO-OG-2026-0147"},
		{"Update", "regarding PO-AX-301 and PO-OG-202", "PO-AX-301"},
		{"PO-OG-202", "PO-AX-301", "PO-OG-202"},
		{"PO-1", "no number here", ""},
		{"XPO-AB-12", "", ""},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, PONumber(tc.subject, tc.body), tc.subject)
	}
}

func TestClassifySupplierMail(t *testing.T) {
	t.Parallel()

	c := newClassifier(testDirectory(), nil)
	ev, err := c.Classify(context.Background(), types.InboundEmail{
		From:      `"Acme Sales" <Sales@Acme.example>`,
		Subject:   "RE: PO-OG-2026-0147",
		Body:      "Sorry, the order is delayed. We can only ship 8 now, remaining 2 by 2026-03-01.",
		MessageID: "<m1@acme.example>",
	})
	require.NoError(t, err)
	require.Equal(t, "PO-OG-2026-0147", ev.PONumber)
	require.Equal(t, types.RoleSupplier, ev.Role)
	require.Equal(t, "Acme Steel", ev.EntityName)
	require.Equal(t, "sales@acme.example", ev.FromEmail)
	require.Equal(t, "<m1@acme.example>", ev.MessageID)
	require.Contains(t, ev.Keywords, "delay")
	require.Contains(t, ev.Intents, types.IntentDeliveryDelay)
	require.Contains(t, ev.Intents, types.IntentPartialAvailability)
}

func TestClassifyBuyerMail(t *testing.T) {
	t.Parallel()

	c := newClassifier(testDirectory(), nil)
	ev, err := c.Classify(context.Background(), types.InboundEmail{
		From:    "jane@denicx.com",
		Subject: "Re: PO-OG-2026-0147: partial availability, decision needed",
		Body:    "option 1 works for us",
	})
	require.NoError(t, err)
	require.Equal(t, types.RoleInternal, ev.Role)
	require.Equal(t, "Jane Buyer", ev.EntityName)

	// An internal colleague who is not the buyer keeps the internal role.
	ev, err = c.Classify(context.Background(), types.InboundEmail{
		From:    "ops@denicx.com",
		Subject: "PO-OG-2026-0147",
	})
	require.NoError(t, err)
	require.Equal(t, types.RoleInternal, ev.Role)
	require.Equal(t, "Acme Steel", ev.EntityName)
}

func TestClassifyUnknownAndMissingPO(t *testing.T) {
	t.Parallel()

	c := newClassifier(testDirectory(), nil)

	ev, err := c.Classify(context.Background(), types.InboundEmail{From: "x@y.example", Subject: "PO-ZZ-999"})
	require.NoError(t, err)
	require.Equal(t, "PO-ZZ-999", ev.PONumber)
	require.Empty(t, ev.EntityName)

	ev, err = c.Classify(context.Background(), types.InboundEmail{From: "stranger@y.example", Subject: "hello"})
	require.NoError(t, err)
	require.Empty(t, ev.PONumber)

	broken := &fakeDirectory{err: errors.New("disk on fire")}
	_, err = newClassifier(broken, nil).Classify(context.Background(), types.InboundEmail{Subject: "PO-OG-202"})
	require.ErrorContains(t, err, "disk on fire")
}

func TestClassifyResolvesBySender(t *testing.T) {
	t.Parallel()

	dir := testDirectory()

	ev, err := newClassifier(dir, nil).Classify(context.Background(), types.InboundEmail{
		From:    "sales@acme.example",
		Subject: "Order update",
		Body:    "Goods have been delivered today.",
	})
	require.NoError(t, err)
	require.Equal(t, "PO-OG-2026-0147", ev.PONumber)
	require.Contains(t, ev.Intents, types.IntentDeliveryCompleted)

	// Two open POs and no model: unresolved.
	ev, err = newClassifier(dir, nil).Classify(context.Background(), types.InboundEmail{
		From:    "orders@valve.example",
		Subject: "Order update",
	})
	require.NoError(t, err)
	require.Empty(t, ev.PONumber)

	// The model picks among the candidates.
	ev, err = newClassifier(dir, &fakeCompleter{reply: `{"po_number": "po-og-202", "intents": []}`}).Classify(context.Background(), types.InboundEmail{
		From:    "orders@valve.example",
		Subject: "Order update",
	})
	require.NoError(t, err)
	require.Equal(t, "PO-OG-202", ev.PONumber)

	// Answers outside the candidate list are ignored.
	ev, err = newClassifier(dir, &fakeCompleter{reply: `{"po_number": "PO-OG-2026-0147"}`}).Classify(context.Background(), types.InboundEmail{
		From:    "orders@valve.example",
		Subject: "Order update",
	})
	require.NoError(t, err)
	require.Empty(t, ev.PONumber)
}

func TestModelIntentsMerged(t *testing.T) {
	t.Parallel()

	c := newClassifier(testDirectory(), &fakeCompleter{
		reply: "```json\n{\"intents\": [\"Credit_Hold\", \"made_up\", \"acknowledgment\"]}\n```",
	})
	ev, err := c.Classify(context.Background(), types.InboundEmail{
		From:    "sales@acme.example",
		Subject: "PO-OG-2026-0147",
		Body:    "We acknowledge the order.",
	})
	require.NoError(t, err)
	require.Equal(t, []string{types.IntentCreditHold, types.IntentAcknowledgment}, ev.Intents)

	c = newClassifier(testDirectory(), &fakeCompleter{err: errors.New("quota exceeded")})
	ev, err = c.Classify(context.Background(), types.InboundEmail{
		From:    "sales@acme.example",
		Subject: "PO-OG-2026-0147",
		Body:    "We acknowledge the order.",
	})
	require.NoError(t, err)
	require.Equal(t, []string{types.IntentAcknowledgment}, ev.Intents)
}

func TestHeuristicIntents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		text        string
		attachments []types.Attachment
		want        []string
		absent      []string
	}{
		{
			name: "credit hold",
			text: "your order is on credit hold until payment",
			want: []string{types.IntentCreditHold},
		},
		{
			name:   "word boundaries",
			text:   "we will send it back with the specified packaging",
			absent: []string{types.IntentAcknowledgment, types.IntentTechnicalQuery},
		},
		{
			name: "mtc attached",
			text: "please find the mtc for the flanges",
			want: []string{types.IntentMTCProvided},
		},
		{
			name:   "mtc missing is not provided",
			text:   "the shipment left without the mtc attached",
			absent: []string{types.IntentMTCProvided},
		},
		{
			name:        "mtc attachment",
			text:        "see attachment",
			attachments: []types.Attachment{{Filename: "MTC_PO-OG-202.pdf"}},
			want:        []string{types.IntentMTCProvided},
		},
		{
			name:   "future delivery is not completed",
			text:   "goods delivered on time, the rest will be delivered next week",
			absent: []string{types.IntentDeliveryCompleted},
		},
		{
			name: "third party",
			text: "our sub-supplier is short of raw material",
			want: []string{types.IntentThirdPartyIssue},
		},
	}
	for _, tc := range tests {
		got := HeuristicIntents(tc.text, tc.attachments)
		for _, w := range tc.want {
			require.Contains(t, got, w, tc.name)
		}
		for _, a := range tc.absent {
			require.NotContains(t, got, a, tc.name)
		}
	}
}

func TestPlainText(t *testing.T) {
	t.Parallel()

	html := `<html><head><style>p{color:red}</style></head><body>
<p>Hello   team,</p><div>PO-OG-202 is <b>delayed</b>.<br>Regards</div></body></html>`
	got := PlainText(html)
	require.Equal(t, "Hello team,\nPO-OG-202 is delayed.\nRegards", got)
	require.NotContains(t, got, "color")

	require.Equal(t, "a < b", PlainText("  a < b \n"))
}

func TestNormalizeDate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2026-02-10T09:30:00Z", NormalizeDate("Tue, 10 Feb 2026 10:30:00 +0100"))
	require.Equal(t, "2026-02-10T09:30:00Z", NormalizeDate("2026-02-10T09:30:00"))
	require.Equal(t, "last tuesday", NormalizeDate("last tuesday"))
	require.Empty(t, NormalizeDate(""))
}
