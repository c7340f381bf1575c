package compose

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/daviddao/poflow/internal/types"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestTemplatesCoverEveryScenario(t *testing.T) {
	t.Parallel()

	tmpl := NewTemplates()
	data := Data{
		PONumber:     "PO-OG-2026-0147",
		SupplierName: "Acme Steel",
		BuyerName:    "Jane",
		LineItems:    []types.LineItem{{Description: "Flange DN50", Quantity: 10, Unit: "pcs", UnitPrice: 12.5}},
	}
	for _, scenario := range types.ValidScenarios {
		c, err := tmpl.Compose(context.Background(), scenario, data)
		require.NoError(t, err, scenario)
		require.True(t, c.Valid(), scenario)
		require.Contains(t, c.Subject, "PO-OG-2026-0147", scenario)
		require.Contains(t, c.Body, "Flange DN50 (Quantity: 10 pcs, Unit Price: 12.50)", scenario)
		require.True(t, strings.HasSuffix(c.Body, Signature), scenario)
		require.NotContains(t, c.Body, "<no value>", scenario)
	}

	_, err := tmpl.Compose(context.Background(), "birthday_card", data)
	require.ErrorIs(t, err, ErrUnknownScenario)
}

func TestTemplateOptionalParts(t *testing.T) {
	t.Parallel()

	tmpl := NewTemplates()

	c, err := tmpl.Compose(context.Background(), types.ScenarioPartialBuyerDecisionSupplier, Data{
		PONumber:              "PO-A-01",
		PartialDecision:       types.AcceptPartial,
		RemainingDeliveryDate: day(2026, 3, 1),
	})
	require.NoError(t, err)
	require.Contains(t, c.Body, "accept the partial shipment")
	require.Contains(t, c.Body, "Please confirm 2026-03-01 as the delivery date for the remaining balance.")
	require.NotContains(t, c.Body, "available quantity")

	c, err = tmpl.Compose(context.Background(), types.ScenarioDeliveryDateUpdateBuyer, Data{
		PONumber:             "PO-A-01",
		PromisedDeliveryDate: day(2026, 2, 20),
	})
	require.NoError(t, err)
	require.Contains(t, c.Body, "PO-A-01: 2026-02-20.")
}

func TestPromptMentionsFacts(t *testing.T) {
	t.Parallel()

	p, err := Prompt(types.ScenarioPartialQuantityConfirmation, Data{
		PONumber:              "PO-A-01",
		SupplierName:          "Acme Steel",
		AcceptedDeliveryDate:  day(2026, 2, 15),
		RemainingDeliveryDate: day(2026, 3, 1),
		OriginalBody:          "we can ship 8 now",
	})
	require.NoError(t, err)
	require.Contains(t, p, "- Purchase Order Number: PO-A-01")
	require.Contains(t, p, "- Accepted-items delivery date: 2026-02-15")
	require.Contains(t, p, "- Remaining items delivery date: 2026-03-01")
	require.Contains(t, p, `"we can ship 8 now"`)
	require.NotContains(t, p, "Buyer Name")
	require.Contains(t, p, "sign off as 'Denicx Automation'")

	_, err = Prompt("nope", Data{})
	require.ErrorIs(t, err, ErrUnknownScenario)
}

func TestParseReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply string
		want  Content
	}{
		{
			name:  "plain json",
			reply: `{"subject": "PO-1 update", "body": "Hello"}`,
			want:  Content{Subject: "PO-1 update", Body: "Hello"},
		},
		{
			name:  "fenced with chatter",
			reply: "Here you go:\n```json\n{\"subject\": \"S\", \"body\": \"Line 1\\nLine 2\"}\n```",
			want:  Content{Subject: "S", Body: "Line 1\nLine 2"},
		},
		{
			name:  "raw newline inside string",
			reply: "{\"subject\": \"S\", \"body\": \"Line 1\nLine 2\"}",
			want:  Content{Subject: "S", Body: "Line 1\nLine 2"},
		},
		{
			name:  "trailing garbage breaks json",
			reply: `{"subject": "S", "body": "B", }`,
			want:  Content{Subject: "S", Body: "B"},
		},
	}
	for _, tc := range tests {
		got, err := ParseReply(tc.reply)
		require.NoError(t, err, tc.name)
		require.Equal(t, tc.want, got, tc.name)
	}

	_, err := ParseReply("Sorry, I cannot help with that.")
	require.ErrorIs(t, err, ErrUnparsableReply)

	_, err = ParseReply(`{"subject": "only subject"}`)
	require.ErrorIs(t, err, ErrUnparsableReply)
}

type fakeCompleter struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeCompleter) Complete(_ context.Context, _, prompt string) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

func TestModelCompose(t *testing.T) {
	t.Parallel()

	fc := &fakeCompleter{reply: `{"subject": "Follow-up: PO-A-01", "body": "Any news?"}`}
	c, err := New(fc, nil).Compose(context.Background(), types.ScenarioVendorNoResponseFollowup, Data{PONumber: "PO-A-01"})
	require.NoError(t, err)
	require.Equal(t, "Follow-up: PO-A-01", c.Subject)
	require.Contains(t, fc.prompt, "PO-A-01")

	fc = &fakeCompleter{err: errors.New("quota exceeded")}
	_, err = NewModel(fc, nil).Compose(context.Background(), types.ScenarioRequestMTC, Data{})
	require.ErrorContains(t, err, "quota exceeded")

	require.IsType(t, &Templates{}, New(nil, nil))
}
