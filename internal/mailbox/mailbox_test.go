package mailbox

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/daviddao/poflow/internal/engine"
	"github.com/daviddao/poflow/internal/gmail"
	"github.com/daviddao/poflow/internal/logging"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	summaries []gmail.MessageSummary
	messages  map[string]*gmail.FullMessage
	read      []string
	sent      []gmail.Outgoing
	searchErr error
}

func (f *fakeAPI) Search(_ context.Context, _ string, _ int64) ([]gmail.MessageSummary, error) {
	return f.summaries, f.searchErr
}

func (f *fakeAPI) ReadFull(_ context.Context, id string) (*gmail.FullMessage, error) {
	m, ok := f.messages[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return m, nil
}

func (f *fakeAPI) MarkRead(_ context.Context, id string) error {
	f.read = append(f.read, id)
	return nil
}

func (f *fakeAPI) Send(_ context.Context, msg gmail.Outgoing) (string, error) {
	f.sent = append(f.sent, msg)
	return "<sent@denicx.com>", nil
}

type memLedger map[string]string

func (l memLedger) IsProcessed(_ context.Context, id string) (bool, error) {
	_, ok := l[id]
	return ok, nil
}

func (l memLedger) MarkProcessed(_ context.Context, id, po string) error {
	l[id] = po
	return nil
}

func newFake() *fakeAPI {
	return &fakeAPI{
		// Newest first, as Gmail lists them.
		summaries: []gmail.MessageSummary{
			{ID: "g3", From: "po@denicx.com"},
			{ID: "g2", Subject: "fallback subject"},
			{ID: "gx"},
			{ID: "g1"},
		},
		messages: map[string]*gmail.FullMessage{
			"g1": {ID: "g1", From: "Ravi <ravi@supplier.example>", Subject: "PO-OG-2026-0147", MessageID: "<m1@s>",
				Attachments: []gmail.AttachmentInfo{{Filename: "MTC.pdf", MimeType: "application/pdf"}}},
			"g2": {ID: "g2", From: "buyer@denicx.com", MessageID: "<m2@d>", InReplyTo: "<o1@d>"},
			"g3": {ID: "g3", From: "po@denicx.com", MessageID: "<m3@d>"},
		},
	}
}

func TestFetchSkipsProcessedAndOwnMail(t *testing.T) {
	api := newFake()
	ledger := memLedger{"<m2@d>": ""}
	inbox := NewInbox(api, ledger, Config{Account: "PO@denicx.com", Log: logging.Discard()})

	got, err := inbox.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "g1", got[0].GmailID)
	require.Equal(t, "PO-OG-2026-0147", got[0].Email.Subject)
	require.Equal(t, "MTC.pdf", got[0].Email.Attachments[0].Filename)
}

func TestFetchOldestFirst(t *testing.T) {
	api := newFake()
	inbox := NewInbox(api, memLedger{}, Config{Log: logging.Discard()})

	got, err := inbox.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []string{"g1", "g2", "g3"}, []string{got[0].GmailID, got[1].GmailID, got[2].GmailID})
	require.Equal(t, "fallback subject", got[1].Email.Subject)
	require.Equal(t, "<o1@d>", got[1].Email.InReplyTo)
}

func TestFetchSearchError(t *testing.T) {
	api := newFake()
	api.searchErr = errors.New("quota")
	_, err := NewInbox(api, memLedger{}, Config{Log: logging.Discard()}).Fetch(context.Background())
	require.ErrorContains(t, err, "quota")
}

func TestAck(t *testing.T) {
	api := newFake()
	ledger := memLedger{}
	inbox := NewInbox(api, ledger, Config{MarkRead: true, Log: logging.Discard()})

	in := Inbound{GmailID: "g1", Email: toInbound(api.messages["g1"], gmail.MessageSummary{})}
	require.NoError(t, inbox.Ack(context.Background(), in, "PO-OG-2026-0147"))
	require.Equal(t, "PO-OG-2026-0147", ledger["<m1@s>"])
	require.Equal(t, []string{"g1"}, api.read)

	noID := Inbound{GmailID: "g9"}
	require.Equal(t, "gmail:g9", noID.Key())
}

func TestTransport(t *testing.T) {
	api := newFake()
	tr := NewTransport(api, "po@denicx.com")

	id, err := tr.Send(context.Background(), engine.OutboundEmail{
		To: "ravi@supplier.example", Subject: "s", Body: "b", InReplyTo: "<m1@s>", References: "<m1@s>",
	})
	require.NoError(t, err)
	require.Equal(t, "<sent@denicx.com>", id)
	require.Len(t, api.sent, 1)
	require.Equal(t, "po@denicx.com", api.sent[0].From)
	require.Equal(t, "<m1@s>", api.sent[0].InReplyTo)
}

func TestLogTransport(t *testing.T) {
	id, err := NewLogTransport("denicx.com", logging.Discard()).Send(context.Background(), engine.OutboundEmail{To: "x@y"})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(id, "@denicx.com>"))
}
