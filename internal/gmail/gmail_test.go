package gmail

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	gm "google.golang.org/api/gmail/v1"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestComposeThreadedMessage(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)
	raw, id, err := Compose(Outgoing{
		From:       "po@denicx.example",
		To:         "sales@supplier.example",
		Subject:    "PO-OG-2026-0147: delivery overdue",
		Body:       "Dear Supplier,\n\nPlease send an **updated** date.",
		InReplyTo:  "<s0@supplier.example>",
		References: "<a@x> <s0@supplier.example>",
	}, now)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, "<"))
	require.True(t, strings.HasSuffix(id, "@denicx.example>"))

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "sales@supplier.example", msg.Header.Get("To"))
	require.Equal(t, "PO-OG-2026-0147: delivery overdue", msg.Header.Get("Subject"))
	require.Equal(t, id, msg.Header.Get("Message-ID"))
	require.Equal(t, "<s0@supplier.example>", msg.Header.Get("In-Reply-To"))
	require.Equal(t, "<a@x> <s0@supplier.example>", msg.Header.Get("References"))

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/alternative", mediaType)

	mr := multipart.NewReader(msg.Body, params["boundary"])
	var parts []string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(p)
		require.NoError(t, err)
		parts = append(parts, string(b))
	}
	require.Len(t, parts, 2)
	require.Contains(t, parts[0], "**updated**")
	require.Contains(t, parts[1], "<strong>updated</strong>")
}

func TestComposeOmitsEmptyThreading(t *testing.T) {
	raw, _, err := Compose(Outgoing{From: "po@denicx.example", To: "b@x", Subject: "s", Body: "b"}, time.Now())
	require.NoError(t, err)

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Empty(t, msg.Header.Get("In-Reply-To"))
	require.Empty(t, msg.Header.Get("References"))
}

func TestNewMessageIDUnique(t *testing.T) {
	a, b := NewMessageID("x.example"), NewMessageID("x.example")
	require.NotEqual(t, a, b)
	require.Contains(t, NewMessageID(""), "@poflow.local>")
}

func TestDecodeMessage(t *testing.T) {
	msg := &gm.Message{
		Id:       "m1",
		ThreadId: "t1",
		LabelIds: []string{"INBOX", "UNREAD"},
		Payload: &gm.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gm.MessagePartHeader{
				{Name: "From", Value: "Ravi <ravi@supplier.example>"},
				{Name: "Subject", Value: "Re: PO-OG-2026-0147"},
				{Name: "Message-ID", Value: "<s1@supplier.example>"},
				{Name: "In-Reply-To", Value: "<o1@denicx.example>"},
				{Name: "References", Value: "<o1@denicx.example>"},
			},
			Parts: []*gm.MessagePart{
				{
					MimeType: "multipart/alternative",
					Parts: []*gm.MessagePart{
						{MimeType: "text/html", Body: &gm.MessagePartBody{Data: b64("<p>html</p>")}},
						{MimeType: "text/plain", Body: &gm.MessagePartBody{Data: b64("plain body")}},
					},
				},
				{
					MimeType: "application/pdf",
					Filename: "MTC_PO-OG-2026-0147.pdf",
					Body:     &gm.MessagePartBody{AttachmentId: "att1", Size: 2048},
				},
			},
		},
	}

	full := decodeMessage(msg)
	require.Equal(t, "plain body", full.Body)
	require.False(t, full.HTML)
	require.Equal(t, "<s1@supplier.example>", full.MessageID)
	require.Equal(t, "<o1@denicx.example>", full.InReplyTo)
	require.Equal(t, "<o1@denicx.example>", full.References)
	require.Len(t, full.Attachments, 1)
	require.Equal(t, "MTC_PO-OG-2026-0147.pdf", full.Attachments[0].Filename)
	require.Equal(t, int64(2048), full.Attachments[0].Size)
}

func TestExtractBodyHTMLOnly(t *testing.T) {
	body, html := extractBody(&gm.MessagePart{
		MimeType: "text/html",
		Body:     &gm.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte("<b>hi</b>"))},
	})
	require.Equal(t, "<b>hi</b>", body)
	require.True(t, html)
}

func TestHeaderMapFirstWins(t *testing.T) {
	m := headerMap([]*gm.MessagePartHeader{
		{Name: "Received", Value: "first"},
		{Name: "received", Value: "second"},
	})
	require.Equal(t, "first", m["received"])
}
