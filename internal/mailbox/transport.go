package mailbox

import (
	"context"
	"log/slog"

	"github.com/daviddao/poflow/internal/engine"
	"github.com/daviddao/poflow/internal/gmail"
)

// Transport sends engine mail through Gmail.
type Transport struct {
	api  API
	from string
}

var _ engine.Transport = (*Transport)(nil)

// NewTransport returns a Transport sending as from.
func NewTransport(api API, from string) *Transport {
	return &Transport{api: api, from: from}
}

// Send delivers msg and returns its Message-ID.
func (t *Transport) Send(ctx context.Context, msg engine.OutboundEmail) (string, error) {
	return t.api.Send(ctx, gmail.Outgoing{
		From:       t.from,
		To:         msg.To,
		Subject:    msg.Subject,
		Body:       msg.Body,
		InReplyTo:  msg.InReplyTo,
		References: msg.References,
	})
}

// LogTransport logs outbound mail instead of sending it. It is used when
// no mailbox is configured.
type LogTransport struct {
	domain string
	log    *slog.Logger
}

var _ engine.Transport = (*LogTransport)(nil)

// NewLogTransport returns a LogTransport minting Message-IDs in domain.
func NewLogTransport(domain string, log *slog.Logger) *LogTransport {
	if log == nil {
		log = slog.Default()
	}
	return &LogTransport{domain: domain, log: log.With("component", "mailbox")}
}

// Send logs msg and returns a fresh Message-ID.
func (t *LogTransport) Send(ctx context.Context, msg engine.OutboundEmail) (string, error) {
	id := gmail.NewMessageID(t.domain)
	t.log.InfoContext(ctx, "Outbound mail (not sent)",
		"to", msg.To, "subject", msg.Subject, "message_id", id, "in_reply_to", msg.InReplyTo)
	return id, nil
}
