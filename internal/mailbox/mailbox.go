// Package mailbox connects the engine to a Gmail account: it pulls unread
// inbound mail and sends the engine's outbound messages.
package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/daviddao/poflow/internal/gmail"
	"github.com/daviddao/poflow/internal/types"
	gm "google.golang.org/api/gmail/v1"
)

// API is the slice of Gmail the mailbox uses.
type API interface {
	Search(ctx context.Context, query string, maxResults int64) ([]gmail.MessageSummary, error)
	ReadFull(ctx context.Context, id string) (*gmail.FullMessage, error)
	MarkRead(ctx context.Context, id string) error
	Send(ctx context.Context, msg gmail.Outgoing) (string, error)
}

// Service adapts a Gmail API service to API.
type Service struct {
	svc *gm.Service
}

var _ API = (*Service)(nil)

// NewService wraps an authenticated Gmail service.
func NewService(svc *gm.Service) *Service {
	return &Service{svc: svc}
}

func (s *Service) Search(ctx context.Context, query string, maxResults int64) ([]gmail.MessageSummary, error) {
	return gmail.Search(ctx, s.svc, query, maxResults)
}

func (s *Service) ReadFull(ctx context.Context, id string) (*gmail.FullMessage, error) {
	return gmail.ReadFull(ctx, s.svc, id)
}

func (s *Service) MarkRead(ctx context.Context, id string) error {
	return gmail.MarkRead(ctx, s.svc, id)
}

func (s *Service) Send(ctx context.Context, msg gmail.Outgoing) (string, error) {
	return gmail.Send(ctx, s.svc, msg)
}

// Ledger remembers which inbound messages were handled.
type Ledger interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID, poNumber string) error
}

// Config tunes an Inbox.
type Config struct {
	// Account is the mailbox address; mail from it is never processed.
	Account   string
	Query     string
	BatchSize int64
	MarkRead  bool
	Log       *slog.Logger
}

// Inbox fetches inbound mail that has not been processed yet.
type Inbox struct {
	api    API
	ledger Ledger
	cfg    Config
	log    *slog.Logger
}

// Inbound is a fetched message and the Gmail id needed to acknowledge it.
type Inbound struct {
	GmailID string
	Email   types.InboundEmail
}

// Key is the ledger key: the Message-ID header, else the Gmail id.
func (in Inbound) Key() string {
	if in.Email.MessageID != "" {
		return in.Email.MessageID
	}
	return "gmail:" + in.GmailID
}

// NewInbox returns an Inbox.
func NewInbox(api API, ledger Ledger, cfg Config) *Inbox {
	if cfg.Query == "" {
		cfg.Query = "is:unread in:inbox"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Inbox{api: api, ledger: ledger, cfg: cfg, log: log.With("component", "mailbox")}
}

// Fetch returns up to BatchSize unprocessed messages, oldest first. A
// message that cannot be read is logged and skipped.
func (b *Inbox) Fetch(ctx context.Context) ([]Inbound, error) {
	results, err := b.api.Search(ctx, b.cfg.Query, b.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("search inbox: %w", err)
	}

	var out []Inbound
	skipped := 0
	// Gmail lists newest first.
	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		full, err := b.api.ReadFull(ctx, r.ID)
		if err != nil {
			b.log.WarnContext(ctx, "Failed to read message", "id", r.ID, "err", err)
			continue
		}

		in := Inbound{GmailID: full.ID, Email: toInbound(full, r)}
		if b.own(in.Email.From) {
			skipped++
			continue
		}

		done, err := b.ledger.IsProcessed(ctx, in.Key())
		if err != nil {
			return out, fmt.Errorf("check processed %s: %w", in.Key(), err)
		}
		if done {
			skipped++
			continue
		}
		out = append(out, in)
	}

	b.log.DebugContext(ctx, "Fetched inbox", "found", len(results), "new", len(out), "skipped", skipped)
	return out, nil
}

func (b *Inbox) own(from string) bool {
	return b.cfg.Account != "" && types.ExtractAddress(from) == strings.ToLower(b.cfg.Account)
}

// Ack records the message as processed for poNumber (possibly empty) and
// marks it read when configured.
func (b *Inbox) Ack(ctx context.Context, in Inbound, poNumber string) error {
	if err := b.ledger.MarkProcessed(ctx, in.Key(), poNumber); err != nil {
		return fmt.Errorf("mark processed %s: %w", in.Key(), err)
	}
	if b.cfg.MarkRead && in.GmailID != "" {
		if err := b.api.MarkRead(ctx, in.GmailID); err != nil {
			b.log.WarnContext(ctx, "Failed to mark message read", "id", in.GmailID, "err", err)
		}
	}
	return nil
}

func toInbound(full *gmail.FullMessage, summary gmail.MessageSummary) types.InboundEmail {
	email := types.InboundEmail{
		ID:         full.ID,
		From:       defaultStr(full.From, summary.From),
		To:         full.To,
		Subject:    defaultStr(full.Subject, summary.Subject),
		Body:       full.Body,
		Date:       defaultStr(full.Date, summary.Date),
		MessageID:  full.MessageID,
		InReplyTo:  full.InReplyTo,
		References: full.References,
	}
	for _, a := range full.Attachments {
		email.Attachments = append(email.Attachments, types.Attachment{
			Filename: a.Filename,
			MimeType: a.MimeType,
		})
	}
	return email
}

func defaultStr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
