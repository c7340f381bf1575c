package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	gm "google.golang.org/api/gmail/v1"
)

// Outgoing is a message to send.
type Outgoing struct {
	From       string
	To         string
	Subject    string
	Body       string // markdown
	InReplyTo  string
	References string
	ThreadID   string
}

// NewMessageID returns a fresh RFC 5322 Message-ID in domain.
func NewMessageID(domain string) string {
	if domain == "" {
		domain = "poflow.local"
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

func domainOf(addr string) string {
	addr = strings.TrimSuffix(strings.TrimSpace(addr), ">")
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

// Compose renders msg as an RFC 5322 message with a plain-text part and an
// HTML part rendered from the markdown body. It returns the raw bytes and
// the Message-ID it assigned.
func Compose(msg Outgoing, now time.Time) ([]byte, string, error) {
	messageID := NewMessageID(domainOf(msg.From))

	var html bytes.Buffer
	if err := goldmark.Convert([]byte(msg.Body), &html); err != nil {
		return nil, "", fmt.Errorf("render html body: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
		}
	}
	header("From", msg.From)
	header("To", msg.To)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", messageID)
	header("In-Reply-To", msg.InReplyTo)
	header("References", msg.References)
	header("MIME-Version", "1.0")
	header("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mw.Boundary()))
	buf.WriteString("\r\n")

	for _, p := range []struct {
		contentType string
		body        string
	}{
		{"text/plain; charset=utf-8", msg.Body},
		{"text/html; charset=utf-8", html.String()},
	} {
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, "", fmt.Errorf("create part: %w", err)
		}
		qw := quotedprintable.NewWriter(pw)
		if _, err := qw.Write([]byte(p.body)); err != nil {
			return nil, "", fmt.Errorf("write part: %w", err)
		}
		if err := qw.Close(); err != nil {
			return nil, "", fmt.Errorf("close part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), messageID, nil
}

// Send delivers msg and returns the Message-ID header it carried.
func Send(ctx context.Context, svc *gm.Service, msg Outgoing) (string, error) {
	raw, messageID, err := Compose(msg, time.Now())
	if err != nil {
		return "", err
	}

	_, err = svc.Users.Messages.Send(User, &gm.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: msg.ThreadID,
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", msg.To, err)
	}
	return messageID, nil
}
