// Package gmail reads and sends purchase-order mail through the Gmail API.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	gm "google.golang.org/api/gmail/v1"
)

// User is the Gmail user id for the authenticated account.
const User = "me"

// MessageSummary is the metadata shown in search results.
type MessageSummary struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Date     string `json:"date"`
	Snippet  string `json:"snippet"`
}

// AttachmentInfo holds metadata about a message attachment.
type AttachmentInfo struct {
	Filename     string `json:"filename"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	AttachmentID string `json:"attachment_id,omitempty"`
}

// FullMessage is a decoded message with its threading headers.
type FullMessage struct {
	ID          string           `json:"id"`
	ThreadID    string           `json:"thread_id"`
	MessageID   string           `json:"message_id,omitempty"`
	InReplyTo   string           `json:"in_reply_to,omitempty"`
	References  string           `json:"references,omitempty"`
	From        string           `json:"from"`
	To          string           `json:"to"`
	CC          string           `json:"cc,omitempty"`
	Subject     string           `json:"subject"`
	Date        string           `json:"date"`
	Body        string           `json:"body"`
	HTML        bool             `json:"html,omitempty"`
	Labels      []string         `json:"labels,omitempty"`
	Snippet     string           `json:"snippet,omitempty"`
	Attachments []AttachmentInfo `json:"attachments,omitempty"`
}

// Search lists messages matching a Gmail query.
func Search(ctx context.Context, svc *gm.Service, query string, maxResults int64) ([]MessageSummary, error) {
	resp, err := svc.Users.Messages.List(User).
		Q(query).
		MaxResults(maxResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	if len(resp.Messages) == 0 {
		return nil, nil
	}

	summaries := make([]MessageSummary, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		detail, err := svc.Users.Messages.Get(User, msg.Id).
			Format("metadata").
			MetadataHeaders("From", "To", "Subject", "Date").
			Context(ctx).
			Do()
		if err != nil {
			// Skip individual message failures.
			continue
		}

		headers := headerMap(detail.Payload.Headers)
		summaries = append(summaries, MessageSummary{
			ID:       detail.Id,
			ThreadID: detail.ThreadId,
			From:     headers["from"],
			To:       headers["to"],
			Subject:  defaultStr(headers["subject"], "(no subject)"),
			Date:     headers["date"],
			Snippet:  detail.Snippet,
		})
	}

	return summaries, nil
}

// ReadFull fetches a complete message by ID, decoding the body.
func ReadFull(ctx context.Context, svc *gm.Service, id string) (*FullMessage, error) {
	msg, err := svc.Users.Messages.Get(User, id).
		Format("full").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return decodeMessage(msg), nil
}

func decodeMessage(msg *gm.Message) *FullMessage {
	headers := headerMap(msg.Payload.Headers)
	body, html := extractBody(msg.Payload)
	return &FullMessage{
		ID:          msg.Id,
		ThreadID:    msg.ThreadId,
		MessageID:   headers["message-id"],
		InReplyTo:   headers["in-reply-to"],
		References:  headers["references"],
		From:        headers["from"],
		To:          headers["to"],
		CC:          headers["cc"],
		Subject:     defaultStr(headers["subject"], "(no subject)"),
		Date:        headers["date"],
		Body:        body,
		HTML:        html,
		Labels:      msg.LabelIds,
		Snippet:     msg.Snippet,
		Attachments: extractAttachments(msg.Payload),
	}
}

// MarkRead removes the UNREAD label.
func MarkRead(ctx context.Context, svc *gm.Service, id string) error {
	_, err := svc.Users.Messages.Modify(User, id, &gm.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("mark %s read: %w", id, err)
	}
	return nil
}

// extractBody returns the text body of a payload, preferring text/plain
// over text/html across nested multiparts. The flag reports an HTML body.
func extractBody(payload *gm.MessagePart) (string, bool) {
	if payload == nil {
		return "", false
	}
	if len(payload.Parts) == 0 && payload.Body != nil && payload.Body.Data != "" {
		if decoded, err := decodeBase64URL(payload.Body.Data); err == nil {
			return decoded, payload.MimeType == "text/html"
		}
	}

	if body := findPart(payload.Parts, "text/plain"); body != "" {
		return body, false
	}
	if body := findPart(payload.Parts, "text/html"); body != "" {
		return body, true
	}
	return "", false
}

func findPart(parts []*gm.MessagePart, mimeType string) string {
	for _, part := range parts {
		if part.Filename != "" {
			continue
		}
		if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
			if decoded, err := decodeBase64URL(part.Body.Data); err == nil {
				return decoded
			}
		}
		if len(part.Parts) > 0 {
			if body := findPart(part.Parts, mimeType); body != "" {
				return body
			}
		}
	}
	return ""
}

// extractAttachments gets attachment metadata from a message payload.
func extractAttachments(payload *gm.MessagePart) []AttachmentInfo {
	var attachments []AttachmentInfo

	var scan func(parts []*gm.MessagePart)
	scan = func(parts []*gm.MessagePart) {
		for _, part := range parts {
			if part.Filename != "" {
				att := AttachmentInfo{
					Filename: part.Filename,
					MimeType: part.MimeType,
				}
				if part.Body != nil {
					att.Size = part.Body.Size
					att.AttachmentID = part.Body.AttachmentId
				}
				attachments = append(attachments, att)
			}
			if len(part.Parts) > 0 {
				scan(part.Parts)
			}
		}
	}

	if payload != nil {
		scan(payload.Parts)
	}
	return attachments
}

// headerMap indexes headers by lower-cased name; the first value wins.
func headerMap(headers []*gm.MessagePartHeader) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		k := strings.ToLower(h.Name)
		if _, ok := m[k]; !ok {
			m[k] = h.Value
		}
	}
	return m
}

// decodeBase64URL decodes Gmail's base64url content, padded or not.
func decodeBase64URL(data string) (string, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

func defaultStr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
