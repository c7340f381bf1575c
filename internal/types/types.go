// Package types defines core data structures for poflow.
package types

import (
	"slices"
	"strings"
	"time"
)

// MaxBodyLen is the number of body characters kept on a thread entry.
const MaxBodyLen = 500

// Direction of a thread message relative to our mailbox.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Role of the party that originated an event.
type Role string

const (
	RoleInternal Role = "internal"
	RoleSupplier Role = "supplier"
	RoleSystem   Role = "system"
)

// LineItem is one ordered line on a purchase order.
type LineItem struct {
	Description string  `json:"description" yaml:"description"`
	Quantity    float64 `json:"quantity" yaml:"quantity"`
	Unit        string  `json:"unit,omitempty" yaml:"unit"`
	UnitPrice   float64 `json:"unit_price,omitempty" yaml:"unit_price"`
}

// ThreadMessage is an append-only entry in a PO's correspondence log.
type ThreadMessage struct {
	// Timestamp is kept as received; it may be empty or unparseable.
	Timestamp string    `json:"timestamp"`
	Direction Direction `json:"direction"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Labels    []string  `json:"labels,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
}

// HasLabel reports whether the message carries label, ignoring case and
// surrounding space.
func (m *ThreadMessage) HasLabel(label string) bool {
	label = strings.TrimSpace(label)
	return slices.ContainsFunc(m.Labels, func(l string) bool {
		return strings.EqualFold(strings.TrimSpace(l), label)
	})
}

// Flags are the stored boolean flags of a purchase order.
type Flags struct {
	MTCNeeded              bool `json:"mtc_needed"`
	MTCReceived            bool `json:"mtc_received"`
	PaymentHold            bool `json:"payment_hold"`
	NeedsInfo              bool `json:"needs_info"`
	AwaitingAcknowledgment bool `json:"awaiting_acknowledgment"`
	Overdue                bool `json:"overdue"`
	PartialAvailability    bool `json:"partial_availability"`
	ClarificationRequested bool `json:"clarification_requested"`
	MTCPending             bool `json:"mtc_pending"`
}

// Stored flag names, matching the database columns.
const (
	FlagMTCNeeded              = "mtc_needed"
	FlagMTCReceived            = "mtc_received"
	FlagPaymentHold            = "payment_hold"
	FlagNeedsInfo              = "needs_info"
	FlagAwaitingAcknowledgment = "awaiting_acknowledgment"
	FlagOverdue                = "overdue"
	FlagPartialAvailability    = "partial_availability"
	FlagClarificationRequested = "clarification_requested"
	FlagMTCPending             = "mtc_pending"
)

// ValidFlags is the set of flags a set_flag action may write.
var ValidFlags = []string{
	FlagMTCNeeded, FlagMTCReceived, FlagPaymentHold, FlagNeedsInfo,
	FlagAwaitingAcknowledgment, FlagOverdue, FlagPartialAvailability,
	FlagClarificationRequested, FlagMTCPending,
}

// IsValidFlag checks if a flag name is one of the stored flags.
func IsValidFlag(name string) bool {
	return slices.Contains(ValidFlags, name)
}

// Set assigns the named flag. It returns false for unknown names.
func (f *Flags) Set(name string, value bool) bool {
	switch name {
	case FlagMTCNeeded:
		f.MTCNeeded = value
	case FlagMTCReceived:
		f.MTCReceived = value
	case FlagPaymentHold:
		f.PaymentHold = value
	case FlagNeedsInfo:
		f.NeedsInfo = value
	case FlagAwaitingAcknowledgment:
		f.AwaitingAcknowledgment = value
	case FlagOverdue:
		f.Overdue = value
	case FlagPartialAvailability:
		f.PartialAvailability = value
	case FlagClarificationRequested:
		f.ClarificationRequested = value
	case FlagMTCPending:
		f.MTCPending = value
	default:
		return false
	}
	return true
}

// PurchaseOrder is the stored state of one PO.
type PurchaseOrder struct {
	PONumber              string          `json:"po_number"`
	BuyerName             string          `json:"buyer_name,omitempty"`
	BuyerEmail            string          `json:"buyer_email,omitempty"`
	SupplierName          string          `json:"supplier_name,omitempty"`
	SupplierEmail         string          `json:"supplier_email,omitempty"`
	OrderDate             *time.Time      `json:"order_date,omitempty"`
	ExpectedDeliveryDate  *time.Time      `json:"expected_delivery_date,omitempty"`
	AcceptedDeliveryDate  *time.Time      `json:"accepted_delivery_date,omitempty"`
	RemainingDeliveryDate *time.Time      `json:"remaining_delivery_date,omitempty"`
	Status                string          `json:"status"`
	Flags                 Flags           `json:"flags"`
	OriginalSender        string          `json:"original_sender,omitempty"`
	LineItems             []LineItem      `json:"line_items,omitempty"`
	ReplyETA              *time.Time      `json:"reply_eta,omitempty"`
	Thread                []ThreadMessage `json:"thread,omitempty"`
	CreatedAt             string          `json:"created_at,omitempty"`
	UpdatedAt             string          `json:"updated_at,omitempty"`
}

// Clone returns a deep copy of the PO.
func (p *PurchaseOrder) Clone() *PurchaseOrder {
	if p == nil {
		return nil
	}
	c := *p
	c.OrderDate = cloneTime(p.OrderDate)
	c.ExpectedDeliveryDate = cloneTime(p.ExpectedDeliveryDate)
	c.AcceptedDeliveryDate = cloneTime(p.AcceptedDeliveryDate)
	c.RemainingDeliveryDate = cloneTime(p.RemainingDeliveryDate)
	c.ReplyETA = cloneTime(p.ReplyETA)
	c.LineItems = slices.Clone(p.LineItems)
	if p.Thread != nil {
		c.Thread = make([]ThreadMessage, len(p.Thread))
		for i, m := range p.Thread {
			m.Labels = slices.Clone(m.Labels)
			c.Thread[i] = m
		}
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// PartialDecision is the buyer's answer to a partial-availability offer.
type PartialDecision string

const (
	AcceptPartial PartialDecision = "ACCEPT_PARTIAL"
	RejectPartial PartialDecision = "REJECT_PARTIAL"
	WaitFull      PartialDecision = "WAIT_FULL"
	SplitPO       PartialDecision = "SPLIT_PO"
)

// Status returns the PO status a decision moves the order into.
func (d PartialDecision) Status() string {
	switch d {
	case AcceptPartial:
		return StatusPartialAccepted
	case RejectPartial:
		return StatusPartialRejected
	case WaitFull:
		return StatusWaitingFullAvailability
	case SplitPO:
		return StatusSplitRequested
	default:
		return ""
	}
}

// ParsePartialDecision normalizes a decision string. It returns false for
// anything outside the four known decisions.
func ParsePartialDecision(s string) (PartialDecision, bool) {
	d := PartialDecision(strings.ToUpper(strings.TrimSpace(s)))
	switch d {
	case AcceptPartial, RejectPartial, WaitFull, SplitPO:
		return d, true
	}
	return "", false
}

// ClassifiedEvent is one inbound message or scheduled tick after
// classification. It is never persisted.
type ClassifiedEvent struct {
	FromEmail  string   `json:"from_email"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	PONumber   string   `json:"po_number,omitempty"`
	Role       Role     `json:"role"`
	EntityName string   `json:"entity_name,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Intents    []string `json:"intents,omitempty"`
	MessageID  string   `json:"message_id,omitempty"`
	References string   `json:"references,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`

	// Populated by the engine while processing.
	PromisedDeliveryDate  *time.Time      `json:"promised_delivery_date,omitempty"`
	AcceptedDeliveryDate  *time.Time      `json:"accepted_delivery_date,omitempty"`
	RemainingDeliveryDate *time.Time      `json:"remaining_delivery_date,omitempty"`
	PartialDecision       PartialDecision `json:"partial_decision,omitempty"`
}

// HasIntent reports whether the event carries intent, ignoring case.
func (e *ClassifiedEvent) HasIntent(intent string) bool {
	for _, i := range e.Intents {
		if strings.EqualFold(i, intent) {
			return true
		}
	}
	return false
}

// Attachment is a file carried by an inbound message.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type,omitempty"`
	Content  []byte `json:"content,omitempty"`
}

// InboundEmail is a message delivered by the inbound transport.
type InboundEmail struct {
	ID          string       `json:"id,omitempty"`
	From        string       `json:"from"`
	To          string       `json:"to,omitempty"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Date        string       `json:"date,omitempty"`
	MessageID   string       `json:"message_id,omitempty"`
	InReplyTo   string       `json:"in_reply_to,omitempty"`
	References  string       `json:"references,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// TruncateBody shortens a body to MaxBodyLen characters for the thread log.
func TruncateBody(body string) string {
	r := []rune(body)
	if len(r) <= MaxBodyLen {
		return body
	}
	return string(r[:MaxBodyLen]) + "..."
}

// ExtractAddress returns the bare lower-cased address of a From/To header
// value such as `"Jane" <jane@example.com>`.
func ExtractAddress(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "<"); i >= 0 {
		if j := strings.Index(s[i:], ">"); j > 0 {
			s = s[i+1 : i+j]
		}
	}
	return strings.ToLower(strings.TrimSpace(s))
}
