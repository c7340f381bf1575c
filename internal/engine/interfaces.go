package engine

import (
	"context"
	"errors"
	"time"

	"github.com/daviddao/poflow/internal/compose"
	"github.com/daviddao/poflow/internal/types"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrNoPO is reported when an inbound message cannot be tied to a PO.
	ErrNoPO = errors.New("no purchase order resolved")

	// ErrUnknownPO is reported when the resolved PO has no stored state.
	// Store.Get wraps it for missing POs.
	ErrUnknownPO = errors.New("unknown purchase order")

	// ErrUnresolvedRecipient is reported when a send_email alias has no
	// address.
	ErrUnresolvedRecipient = errors.New("recipient could not be resolved")
)

// Store is the PO state the engine reads and mutates. Implementations
// must make every write visible to the next read.
type Store interface {
	// Get returns the PO with its thread. Missing POs yield an error
	// wrapping ErrUnknownPO.
	Get(ctx context.Context, poNumber string) (*types.PurchaseOrder, error)

	UpdateStatus(ctx context.Context, poNumber, status string) error
	SetFlag(ctx context.Context, poNumber, flag string, value bool) error
	AppendThread(ctx context.Context, poNumber string, msg types.ThreadMessage) error

	SetReplyETA(ctx context.Context, poNumber string, eta time.Time) error
	ReplyETA(ctx context.Context, poNumber string) (fn.Option[time.Time], error)
	ClearReplyETA(ctx context.Context, poNumber string) error

	SetExpectedDelivery(ctx context.Context, poNumber string, date time.Time) error

	// SetPartialDates stores whichever of the two dates is present.
	SetPartialDates(ctx context.Context, poNumber string, accepted, remaining fn.Option[time.Time]) error

	// ListActive returns POs not in a terminal status.
	ListActive(ctx context.Context) ([]*types.PurchaseOrder, error)

	// ListWithReplyETA returns POs that have a reply-ETA armed.
	ListWithReplyETA(ctx context.Context) ([]*types.PurchaseOrder, error)

	// ListNeedingMTC returns active POs with mtc_needed set and
	// mtc_received clear.
	ListNeedingMTC(ctx context.Context) ([]*types.PurchaseOrder, error)

	// ActiveByEmail returns active POs whose buyer or supplier address is
	// email.
	ActiveByEmail(ctx context.Context, email string) ([]*types.PurchaseOrder, error)
}

// Classifier turns an inbound message into a classified event. A nil
// event with a nil error means the message carries nothing to act on.
type Classifier interface {
	Classify(ctx context.Context, email types.InboundEmail) (*types.ClassifiedEvent, error)
}

// Composer drafts the subject and body of an outbound message.
type Composer interface {
	Compose(ctx context.Context, scenario string, data compose.Data) (compose.Content, error)
}

// OutboundEmail is a message handed to the Transport.
type OutboundEmail struct {
	To         string
	Subject    string
	Body       string
	InReplyTo  string
	References string
}

// Transport sends outbound mail and returns the Message-ID it assigned.
type Transport interface {
	Send(ctx context.Context, msg OutboundEmail) (string, error)
}
