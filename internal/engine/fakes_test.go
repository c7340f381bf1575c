package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/daviddao/poflow/internal/compose"
	"github.com/daviddao/poflow/internal/types"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// memStore is an in-memory Store.
type memStore struct {
	mu      sync.Mutex
	pos     map[string]*types.PurchaseOrder
	getErr  error
	cleared int
}

var _ Store = (*memStore)(nil)

func newMemStore(pos ...*types.PurchaseOrder) *memStore {
	s := &memStore{pos: make(map[string]*types.PurchaseOrder)}
	for _, po := range pos {
		s.pos[po.PONumber] = po.Clone()
	}
	return s
}

func (s *memStore) po(number string) (*types.PurchaseOrder, error) {
	po, ok := s.pos[strings.ToUpper(number)]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", number, ErrUnknownPO)
	}
	return po, nil
}

func (s *memStore) mutate(number string, f func(po *types.PurchaseOrder)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	po, err := s.po(number)
	if err != nil {
		return err
	}
	f(po)
	return nil
}

// snapshot returns the stored PO for assertions.
func (s *memStore) snapshot(number string) *types.PurchaseOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	po, _ := s.po(number)
	return po.Clone()
}

func (s *memStore) Get(_ context.Context, number string) (*types.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	po, err := s.po(number)
	if err != nil {
		return nil, err
	}
	return po.Clone(), nil
}

func (s *memStore) UpdateStatus(_ context.Context, number, status string) error {
	return s.mutate(number, func(po *types.PurchaseOrder) { po.Status = status })
}

func (s *memStore) SetFlag(_ context.Context, number, flag string, value bool) error {
	var err error
	merr := s.mutate(number, func(po *types.PurchaseOrder) {
		if !po.Flags.Set(flag, value) {
			err = fmt.Errorf("unknown flag %q", flag)
		}
	})
	return errors.Join(merr, err)
}

func (s *memStore) AppendThread(_ context.Context, number string, msg types.ThreadMessage) error {
	return s.mutate(number, func(po *types.PurchaseOrder) {
		msg.Body = types.TruncateBody(msg.Body)
		po.Thread = append(po.Thread, msg)
	})
}

func (s *memStore) SetReplyETA(_ context.Context, number string, eta time.Time) error {
	return s.mutate(number, func(po *types.PurchaseOrder) { po.ReplyETA = &eta })
}

func (s *memStore) ReplyETA(_ context.Context, number string) (fn.Option[time.Time], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	po, err := s.po(number)
	if err != nil {
		return fn.None[time.Time](), err
	}
	if po.ReplyETA == nil {
		return fn.None[time.Time](), nil
	}
	return fn.Some(*po.ReplyETA), nil
}

func (s *memStore) ClearReplyETA(_ context.Context, number string) error {
	return s.mutate(number, func(po *types.PurchaseOrder) {
		po.ReplyETA = nil
		s.cleared++
	})
}

func (s *memStore) SetExpectedDelivery(_ context.Context, number string, date time.Time) error {
	return s.mutate(number, func(po *types.PurchaseOrder) { po.ExpectedDeliveryDate = &date })
}

func (s *memStore) SetPartialDates(_ context.Context, number string, accepted, remaining fn.Option[time.Time]) error {
	return s.mutate(number, func(po *types.PurchaseOrder) {
		accepted.WhenSome(func(t time.Time) { po.AcceptedDeliveryDate = &t })
		remaining.WhenSome(func(t time.Time) { po.RemainingDeliveryDate = &t })
	})
}

func (s *memStore) list(keep func(po *types.PurchaseOrder) bool) []*types.PurchaseOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.PurchaseOrder
	for _, po := range s.pos {
		if keep(po) {
			out = append(out, po.Clone())
		}
	}
	return out
}

func (s *memStore) ListActive(context.Context) ([]*types.PurchaseOrder, error) {
	return s.list(func(po *types.PurchaseOrder) bool { return !types.IsTerminal(po.Status) }), nil
}

func (s *memStore) ListWithReplyETA(context.Context) ([]*types.PurchaseOrder, error) {
	return s.list(func(po *types.PurchaseOrder) bool { return po.ReplyETA != nil }), nil
}

func (s *memStore) ListNeedingMTC(context.Context) ([]*types.PurchaseOrder, error) {
	return s.list(func(po *types.PurchaseOrder) bool {
		return !types.IsTerminal(po.Status) && po.Flags.MTCNeeded && !po.Flags.MTCReceived
	}), nil
}

func (s *memStore) ActiveByEmail(_ context.Context, email string) ([]*types.PurchaseOrder, error) {
	return s.list(func(po *types.PurchaseOrder) bool {
		return !types.IsTerminal(po.Status) &&
			(strings.EqualFold(po.SupplierEmail, email) || strings.EqualFold(po.BuyerEmail, email))
	}), nil
}

// staticClassifier returns a copy of ev for every message.
type staticClassifier struct {
	ev  *types.ClassifiedEvent
	err error
}

func (c staticClassifier) Classify(context.Context, types.InboundEmail) (*types.ClassifiedEvent, error) {
	if c.err != nil || c.ev == nil {
		return nil, c.err
	}
	ev := *c.ev
	return &ev, nil
}

type composed struct {
	scenario string
	data     compose.Data
}

// recordingComposer drafts fixed text and remembers every request.
type recordingComposer struct {
	mu    sync.Mutex
	calls []composed
	fail  map[string]bool
}

func (c *recordingComposer) Compose(_ context.Context, scenario string, data compose.Data) (compose.Content, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, composed{scenario: scenario, data: data})
	if c.fail[scenario] {
		return compose.Content{}, errors.New("model unavailable")
	}
	return compose.Content{
		Subject: fmt.Sprintf("%s %s", data.PONumber, scenario),
		Body:    "body of " + scenario,
	}, nil
}

// recordingTransport accepts every message and numbers it.
type recordingTransport struct {
	mu   sync.Mutex
	sent []OutboundEmail
	err  error
}

func (t *recordingTransport) Send(_ context.Context, msg OutboundEmail) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return "", t.err
	}
	t.sent = append(t.sent, msg)
	return fmt.Sprintf("<out-%d@poflow.test>", len(t.sent)), nil
}
