// Package store is the engine's view of PO state: the sqlite database
// behind a short-lived read cache, with transient failures retried.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/daviddao/poflow/internal/cache"
	"github.com/daviddao/poflow/internal/clock"
	"github.com/daviddao/poflow/internal/db"
	"github.com/daviddao/poflow/internal/engine"
	"github.com/daviddao/poflow/internal/retry"
	"github.com/daviddao/poflow/internal/types"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Default cache lifetimes.
const (
	DefaultPOTTL     = 30 * time.Second
	DefaultThreadTTL = 120 * time.Second
	DefaultListTTL   = 30 * time.Second
)

// Backend is the persistence layer under the cache. *db.DB implements it.
type Backend interface {
	CreatePO(ctx context.Context, po *types.PurchaseOrder, now time.Time) error
	GetPO(ctx context.Context, poNumber string) (*types.PurchaseOrder, error)
	ListPOs(ctx context.Context, f db.ListFilter) ([]*types.PurchaseOrder, error)
	UpdateStatus(ctx context.Context, poNumber, status string, now time.Time) error
	SetFlag(ctx context.Context, poNumber, flag string, value bool, now time.Time) error
	SetReplyETA(ctx context.Context, poNumber string, eta *time.Time, now time.Time) error
	SetExpectedDelivery(ctx context.Context, poNumber string, date time.Time, now time.Time) error
	SetPartialDates(ctx context.Context, poNumber string, accepted, remaining *time.Time, now time.Time) error
	AppendThread(ctx context.Context, poNumber string, msg types.ThreadMessage, now time.Time) error
	Thread(ctx context.Context, poNumber string) ([]types.ThreadMessage, error)
	MarkProcessed(ctx context.Context, messageID, poNumber string, now time.Time) error
	IsProcessed(ctx context.Context, messageID string) (bool, error)
}

var _ Backend = (*db.DB)(nil)

// Config tunes a Store.
type Config struct {
	POTTL     time.Duration
	ThreadTTL time.Duration
	ListTTL   time.Duration
	Retry     *retry.Policy
	Clock     clock.Clock
	Log       *slog.Logger
}

// Store implements engine.Store.
type Store struct {
	backend Backend
	retry   *retry.Policy
	clock   clock.Clock
	log     *slog.Logger

	pos     *cache.TTL[string, *types.PurchaseOrder]
	threads *cache.TTL[string, []types.ThreadMessage]
	lists   *cache.TTL[string, []*types.PurchaseOrder]
}

var _ engine.Store = (*Store)(nil)

// New wraps backend. Zero lifetimes in cfg select the defaults.
func New(backend Backend, cfg Config) *Store {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.New(retry.WithLogger(cfg.Log))
	}
	if cfg.POTTL == 0 {
		cfg.POTTL = DefaultPOTTL
	}
	if cfg.ThreadTTL == 0 {
		cfg.ThreadTTL = DefaultThreadTTL
	}
	if cfg.ListTTL == 0 {
		cfg.ListTTL = DefaultListTTL
	}

	return &Store{
		backend: backend,
		retry:   cfg.Retry,
		clock:   cfg.Clock,
		log:     cfg.Log.With("component", "store"),
		pos:     cache.New[string, *types.PurchaseOrder](cfg.Clock, cfg.POTTL),
		threads: cache.New[string, []types.ThreadMessage](cfg.Clock, cfg.ThreadTTL),
		lists:   cache.New[string, []*types.PurchaseOrder](cfg.Clock, cfg.ListTTL),
	}
}

func key(poNumber string) string {
	return strings.ToUpper(strings.TrimSpace(poNumber))
}

// notFound rewrites the database's not-found into the engine's.
func notFound(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %w", engine.ErrUnknownPO, err)
	}
	return err
}

// Get returns the PO with its thread.
func (s *Store) Get(ctx context.Context, poNumber string) (*types.PurchaseOrder, error) {
	k := key(poNumber)

	po, ok := s.pos.Get(k)
	if !ok {
		var err error
		po, err = retry.Value(ctx, s.retry, "get po", func(ctx context.Context) (*types.PurchaseOrder, error) {
			return s.backend.GetPO(ctx, k)
		})
		if err != nil {
			return nil, notFound(err)
		}
		s.pos.Put(k, po)
	}

	thread, err := s.thread(ctx, k)
	if err != nil {
		return nil, err
	}

	out := *po
	out.Thread = thread
	return out.Clone(), nil
}

func (s *Store) thread(ctx context.Context, k string) ([]types.ThreadMessage, error) {
	if t, ok := s.threads.Get(k); ok {
		return t, nil
	}
	t, err := retry.Value(ctx, s.retry, "read thread", func(ctx context.Context) ([]types.ThreadMessage, error) {
		return s.backend.Thread(ctx, k)
	})
	if err != nil {
		return nil, err
	}
	s.threads.Put(k, t)
	return t, nil
}

// write runs a mutation of one PO and drops every cache entry it can
// affect, whether or not the mutation succeeded.
func (s *Store) write(ctx context.Context, name, poNumber string, op func(ctx context.Context, k string, now time.Time) error) error {
	k := key(poNumber)
	defer func() {
		s.pos.Invalidate(k)
		s.lists.Purge()
	}()

	err := s.retry.Do(ctx, name, func(ctx context.Context) error {
		return op(ctx, k, s.clock.Now())
	})
	if err != nil {
		s.log.DebugContext(ctx, "Store write failed", "op", name, "po", k, "err", err)
	}
	return notFound(err)
}

// Create stores a new PO.
func (s *Store) Create(ctx context.Context, po *types.PurchaseOrder) error {
	po = po.Clone()
	po.PONumber = key(po.PONumber)
	return s.write(ctx, "create po", po.PONumber, func(ctx context.Context, _ string, now time.Time) error {
		return s.backend.CreatePO(ctx, po, now)
	})
}

// UpdateStatus sets the PO status.
func (s *Store) UpdateStatus(ctx context.Context, poNumber, status string) error {
	return s.write(ctx, "update status", poNumber, func(ctx context.Context, k string, now time.Time) error {
		return s.backend.UpdateStatus(ctx, k, status, now)
	})
}

// SetFlag sets a stored boolean flag.
func (s *Store) SetFlag(ctx context.Context, poNumber, flag string, value bool) error {
	return s.write(ctx, "set flag", poNumber, func(ctx context.Context, k string, now time.Time) error {
		return s.backend.SetFlag(ctx, k, flag, value, now)
	})
}

// AppendThread adds a message to the PO's log.
func (s *Store) AppendThread(ctx context.Context, poNumber string, msg types.ThreadMessage) error {
	k := key(poNumber)
	defer s.threads.Invalidate(k)
	return s.write(ctx, "append thread", k, func(ctx context.Context, k string, now time.Time) error {
		return s.backend.AppendThread(ctx, k, msg, now)
	})
}

// SetReplyETA arms the reply-ETA.
func (s *Store) SetReplyETA(ctx context.Context, poNumber string, eta time.Time) error {
	return s.write(ctx, "set reply eta", poNumber, func(ctx context.Context, k string, now time.Time) error {
		return s.backend.SetReplyETA(ctx, k, &eta, now)
	})
}

// ReplyETA returns the armed reply-ETA, if any.
func (s *Store) ReplyETA(ctx context.Context, poNumber string) (fn.Option[time.Time], error) {
	po, err := s.Get(ctx, poNumber)
	if err != nil {
		return fn.None[time.Time](), err
	}
	if po.ReplyETA == nil {
		return fn.None[time.Time](), nil
	}
	return fn.Some(*po.ReplyETA), nil
}

// ClearReplyETA disarms the reply-ETA.
func (s *Store) ClearReplyETA(ctx context.Context, poNumber string) error {
	return s.write(ctx, "clear reply eta", poNumber, func(ctx context.Context, k string, now time.Time) error {
		return s.backend.SetReplyETA(ctx, k, nil, now)
	})
}

// SetExpectedDelivery stores a new expected delivery date.
func (s *Store) SetExpectedDelivery(ctx context.Context, poNumber string, date time.Time) error {
	return s.write(ctx, "set expected delivery", poNumber, func(ctx context.Context, k string, now time.Time) error {
		return s.backend.SetExpectedDelivery(ctx, k, date, now)
	})
}

// SetPartialDates stores the present partial-delivery dates.
func (s *Store) SetPartialDates(ctx context.Context, poNumber string, accepted, remaining fn.Option[time.Time]) error {
	if accepted.IsNone() && remaining.IsNone() {
		return nil
	}
	return s.write(ctx, "set partial dates", poNumber, func(ctx context.Context, k string, now time.Time) error {
		return s.backend.SetPartialDates(ctx, k, optPtr(accepted), optPtr(remaining), now)
	})
}

func optPtr(o fn.Option[time.Time]) *time.Time {
	var out *time.Time
	o.WhenSome(func(t time.Time) {
		out = &t
	})
	return out
}

func (s *Store) list(ctx context.Context, name string, f db.ListFilter) ([]*types.PurchaseOrder, error) {
	if pos, ok := s.lists.Get(name); ok {
		return clonePOs(pos), nil
	}
	pos, err := retry.Value(ctx, s.retry, "list "+name, func(ctx context.Context) ([]*types.PurchaseOrder, error) {
		return s.backend.ListPOs(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	s.lists.Put(name, pos)
	return clonePOs(pos), nil
}

func clonePOs(pos []*types.PurchaseOrder) []*types.PurchaseOrder {
	out := make([]*types.PurchaseOrder, len(pos))
	for i, p := range pos {
		out[i] = p.Clone()
	}
	return out
}

// ListActive returns POs not in a terminal status. Threads are not loaded.
func (s *Store) ListActive(ctx context.Context) ([]*types.PurchaseOrder, error) {
	return s.list(ctx, "active", db.ListFilter{ActiveOnly: true})
}

// ListAll returns every PO. Threads are not loaded.
func (s *Store) ListAll(ctx context.Context) ([]*types.PurchaseOrder, error) {
	return s.list(ctx, "all", db.ListFilter{})
}

// ListWithReplyETA returns POs with a reply-ETA armed.
func (s *Store) ListWithReplyETA(ctx context.Context) ([]*types.PurchaseOrder, error) {
	return s.list(ctx, "reply_eta", db.ListFilter{WithReplyETA: true})
}

// ListNeedingMTC returns active POs still waiting for a mill test
// certificate.
func (s *Store) ListNeedingMTC(ctx context.Context) ([]*types.PurchaseOrder, error) {
	return s.list(ctx, "mtc", db.ListFilter{ActiveOnly: true, NeedingMTC: true})
}

// ActiveByEmail returns active POs where email is the buyer or supplier.
func (s *Store) ActiveByEmail(ctx context.Context, email string) ([]*types.PurchaseOrder, error) {
	email = types.ExtractAddress(email)
	if email == "" {
		return nil, nil
	}
	return s.list(ctx, "email:"+email, db.ListFilter{ActiveOnly: true, Email: email})
}

// MarkProcessed records a handled inbound message.
func (s *Store) MarkProcessed(ctx context.Context, messageID, poNumber string) error {
	return s.retry.Do(ctx, "mark processed", func(ctx context.Context) error {
		return s.backend.MarkProcessed(ctx, messageID, key(poNumber), s.clock.Now())
	})
}

// IsProcessed reports whether an inbound message was already handled.
func (s *Store) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	return retry.Value(ctx, s.retry, "is processed", func(ctx context.Context) (bool, error) {
		return s.backend.IsProcessed(ctx, messageID)
	})
}

// Invalidate drops every cached entry.
func (s *Store) Invalidate() {
	s.pos.Purge()
	s.threads.Purge()
	s.lists.Purge()
}
