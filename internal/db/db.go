// Package db provides SQLite storage for purchase orders and their
// correspondence log.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/daviddao/poflow/internal/types"
	_ "modernc.org/sqlite"
)

// DB wraps a SQLite connection for poflow operations.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) a poflow database at the given path and applies
// pending migrations.
func Open(dbPath string, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer; also keeps every pragma on the one live connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := applyMigrations(conn, log.With("component", "db")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &DB{conn: conn, path: dbPath}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// DiscoverDB finds the poflow database by walking up from cwd.
// Returns the path to .poflow/po.db or empty string if not found.
func DiscoverDB() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".poflow", "po.db")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// FindProjectRoot walks up from cwd looking for a .poflow or .git
// directory. It falls back to cwd.
func FindProjectRoot() string {
	start, err := os.Getwd()
	if err != nil {
		return "."
	}
	dir := start
	for {
		for _, marker := range []string{".poflow", ".git"} {
			if info, err := os.Stat(filepath.Join(dir, marker)); err == nil && info.IsDir() {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return start
}

// --- Purchase order operations ---

var poColumns = []string{
	"po_number", "buyer_name", "buyer_email", "supplier_name", "supplier_email",
	"order_date", "expected_delivery_date", "accepted_delivery_date", "remaining_delivery_date",
	"status",
	"mtc_needed", "mtc_received", "payment_hold", "needs_info", "awaiting_acknowledgment",
	"overdue", "partial_availability", "clarification_requested", "mtc_pending",
	"original_sender", "line_items", "reply_eta", "created_at", "updated_at",
}

// CreatePO inserts a new purchase order. It fails with ErrExists when the
// number is taken. An empty status is stored as ISSUED.
func (d *DB) CreatePO(ctx context.Context, po *types.PurchaseOrder, now time.Time) error {
	if po.PONumber == "" {
		return errors.New("po number is required")
	}
	status := po.Status
	if status == "" {
		status = types.StatusIssued
	}
	items, err := json.Marshal(nonNil(po.LineItems))
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	ts := types.FormatTimestamp(now)
	f := po.Flags

	query, args, err := sq.Insert("purchase_orders").
		Columns(poColumns...).
		Values(
			po.PONumber, po.BuyerName, po.BuyerEmail, po.SupplierName, po.SupplierEmail,
			nullTime(po.OrderDate), nullTime(po.ExpectedDeliveryDate),
			nullTime(po.AcceptedDeliveryDate), nullTime(po.RemainingDeliveryDate),
			status,
			f.MTCNeeded, f.MTCReceived, f.PaymentHold, f.NeedsInfo, f.AwaitingAcknowledgment,
			f.Overdue, f.PartialAvailability, f.ClarificationRequested, f.MTCPending,
			po.OriginalSender, string(items), nullTime(po.ReplyETA), ts, ts,
		).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := d.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert po %s: %w", po.PONumber, MapSQLError(err))
	}
	return nil
}

// GetPO returns the stored attributes of a PO without its thread.
func (d *DB) GetPO(ctx context.Context, poNumber string) (*types.PurchaseOrder, error) {
	pos, err := d.queryPOs(ctx, sq.Eq{"po_number": poNumber})
	if err != nil {
		return nil, err
	}
	if len(pos) == 0 {
		return nil, fmt.Errorf("po %s: %w", poNumber, ErrNotFound)
	}
	return pos[0], nil
}

// ListFilter narrows ListPOs. Zero values do not constrain.
type ListFilter struct {
	// ActiveOnly drops POs in a terminal status.
	ActiveOnly bool

	// WithReplyETA keeps POs that have a reply-ETA armed.
	WithReplyETA bool

	// NeedingMTC keeps POs with mtc_needed set and mtc_received clear.
	NeedingMTC bool

	// Email keeps POs whose buyer or supplier address equals it, ignoring
	// case.
	Email string
}

// ListPOs returns POs matching f ordered by PO number.
func (d *DB) ListPOs(ctx context.Context, f ListFilter) ([]*types.PurchaseOrder, error) {
	where := sq.And{}
	if f.ActiveOnly {
		where = append(where, sq.NotEq{"status": types.TerminalStatuses})
	}
	if f.WithReplyETA {
		where = append(where, sq.NotEq{"reply_eta": nil})
	}
	if f.NeedingMTC {
		where = append(where, sq.Eq{"mtc_needed": true, "mtc_received": false})
	}
	if f.Email != "" {
		where = append(where, sq.Or{
			sq.Expr("lower(buyer_email) = lower(?)", f.Email),
			sq.Expr("lower(supplier_email) = lower(?)", f.Email),
		})
	}
	return d.queryPOs(ctx, where)
}

func (d *DB) queryPOs(ctx context.Context, where sq.Sqlizer) ([]*types.PurchaseOrder, error) {
	query, args, err := sq.Select(poColumns...).
		From("purchase_orders").
		Where(where).
		OrderBy("po_number").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pos: %w", MapSQLError(err))
	}
	defer rows.Close()

	var out []*types.PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, po)
	}
	if err := rows.Err(); err != nil {
		return nil, MapSQLError(err)
	}
	return out, nil
}

func scanPO(rows *sql.Rows) (*types.PurchaseOrder, error) {
	var (
		po        types.PurchaseOrder
		orderDate sql.NullString
		expected  sql.NullString
		accepted  sql.NullString
		remaining sql.NullString
		replyETA  sql.NullString
		items     string
	)
	f := &po.Flags
	err := rows.Scan(
		&po.PONumber, &po.BuyerName, &po.BuyerEmail, &po.SupplierName, &po.SupplierEmail,
		&orderDate, &expected, &accepted, &remaining,
		&po.Status,
		&f.MTCNeeded, &f.MTCReceived, &f.PaymentHold, &f.NeedsInfo, &f.AwaitingAcknowledgment,
		&f.Overdue, &f.PartialAvailability, &f.ClarificationRequested, &f.MTCPending,
		&po.OriginalSender, &items, &replyETA, &po.CreatedAt, &po.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan po: %w", err)
	}

	po.OrderDate = parseNullTime(orderDate)
	po.ExpectedDeliveryDate = parseNullTime(expected)
	po.AcceptedDeliveryDate = parseNullTime(accepted)
	po.RemainingDeliveryDate = parseNullTime(remaining)
	po.ReplyETA = parseNullTime(replyETA)

	if items != "" {
		if err := json.Unmarshal([]byte(items), &po.LineItems); err != nil {
			return nil, fmt.Errorf("decode line items of %s: %w", po.PONumber, err)
		}
	}
	return &po, nil
}

// update applies set to one PO and stamps updated_at. It returns
// ErrNotFound when no row matched.
func (d *DB) update(ctx context.Context, poNumber string, now time.Time, set map[string]any) error {
	query, args, err := sq.Update("purchase_orders").
		SetMap(set).
		Set("updated_at", types.FormatTimestamp(now)).
		Where(sq.Eq{"po_number": poNumber}).
		ToSql()
	if err != nil {
		return err
	}

	res, err := d.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update po %s: %w", poNumber, MapSQLError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("po %s: %w", poNumber, ErrNotFound)
	}
	return nil
}

// UpdateStatus sets the status column.
func (d *DB) UpdateStatus(ctx context.Context, poNumber, status string, now time.Time) error {
	return d.update(ctx, poNumber, now, map[string]any{"status": status})
}

// SetFlag sets one of the nine boolean flag columns.
func (d *DB) SetFlag(ctx context.Context, poNumber, flag string, value bool, now time.Time) error {
	// Column names are interpolated, so only known flags get through.
	if !types.IsValidFlag(flag) {
		return fmt.Errorf("unknown flag %q", flag)
	}
	return d.update(ctx, poNumber, now, map[string]any{flag: value})
}

// SetReplyETA arms the reply-ETA, or clears it when eta is nil.
func (d *DB) SetReplyETA(ctx context.Context, poNumber string, eta *time.Time, now time.Time) error {
	return d.update(ctx, poNumber, now, map[string]any{"reply_eta": nullTime(eta)})
}

// SetExpectedDelivery stores a new expected delivery date.
func (d *DB) SetExpectedDelivery(ctx context.Context, poNumber string, date time.Time, now time.Time) error {
	return d.update(ctx, poNumber, now, map[string]any{"expected_delivery_date": nullTime(&date)})
}

// SetPartialDates stores the accepted and remaining delivery dates. Nil
// arguments leave the stored value alone.
func (d *DB) SetPartialDates(ctx context.Context, poNumber string, accepted, remaining *time.Time, now time.Time) error {
	set := map[string]any{}
	if accepted != nil {
		set["accepted_delivery_date"] = nullTime(accepted)
	}
	if remaining != nil {
		set["remaining_delivery_date"] = nullTime(remaining)
	}
	if len(set) == 0 {
		return nil
	}
	return d.update(ctx, poNumber, now, set)
}

// StatusCounts returns the number of POs per status.
func (d *DB) StatusCounts(ctx context.Context) (map[string]int, error) {
	query, args, err := sq.Select("status", "COUNT(*)").
		From("purchase_orders").
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapSQLError(err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// --- Thread operations ---

// AppendThread adds a message to the end of a PO's log. The body is
// truncated for storage.
func (d *DB) AppendThread(ctx context.Context, poNumber string, msg types.ThreadMessage, now time.Time) error {
	labels, err := json.Marshal(nonNil(msg.Labels))
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return MapSQLError(err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM purchase_orders WHERE po_number = ?", poNumber,
	).Scan(&exists); err != nil {
		return MapSQLError(err)
	}
	if exists == 0 {
		return fmt.Errorf("po %s: %w", poNumber, ErrNotFound)
	}

	query, args, err := sq.Insert("thread_messages").
		Columns("po_number", "timestamp", "direction", "from_addr", "to_addr",
			"subject", "body", "labels", "message_id").
		Values(poNumber, msg.Timestamp, string(msg.Direction), msg.From, msg.To,
			msg.Subject, types.TruncateBody(msg.Body), string(labels), msg.MessageID).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("append thread %s: %w", poNumber, MapSQLError(err))
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE purchase_orders SET updated_at = ? WHERE po_number = ?",
		types.FormatTimestamp(now), poNumber,
	); err != nil {
		return MapSQLError(err)
	}
	return MapSQLError(tx.Commit())
}

// Thread returns a PO's log in append order.
func (d *DB) Thread(ctx context.Context, poNumber string) ([]types.ThreadMessage, error) {
	query, args, err := sq.Select("timestamp", "direction", "from_addr", "to_addr",
		"subject", "body", "labels", "message_id").
		From("thread_messages").
		Where(sq.Eq{"po_number": poNumber}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query thread %s: %w", poNumber, MapSQLError(err))
	}
	defer rows.Close()

	var out []types.ThreadMessage
	for rows.Next() {
		var m types.ThreadMessage
		var dir, labels string
		if err := rows.Scan(&m.Timestamp, &dir, &m.From, &m.To,
			&m.Subject, &m.Body, &labels, &m.MessageID); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		m.Direction = types.Direction(dir)
		if labels != "" {
			if err := json.Unmarshal([]byte(labels), &m.Labels); err != nil {
				return nil, fmt.Errorf("decode labels: %w", err)
			}
		}
		if len(m.Labels) == 0 {
			m.Labels = nil
		}
		out = append(out, m)
	}
	return out, MapSQLError(rows.Err())
}

// --- Processed inbound messages ---

// MarkProcessed records that an inbound transport message was handled.
// Marking twice is a no-op.
func (d *DB) MarkProcessed(ctx context.Context, messageID, poNumber string, now time.Time) error {
	query, args, err := sq.Insert("processed_messages").
		Options("OR IGNORE").
		Columns("message_id", "po_number", "processed_at").
		Values(messageID, poNumber, types.FormatTimestamp(now)).
		ToSql()
	if err != nil {
		return err
	}
	_, err = d.conn.ExecContext(ctx, query, args...)
	return MapSQLError(err)
}

// IsProcessed reports whether MarkProcessed was called for messageID.
func (d *DB) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var n int
	err := d.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM processed_messages WHERE message_id = ?", messageID,
	).Scan(&n)
	if err != nil {
		return false, MapSQLError(err)
	}
	return n > 0, nil
}

// Underlying returns the raw sql.DB connection.
func (d *DB) Underlying() *sql.DB {
	return d.conn
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return types.FormatTimestamp(*t)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, ok := types.ParseTimestamp(s.String)
	if !ok {
		return nil
	}
	return &t
}

// nonNil keeps JSON columns as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
