// README: Order store backed by PostgreSQL.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"relay/internal/types"
)

var ErrNotFound = errors.New("order not found")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Create inserts the order and reports whether a new row was written. A replay
// of the same order-created webhook hits the conflict clause and returns
// false, which is what gates the confirmation dispatch to once per order.
func (s *Store) Create(ctx context.Context, o *Order) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO orders (
			ref, name, customer_name, phone, product, quantity,
			total, currency, store_name, status, status_version,
			reminder_sent, feedback_requested, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, 0,
			FALSE, FALSE, $11, $11
		)
		ON CONFLICT (ref) DO NOTHING`,
		string(o.Ref),
		o.Name,
		o.CustomerName,
		o.Phone,
		o.Product,
		o.Quantity,
		o.Total.Amount,
		o.Total.Currency,
		o.StoreName,
		string(o.Status),
		o.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Get(ctx context.Context, ref types.ID) (*Order, error) {
	return s.getBy(ctx, "ref", string(ref))
}

// GetByName resolves an order by its human-readable storefront name.
func (s *Store) GetByName(ctx context.Context, name string) (*Order, error) {
	return s.getBy(ctx, "name", name)
}

func (s *Store) getBy(ctx context.Context, column, value string) (*Order, error) {
	row := s.db.QueryRow(ctx, `
		SELECT ref, name, customer_name, phone, product, quantity,
		       total, currency, store_name, status, status_version,
		       reminder_sent, feedback_requested, created_at, updated_at
		FROM orders
		WHERE `+column+` = $1`, value,
	)

	var o Order
	err := row.Scan(
		&o.Ref, &o.Name, &o.CustomerName, &o.Phone, &o.Product, &o.Quantity,
		&o.Total.Amount, &o.Total.Currency, &o.StoreName, &o.Status, &o.StatusVersion,
		&o.ReminderSent, &o.FeedbackRequested, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateStatus applies a guarded transition. The status_version check makes
// concurrent writers lose cleanly instead of clobbering each other.
func (s *Store) UpdateStatus(ctx context.Context, ref types.ID, from, to Status, version int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    status_version = status_version + 1,
		    updated_at = NOW()
		WHERE ref = $2 AND status = $3 AND status_version = $4`,
		string(to),
		string(ref),
		string(from),
		version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateContact refreshes the denormalized contact fields. Empty arguments are
// merged away so a courier event without a phone never erases a known one.
func (s *Store) UpdateContact(ctx context.Context, ref types.ID, canonicalPhone, customerName string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE orders
		SET phone = CASE WHEN $1 <> '' THEN $1 ELSE phone END,
		    customer_name = CASE WHEN $2 <> '' THEN $2 ELSE customer_name END,
		    updated_at = NOW()
		WHERE ref = $3`,
		canonicalPhone,
		customerName,
		string(ref),
	)
	return err
}

// SetReminderSent claims the once-per-lifetime reminder flag. Returns false
// when the flag was already set or the order left the awaiting-action state,
// so repeated sweeps cannot double-send.
func (s *Store) SetReminderSent(ctx context.Context, ref types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET reminder_sent = TRUE, updated_at = NOW()
		WHERE ref = $1 AND reminder_sent = FALSE AND status = $2`,
		string(ref),
		string(StatusPendingConfirmation),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetFeedbackRequested claims the feedback flag, once per order.
func (s *Store) SetFeedbackRequested(ctx context.Context, ref types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET feedback_requested = TRUE, updated_at = NOW()
		WHERE ref = $1 AND feedback_requested = FALSE`,
		string(ref),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpsertFulfillment records a shipment sub-record. Sub-records accumulate and
// are never deleted; repeated webhooks for the same fulfillment overwrite the
// status and tracking fields.
func (s *Store) UpsertFulfillment(ctx context.Context, f *Fulfillment) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO fulfillments (order_ref, id, status, tracking_url, tracking_number, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_ref, id) DO UPDATE
		SET status = EXCLUDED.status,
		    tracking_url = EXCLUDED.tracking_url,
		    tracking_number = EXCLUDED.tracking_number,
		    updated_at = EXCLUDED.updated_at`,
		string(f.OrderRef),
		f.ID,
		f.Status,
		f.TrackingURL,
		f.TrackingNumber,
		f.UpdatedAt,
	)
	return err
}

// ListUnremindedBefore returns orders still awaiting confirmation whose
// creation time falls before the cutoff and whose reminder was never sent.
func (s *Store) ListUnremindedBefore(ctx context.Context, cutoff time.Time) ([]*Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ref, name, customer_name, phone, product, quantity,
		       total, currency, store_name, status, status_version,
		       reminder_sent, feedback_requested, created_at, updated_at
		FROM orders
		WHERE status = $1 AND reminder_sent = FALSE AND created_at < $2
		ORDER BY created_at`,
		string(StatusPendingConfirmation),
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(
			&o.Ref, &o.Name, &o.CustomerName, &o.Phone, &o.Product, &o.Quantity,
			&o.Total.Amount, &o.Total.Currency, &o.StoreName, &o.Status, &o.StatusVersion,
			&o.ReminderSent, &o.FeedbackRequested, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}
