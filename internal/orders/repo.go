package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
)

var (
	ErrNotFound = errors.New("order not found")
	// ErrConflict means the row changed since it was loaded (version mismatch).
	ErrConflict = errors.New("order modified concurrently")
)

type Repo struct{ DB *pgxpool.Pool }

// validID keeps malformed ids from reaching a uuid column, where they would fail the statement.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

const orderColumns = `id, customer_id, items, total_amount::text,
	shipping_address, billing_address, shipping_info,
	payment_status, fulfillment_status,
	payment_session_id, payment_link, payment_intent_id,
	shipment_id, shipment_order_id, courier_id, awb_code, tracking_url,
	pickup_date, estimated_delivery, shipping_charge::text,
	scheduler_name, expires_at, cancellation_reason, cancelled_at,
	version, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*Order, error) {
	var (
		o             Order
		total, charge string
		payStatus     string
		fulStatus     string
	)
	err := row.Scan(&o.ID, &o.CustomerID, &o.Items, &total,
		&o.ShippingAddress, &o.BillingAddress, &o.ShippingInfo,
		&payStatus, &fulStatus,
		&o.PaymentSessionID, &o.PaymentLink, &o.PaymentIntentID,
		&o.ShipmentID, &o.ShipmentOrderID, &o.CourierID, &o.AWBCode, &o.TrackingURL,
		&o.PickupDate, &o.EstimatedDelivery, &charge,
		&o.SchedulerName, &o.ExpiresAt, &o.CancellationReason, &o.CancelledAt,
		&o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total_amount: %w", err)
	}
	if o.ShippingCharge, err = decimal.NewFromString(charge); err != nil {
		return nil, fmt.Errorf("parse shipping_charge: %w", err)
	}
	o.PaymentStatus = PaymentStatus(payStatus)
	o.FulfillmentStatus = FulfillmentStatus(fulStatus)
	return &o, nil
}

// CreateWithReservation inserts the order and reserves its stock in one transaction.
// Insufficient stock on any resolvable line rolls back the whole order.
func (r *Repo) CreateWithReservation(ctx context.Context, o *Order) (ReserveOutcome, error) {
	var out ReserveOutcome
	now := time.Now().UTC()
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO orders (id, customer_id, items, total_amount, shipping_address, billing_address, shipping_info,
			                    payment_status, fulfillment_status, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7, $8, $9, 1, $10, $10)`,
			o.ID, o.CustomerID, o.Items, o.TotalAmount.StringFixed(2), o.ShippingAddress, o.BillingAddress, o.ShippingInfo,
			string(o.PaymentStatus), string(o.FulfillmentStatus), now,
		); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		var err error
		out, err = reserveTx(ctx, tx, o.ID, o.Items)
		return err
	})
	if err != nil {
		return ReserveOutcome{}, err
	}
	o.Version = 1
	o.CreatedAt, o.UpdatedAt = now, now
	return out, nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func (r *Repo) ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]Order, error) {
	if !validID(customerID) {
		return []Order{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE customer_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, customerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// Save persists every mutable field, guarded by the version read with the order.
func (r *Repo) Save(ctx context.Context, o *Order) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := r.DB.QueryRow(ctx, `
		UPDATE orders SET
			items = $3, total_amount = $4::text::numeric,
			shipping_address = $5, billing_address = $6, shipping_info = $7,
			payment_status = $8, fulfillment_status = $9,
			payment_session_id = $10, payment_link = $11, payment_intent_id = $12,
			shipment_id = $13, shipment_order_id = $14, courier_id = $15, awb_code = $16, tracking_url = $17,
			pickup_date = $18, estimated_delivery = $19, shipping_charge = $20::text::numeric,
			scheduler_name = $21, expires_at = $22, cancellation_reason = $23, cancelled_at = $24,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		o.ID, o.Version,
		o.Items, o.TotalAmount.StringFixed(2),
		o.ShippingAddress, o.BillingAddress, o.ShippingInfo,
		string(o.PaymentStatus), string(o.FulfillmentStatus),
		o.PaymentSessionID, o.PaymentLink, o.PaymentIntentID,
		o.ShipmentID, o.ShipmentOrderID, o.CourierID, o.AWBCode, o.TrackingURL,
		o.PickupDate, o.EstimatedDelivery, o.ShippingCharge.StringFixed(2),
		o.SchedulerName, o.ExpiresAt, o.CancellationReason, o.CancelledAt,
	).Scan(&o.Version, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := r.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, o.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	return err
}

// ReleaseAndDelete restocks every live reservation of the order, then hard-deletes it.
func (r *Repo) ReleaseAndDelete(ctx context.Context, id string) (int, error) {
	if !validID(id) {
		return 0, ErrNotFound
	}
	var released int
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		var err error
		if released, err = releaseTx(ctx, tx, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}
