package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
)

var ErrInsufficientStock = errors.New("insufficient stock")

type InsufficientStockError struct {
	Key       StockKey
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s/%s/%s: requested %d, available %d",
		e.Key.ProductID, e.Key.Color, e.Key.Size, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type ReservationRepo struct{ DB *pgxpool.Pool }

// reserveTx decrements stock for every resolvable line and records a RESERVED row per size option.
// Lines are aggregated per size option and locked in key order so concurrent checkouts cannot deadlock.
func reserveTx(ctx context.Context, tx pgx.Tx, orderID string, items []LineItem) (ReserveOutcome, error) {
	out := ReserveOutcome{Reserved: []ReservationLine{}}
	qty := map[StockKey]int{}
	byKey := map[StockKey][]LineItem{}
	for _, it := range items {
		k, ok := it.StockKey()
		if !ok {
			out.Skipped = append(out.Skipped, it)
			continue
		}
		qty[k] += it.Quantity
		byKey[k] = append(byKey[k], it)
	}

	keys := make([]StockKey, 0, len(qty))
	for k := range qty {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		if a.Color != b.Color {
			return a.Color < b.Color
		}
		return a.Size < b.Size
	})

	for _, k := range keys {
		n := qty[k]
		var left int
		err := tx.QueryRow(ctx, `
			UPDATE product_sizes SET quantity = quantity - $4, updated_at = NOW()
			WHERE product_id = $1 AND color = $2 AND size = $3 AND quantity >= $4
			RETURNING quantity`, k.ProductID, k.Color, k.Size, n).Scan(&left)
		if errors.Is(err, pgx.ErrNoRows) {
			var available int
			err := tx.QueryRow(ctx, `
				SELECT quantity FROM product_sizes
				WHERE product_id = $1 AND color = $2 AND size = $3`, k.ProductID, k.Color, k.Size).Scan(&available)
			if errors.Is(err, pgx.ErrNoRows) {
				out.Skipped = append(out.Skipped, byKey[k]...)
				continue
			}
			if err != nil {
				return ReserveOutcome{}, err
			}
			return ReserveOutcome{}, &InsufficientStockError{Key: k, Requested: n, Available: available}
		}
		if err != nil {
			return ReserveOutcome{}, fmt.Errorf("decrement %s/%s/%s: %w", k.ProductID, k.Color, k.Size, err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO order_reservations (order_id, product_id, color, size, qty, status)
			VALUES ($1, $2, $3, $4, $5, 'RESERVED')
			ON CONFLICT (order_id, product_id, color, size) DO NOTHING`,
			orderID, k.ProductID, k.Color, k.Size, n); err != nil {
			return ReserveOutcome{}, err
		}
		out.Reserved = append(out.Reserved, ReservationLine{StockKey: k, Qty: n})
	}
	return out, nil
}

// releaseTx restocks every live reservation of the order and marks it RELEASED.
// Released and consumed rows are never touched again, so calling it twice restocks nothing the second time.
func releaseTx(ctx context.Context, tx pgx.Tx, orderID string) (int, error) {
	rows, err := tx.Query(ctx, `
		SELECT product_id::text, color, size, qty FROM order_reservations
		WHERE order_id = $1 AND status IN ('RESERVED', 'COMMITTED')
		ORDER BY product_id, color, size
		FOR UPDATE`, orderID)
	if err != nil {
		return 0, err
	}
	var lines []ReservationLine
	for rows.Next() {
		var l ReservationLine
		if err := rows.Scan(&l.ProductID, &l.Color, &l.Size, &l.Qty); err != nil {
			rows.Close()
			return 0, err
		}
		lines = append(lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	restocked := 0
	for _, l := range lines {
		if _, err := tx.Exec(ctx, `
			UPDATE product_sizes SET quantity = quantity + $4, updated_at = NOW()
			WHERE product_id = $1 AND color = $2 AND size = $3`, l.ProductID, l.Color, l.Size, l.Qty); err != nil {
			return 0, err
		}
		restocked += l.Qty
	}
	if _, err := tx.Exec(ctx, `
		UPDATE order_reservations SET status = 'RELEASED', updated_at = NOW()
		WHERE order_id = $1 AND status IN ('RESERVED', 'COMMITTED')`, orderID); err != nil {
		return 0, err
	}
	return restocked, nil
}

// Commit marks the order's reservations as paid for. Stock is not touched.
func (r *ReservationRepo) Commit(ctx context.Context, orderID string) (int64, error) {
	if !validID(orderID) {
		return 0, nil
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE order_reservations SET status = 'COMMITTED', updated_at = NOW()
		WHERE order_id = $1 AND status = 'RESERVED'`, orderID)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// Consume marks the order's live reservations as shipped goods. Release skips them afterwards.
func (r *ReservationRepo) Consume(ctx context.Context, orderID string) (int64, error) {
	if !validID(orderID) {
		return 0, nil
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE order_reservations SET status = 'CONSUMED', updated_at = NOW()
		WHERE order_id = $1 AND status IN ('RESERVED', 'COMMITTED')`, orderID)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// Release returns the total quantity put back on the shelf.
func (r *ReservationRepo) Release(ctx context.Context, orderID string) (int, error) {
	if !validID(orderID) {
		return 0, nil
	}
	var n int
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		var err error
		n, err = releaseTx(ctx, tx, orderID)
		return err
	})
	return n, err
}

func (r *ReservationRepo) List(ctx context.Context, orderID string) ([]Reservation, error) {
	if !validID(orderID) {
		return []Reservation{}, nil
	}
	rows, err := r.DB.Query(ctx, `
		SELECT order_id::text, product_id::text, color, size, qty, status, created_at
		FROM order_reservations WHERE order_id = $1
		ORDER BY product_id, color, size`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Reservation{}
	for rows.Next() {
		var (
			res    Reservation
			status string
		)
		if err := rows.Scan(&res.OrderID, &res.ProductID, &res.Color, &res.Size, &res.Qty, &status, &res.CreatedAt); err != nil {
			return nil, err
		}
		res.Status = ReservationStatus(status)
		out = append(out, res)
	}
	return out, rows.Err()
}
