package orderflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payments"
)

// CloseResult describes what a failure, expiry or delete did to an order.
type CloseResult struct {
	OrderID   string `json:"order_id"`
	Restocked int    `json:"restocked"`
	Deleted   bool   `json:"deleted"`
	// Noop is set when the order was already gone or resolved.
	Noop bool `json:"noop,omitempty"`
}

// PaymentFailed releases the order's stock and hard-deletes it. Paid orders are refused.
func (s *Service) PaymentFailed(ctx context.Context, customerID, orderID string) (res CloseResult, err error) {
	ctx, span := startSpan(ctx, "PaymentFailed", orderID)
	defer endSpan(span, &err)

	err = s.withLock(ctx, orderID, func() error {
		o, err := s.load(ctx, orderID, customerID)
		if err != nil {
			return err
		}
		if o.PaymentStatus == orders.PaymentCompleted {
			return ErrAlreadyTerminal
		}
		res, err = s.discard(ctx, o)
		return err
	})
	if err != nil || res.Noop {
		return res, err
	}
	s.publish(ctx, orders.EventOrderFailed, orderID, orders.OrderClosedPayload{
		OrderID:       orderID,
		Reason:        "payment failed",
		RestockedQty:  res.Restocked,
		RecordDeleted: true,
	})
	return res, nil
}

// ExpireOrder handles a fired timeout. An order that is missing, paid or cancelled is left alone,
// so a late or repeated fire is harmless.
func (s *Service) ExpireOrder(ctx context.Context, orderID string) (res CloseResult, err error) {
	ctx, span := startSpan(ctx, "ExpireOrder", orderID)
	defer endSpan(span, &err)

	res = CloseResult{OrderID: orderID}
	err = s.withLock(ctx, orderID, func() error {
		o, err := s.orders.Get(ctx, orderID)
		if errors.Is(err, orders.ErrNotFound) {
			res.Noop = true
			return nil
		}
		if err != nil {
			return err
		}
		if o.PaymentStatus == orders.PaymentCompleted || o.FulfillmentStatus == orders.FulfillmentCancelled {
			res.Noop = true
			return nil
		}
		res, err = s.discard(ctx, o)
		return err
	})
	if err != nil {
		return CloseResult{}, err
	}
	if res.Noop {
		s.log.Info("timeout ignored", zap.String("order_id", orderID))
		return res, nil
	}
	s.publish(ctx, orders.EventOrderExpired, orderID, orders.OrderClosedPayload{
		OrderID:       orderID,
		Reason:        "payment window elapsed",
		RestockedQty:  res.Restocked,
		RecordDeleted: true,
	})
	return res, nil
}

// discard tears down an unpaid order: timer, shipment, reservations and the record itself.
// Nothing is saved after the delete.
func (s *Service) discard(ctx context.Context, o *orders.Order) (CloseResult, error) {
	s.dropTimeout(ctx, o)
	s.cancelShipment(ctx, o)
	n, err := s.orders.ReleaseAndDelete(ctx, o.ID)
	if errors.Is(err, orders.ErrNotFound) {
		return CloseResult{OrderID: o.ID, Noop: true}, nil
	}
	if err != nil {
		return CloseResult{}, fmt.Errorf("release and delete: %w", err)
	}
	s.log.Info("order discarded", zap.String("order_id", o.ID), zap.Int("restocked", n))
	return CloseResult{OrderID: o.ID, Restocked: n, Deleted: true}, nil
}

// CancelOrder cancels a non-terminal order owned by customerID. Paid orders are refunded best-effort.
// Stock goes back on the shelf unless the parcel has already shipped, in which case the
// reservation is consumed for good. The record is kept.
func (s *Service) CancelOrder(ctx context.Context, customerID, orderID, reason string) (o *orders.Order, err error) {
	ctx, span := startSpan(ctx, "CancelOrder", orderID)
	defer endSpan(span, &err)

	var (
		restocked int
		refunded  bool
	)
	err = s.withLock(ctx, orderID, func() error {
		o, err = s.load(ctx, orderID, customerID)
		if err != nil {
			return err
		}
		if o.FulfillmentStatus.Terminal() {
			return ErrAlreadyTerminal
		}
		reason = clean(reason)
		log := s.log.With(zap.String("order_id", o.ID))

		if o.PaymentStatus == orders.PaymentCompleted {
			rerr := s.payments.Refund(ctx, payments.RefundRequest{
				OrderID:  o.ID,
				IntentID: o.PaymentIntentID,
				Amount:   o.TotalAmount,
				Reason:   reason,
			})
			if rerr != nil {
				log.Warn("refund", zap.Error(rerr))
			}
			refunded = rerr == nil
		}
		s.cancelShipment(ctx, o)
		s.dropTimeout(ctx, o)

		if o.FulfillmentStatus == orders.FulfillmentShipped {
			if _, err := s.reservations.Consume(ctx, o.ID); err != nil {
				return fmt.Errorf("consume reservations: %w", err)
			}
		} else {
			n, err := s.reservations.Release(ctx, o.ID)
			if err != nil {
				return fmt.Errorf("release reservations: %w", err)
			}
			restocked = n
		}

		now := s.now()
		o.FulfillmentStatus = orders.FulfillmentCancelled
		o.CancellationReason = reason
		o.CancelledAt = &now
		if err := s.orders.Save(ctx, o); err != nil {
			return fmt.Errorf("save cancelled order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, orders.EventOrderCancelled, o.ID, orders.OrderClosedPayload{
		OrderID:      o.ID,
		Reason:       o.CancellationReason,
		RestockedQty: restocked,
		RefundIssued: refunded,
	})
	s.log.Info("order cancelled", zap.String("order_id", o.ID), zap.Int("restocked", restocked), zap.Bool("refunded", refunded))
	return o, nil
}
