package orderflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/shipping"
)

func (s *Service) GetOrder(ctx context.Context, customerID, orderID string) (*orders.Order, error) {
	return s.load(ctx, orderID, customerID)
}

func (s *Service) ListOrders(ctx context.Context, customerID string, limit, offset int) ([]orders.Order, error) {
	return s.orders.ListByCustomer(ctx, customerID, limit, offset)
}

// UpdateOrderInput carries optional changes; nil fields are left alone.
type UpdateOrderInput struct {
	Status          *string         `json:"status"`
	ShippingAddress *orders.Address `json:"address"`
	BillingAddress  *orders.Address `json:"billingAddress"`
}

// UpdateOrder moves fulfillment forward and edits addresses while the order is still Pending.
// Cancellation goes through CancelOrder so stock and refunds are handled.
func (s *Service) UpdateOrder(ctx context.Context, customerID, orderID string, in UpdateOrderInput) (o *orders.Order, err error) {
	ctx, span := startSpan(ctx, "UpdateOrder", orderID)
	defer endSpan(span, &err)

	err = s.withLock(ctx, orderID, func() error {
		o, err = s.load(ctx, orderID, customerID)
		if err != nil {
			return err
		}
		if in.ShippingAddress != nil || in.BillingAddress != nil {
			if o.FulfillmentStatus != orders.FulfillmentPending {
				return fmt.Errorf("%w: addresses are fixed once the order is %s", orders.ErrInvalidTransition, o.FulfillmentStatus)
			}
			if in.ShippingAddress != nil {
				o.ShippingAddress = sanitizeAddress(*in.ShippingAddress)
			}
			if in.BillingAddress != nil {
				o.BillingAddress = sanitizeAddress(*in.BillingAddress)
			}
		}
		if in.Status != nil {
			next, ok := orders.ParseFulfillment(*in.Status)
			if !ok {
				return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *in.Status)
			}
			if next == orders.FulfillmentCancelled {
				return fmt.Errorf("%w: use cancel-order to cancel", orders.ErrInvalidTransition)
			}
			if next != o.FulfillmentStatus {
				if !orders.CanTransitionFulfillment(o.FulfillmentStatus, next) {
					return fmt.Errorf("%w: %s -> %s", orders.ErrInvalidTransition, o.FulfillmentStatus, next)
				}
				if o.PaymentStatus != orders.PaymentCompleted {
					return fmt.Errorf("%w: order is not paid", orders.ErrInvalidTransition)
				}
				o.FulfillmentStatus = next
			}
		}
		return s.orders.Save(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// DeleteOrder removes an unpaid or cancelled order and returns any stock it still holds.
func (s *Service) DeleteOrder(ctx context.Context, customerID, orderID string) (res CloseResult, err error) {
	ctx, span := startSpan(ctx, "DeleteOrder", orderID)
	defer endSpan(span, &err)

	err = s.withLock(ctx, orderID, func() error {
		o, err := s.load(ctx, orderID, customerID)
		if err != nil {
			return err
		}
		switch {
		case o.FulfillmentStatus == orders.FulfillmentDelivered:
			return fmt.Errorf("%w: delivered orders are kept", orders.ErrInvalidTransition)
		case o.PaymentStatus == orders.PaymentCompleted && o.FulfillmentStatus != orders.FulfillmentCancelled:
			return fmt.Errorf("%w: paid order must be cancelled before it is deleted", orders.ErrInvalidTransition)
		}
		if o.FulfillmentStatus == orders.FulfillmentCancelled {
			n, err := s.orders.ReleaseAndDelete(ctx, o.ID)
			if err != nil {
				return err
			}
			res = CloseResult{OrderID: o.ID, Restocked: n, Deleted: true}
			return nil
		}
		res, err = s.discard(ctx, o)
		return err
	})
	if err != nil {
		return CloseResult{}, err
	}
	s.log.Info("order deleted", zap.String("order_id", orderID), zap.Int("restocked", res.Restocked))
	return res, nil
}

// TrackOrder returns the carrier's current view of the order's parcel.
func (s *Service) TrackOrder(ctx context.Context, customerID, orderID string) (shipping.Tracking, error) {
	o, err := s.load(ctx, orderID, customerID)
	if err != nil {
		return shipping.Tracking{}, err
	}
	if o.AWBCode == "" {
		return shipping.Tracking{}, fmt.Errorf("%w: order has no waybill yet", ErrInvalidInput)
	}
	return s.shipping.Track(ctx, o.AWBCode)
}
