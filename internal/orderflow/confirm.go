package orderflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payments"
	"github.com/ariefcatur/go-storefront-orders/internal/shipping"
)

// ConfirmPayment marks the order paid once the gateway reports the session as succeeded.
// Nothing is written when the payment is not verified. A COMPLETED order is returned unchanged.
// Waybill, pickup and tracking are requested best-effort after verification.
func (s *Service) ConfirmPayment(ctx context.Context, customerID, orderID string) (o *orders.Order, err error) {
	ctx, span := startSpan(ctx, "ConfirmPayment", orderID)
	defer endSpan(span, &err)

	err = s.withLock(ctx, orderID, func() error {
		o, err = s.load(ctx, orderID, customerID)
		if err != nil {
			return err
		}
		if o.PaymentStatus == orders.PaymentCompleted {
			return nil
		}
		if o.FulfillmentStatus == orders.FulfillmentCancelled || !orders.CanTransitionPayment(o.PaymentStatus, orders.PaymentCompleted) {
			return ErrAlreadyTerminal
		}
		if o.PaymentSessionID == "" {
			return fmt.Errorf("%w: order has no payment session", ErrPaymentNotVerified)
		}

		state, err := s.payments.SessionStatus(ctx, o.PaymentSessionID)
		if err != nil {
			if errors.Is(err, payments.ErrSessionNotFound) {
				return fmt.Errorf("%w: %v", ErrPaymentNotVerified, err)
			}
			return fmt.Errorf("query payment status: %w", err)
		}
		if state.Status != payments.StatusSucceeded {
			return fmt.Errorf("%w: status %s", ErrPaymentNotVerified, state.Status)
		}
		if state.IntentID != "" {
			o.PaymentIntentID = state.IntentID
		}

		s.arrangeShipment(ctx, o)
		handle := o.SchedulerName
		o.ClearTimeout()
		o.PaymentStatus = orders.PaymentCompleted

		// timer and reservations change only after the paid state is stored
		if err := s.orders.Save(ctx, o); err != nil {
			return fmt.Errorf("save confirmed order: %w", err)
		}
		s.deleteTimer(ctx, o.ID, handle)
		if _, err := s.reservations.Commit(ctx, o.ID); err != nil {
			s.log.Warn("commit reservations", zap.String("order_id", o.ID), zap.Error(err))
		}
		s.publish(ctx, orders.EventPaymentConfirmed, o.ID, orders.PaymentConfirmedPayload{
			OrderID:   o.ID,
			SessionID: o.PaymentSessionID,
			AWBCode:   o.AWBCode,
		})
		s.log.Info("payment confirmed", zap.String("order_id", o.ID), zap.String("awb", o.AWBCode))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// arrangeShipment assigns a waybill and schedules pickup for a paid order. Steps already done are skipped.
func (s *Service) arrangeShipment(ctx context.Context, o *orders.Order) {
	if o.ShipmentID == "" {
		s.log.Warn("no shipment to arrange", zap.String("order_id", o.ID))
		return
	}
	log := s.log.With(zap.String("order_id", o.ID), zap.String("shipment_id", o.ShipmentID))

	if o.CourierID == "" && s.pickupPincode != "" {
		cs, err := s.shipping.ListCouriers(ctx, s.pickupPincode, o.ShippingAddress.Pincode, o.ShippingInfo.Weight)
		if err != nil {
			log.Warn("list couriers", zap.Error(err))
		} else if c, ok := shipping.Cheapest(cs); ok {
			o.CourierID = c.ID
			o.ShippingCharge = c.Rate
			o.EstimatedDelivery = c.ETD
		}
	}

	if o.AWBCode == "" {
		awb, err := s.shipping.GenerateAWB(ctx, o.ShipmentID, o.CourierID)
		if err != nil {
			log.Warn("generate awb", zap.Error(err))
			return
		}
		o.AWBCode = awb.Code
		if awb.CourierID != "" {
			o.CourierID = awb.CourierID
		}
		if orders.CanTransitionFulfillment(o.FulfillmentStatus, orders.FulfillmentProcessing) {
			o.FulfillmentStatus = orders.FulfillmentProcessing
		}
	}

	if o.PickupDate == "" {
		p, err := s.shipping.SchedulePickup(ctx, o.ShipmentID)
		if err != nil {
			log.Warn("schedule pickup", zap.Error(err))
		} else {
			o.PickupDate = p.ScheduledDate
		}
	}

	if t, err := s.shipping.Track(ctx, o.AWBCode); err != nil {
		log.Warn("track shipment", zap.Error(err))
	} else {
		o.TrackingURL = t.TrackURL
		if t.ETD != "" {
			o.EstimatedDelivery = t.ETD
		}
	}
}
