package orderflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payments"
)

type CreateOrderInput struct {
	CustomerID      string
	CustomerName    string
	CustomerEmail   string
	TotalAmount     Number
	Items           []ItemInput
	ShippingAddress orders.Address
	BillingAddress  orders.Address
	ShippingInfo    orders.ShippingInfo
}

// Outcome records whether one best-effort step of checkout went through.
type Outcome struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func failed(err error) Outcome { return Outcome{Error: err.Error()} }

type CreateResult struct {
	Order       *orders.Order         `json:"order"`
	Reservation orders.ReserveOutcome `json:"reservation"`
	Timeout     Outcome               `json:"timeout"`
	Shipment    Outcome               `json:"shipment"`
	Payment     Outcome               `json:"payment"`
}

// Degraded reports a created order that is missing its timer, shipment or payment session.
func (r CreateResult) Degraded() bool {
	return !r.Timeout.OK || !r.Shipment.OK || !r.Payment.OK
}

// CreateOrder persists a PENDING order and reserves its stock in one transaction, then arms
// the timeout and asks the shipping and payment providers for a shipment and a payment session.
// Only the first step is fatal; provider failures leave a degraded but persisted order.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (res CreateResult, err error) {
	ctx, span := startSpan(ctx, "CreateOrder", "")
	defer endSpan(span, &err)

	if strings.TrimSpace(in.CustomerID) == "" {
		return CreateResult{}, fmt.Errorf("%w: customer is required", ErrInvalidInput)
	}
	if len(in.Items) == 0 {
		return CreateResult{}, fmt.Errorf("%w: products must be a non-empty list", ErrInvalidInput)
	}

	o := &orders.Order{
		ID:                s.newID(),
		CustomerID:        in.CustomerID,
		ShippingAddress:   sanitizeAddress(in.ShippingAddress),
		BillingAddress:    sanitizeAddress(in.BillingAddress),
		ShippingInfo:      in.ShippingInfo,
		PaymentStatus:     orders.PaymentPending,
		FulfillmentStatus: orders.FulfillmentPending,
	}
	for _, it := range in.Items {
		o.Items = append(o.Items, sanitizeItem(it))
	}
	o.TotalAmount = o.ItemsTotal()
	if declared, ok := in.TotalAmount.Decimal(); ok && !declared.IsNegative() {
		if !declared.Equal(o.TotalAmount) {
			s.log.Warn("declared total differs from line items",
				zap.String("order_id", o.ID), zap.String("declared", declared.String()), zap.String("items", o.TotalAmount.String()))
		}
		o.TotalAmount = declared
	}
	span.SetAttributes(orderAttr(o.ID))
	log := s.log.With(zap.String("order_id", o.ID))

	reserved, err := s.orders.CreateWithReservation(ctx, o)
	if err != nil {
		if errors.Is(err, orders.ErrInsufficientStock) {
			return CreateResult{}, err
		}
		return CreateResult{}, fmt.Errorf("persist order: %w", err)
	}
	res = CreateResult{Order: o, Reservation: reserved}
	for _, it := range reserved.Skipped {
		log.Warn("line item not reserved: no matching size option",
			zap.String("product_id", it.ProductID), zap.String("color", it.Color), zap.String("size", it.Size))
	}

	if name, due, err := s.timeouts.Create(ctx, o.ID); err != nil {
		log.Warn("register order timeout", zap.Error(err))
		res.Timeout = failed(err)
	} else {
		o.ArmTimeout(name, due)
		res.Timeout = Outcome{OK: true}
	}

	if sh, err := s.shipping.CreateOrder(ctx, o); err != nil {
		log.Warn("create shipment", zap.Error(err))
		res.Shipment = failed(err)
	} else {
		o.ShipmentOrderID, o.ShipmentID, o.CourierID = sh.OrderID, sh.ShipmentID, sh.CourierID
		res.Shipment = Outcome{OK: true}
	}

	session, err := s.payments.CreateSession(ctx, payments.SessionRequest{
		OrderID:  o.ID,
		Amount:   o.TotalAmount,
		Currency: s.currency,
		Customer: payments.Customer{
			ID:    o.CustomerID,
			Name:  firstNonEmpty(in.CustomerName, o.BillingAddress.Name, o.ShippingAddress.Name),
			Email: firstNonEmpty(in.CustomerEmail, o.BillingAddress.Email, o.ShippingAddress.Email),
			Phone: firstNonEmpty(o.BillingAddress.Phone, o.ShippingAddress.Phone),
		},
	})
	if err != nil {
		log.Warn("create payment session", zap.Error(err))
		res.Payment = failed(err)
	} else {
		o.PaymentSessionID, o.PaymentLink, o.PaymentIntentID = session.ID, session.Link, session.IntentID
		res.Payment = Outcome{OK: true}
	}

	if res.Timeout.OK || res.Shipment.OK || res.Payment.OK {
		if err := s.orders.Save(ctx, o); err != nil {
			return CreateResult{}, fmt.Errorf("save order references: %w", err)
		}
	}

	s.publish(ctx, orders.EventOrderCreated, o.ID, orders.OrderCreatedPayload{
		OrderID:     o.ID,
		CustomerID:  o.CustomerID,
		TotalAmount: o.TotalAmount.StringFixed(2),
		Reserved:    reserved.Reserved,
		Degraded:    res.Degraded(),
	})
	log.Info("order created", zap.Bool("degraded", res.Degraded()), zap.Int("reserved_lines", len(reserved.Reserved)))
	return res, nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
