// Package orderflow coordinates order persistence, stock reservation, the timeout scheduler
// and the payment and shipping providers for every order lifecycle transition.
package orderflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payments"
	"github.com/ariefcatur/go-storefront-orders/internal/shipping"
)

var (
	ErrForbidden          = errors.New("order belongs to another customer")
	ErrInvalidInput       = errors.New("invalid input")
	ErrAlreadyTerminal    = errors.New("order is already delivered or cancelled")
	ErrPaymentNotVerified = errors.New("payment not verified")
)

var tracer = otel.Tracer("github.com/ariefcatur/go-storefront-orders/internal/orderflow")

type OrderStore interface {
	CreateWithReservation(ctx context.Context, o *orders.Order) (orders.ReserveOutcome, error)
	Get(ctx context.Context, id string) (*orders.Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]orders.Order, error)
	Save(ctx context.Context, o *orders.Order) error
	ReleaseAndDelete(ctx context.Context, id string) (int, error)
}

type Reservations interface {
	Commit(ctx context.Context, orderID string) (int64, error)
	Release(ctx context.Context, orderID string) (int, error)
	Consume(ctx context.Context, orderID string) (int64, error)
}

type Shipper interface {
	CreateOrder(ctx context.Context, o *orders.Order) (shipping.Shipment, error)
	Cancel(ctx context.Context, shipmentOrderID string) error
	GenerateAWB(ctx context.Context, shipmentID, courierID string) (shipping.AWB, error)
	SchedulePickup(ctx context.Context, shipmentID string) (shipping.Pickup, error)
	Track(ctx context.Context, awb string) (shipping.Tracking, error)
	ListCouriers(ctx context.Context, pickupPincode, deliveryPincode string, weightKg float64) ([]shipping.Courier, error)
}

type Timeouts interface {
	Create(ctx context.Context, orderID string) (string, time.Time, error)
	Delete(ctx context.Context, name string) error
}

type Locker interface {
	LockOrder(ctx context.Context, orderID string) (func(), error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Deps struct {
	Orders       OrderStore
	Reservations Reservations
	Payments     payments.Gateway
	Shipping     Shipper
	Timeouts     Timeouts
	Locks        Locker
	Events       Publisher
	Log          *zap.Logger
	Clock        func() time.Time
	NewID        func() string

	ServiceName   string
	Currency      string
	PickupPincode string
}

type Service struct {
	orders       OrderStore
	reservations Reservations
	payments     payments.Gateway
	shipping     Shipper
	timeouts     Timeouts
	locks        Locker
	events       Publisher
	log          *zap.Logger
	now          func() time.Time
	newID        func() string

	serviceName   string
	currency      string
	pickupPincode string
}

// NewService validates required collaborators and fills defaults for the optional ones.
func NewService(d Deps) (*Service, error) {
	switch {
	case d.Orders == nil:
		return nil, errors.New("orderflow: order store is required")
	case d.Reservations == nil:
		return nil, errors.New("orderflow: reservation store is required")
	case d.Payments == nil:
		return nil, errors.New("orderflow: payment gateway is required")
	case d.Shipping == nil:
		return nil, errors.New("orderflow: shipping provider is required")
	case d.Timeouts == nil:
		return nil, errors.New("orderflow: timeout scheduler is required")
	case d.Locks == nil:
		return nil, errors.New("orderflow: order locker is required")
	}
	clock := d.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := d.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	events := d.Events
	if events == nil {
		events = nopPublisher{}
	}
	name := d.ServiceName
	if name == "" {
		name = "orderflow"
	}
	return &Service{
		orders:        d.Orders,
		reservations:  d.Reservations,
		payments:      d.Payments,
		shipping:      d.Shipping,
		timeouts:      d.Timeouts,
		locks:         d.Locks,
		events:        events,
		log:           log,
		now:           func() time.Time { return clock().UTC() },
		newID:         newID,
		serviceName:   name,
		currency:      d.Currency,
		pickupPincode: d.PickupPincode,
	}, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish([]byte, []byte, ...kafkago.Header) {}

func startSpan(ctx context.Context, name, orderID string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "orderflow."+name)
	if orderID != "" {
		span.SetAttributes(orderAttr(orderID))
	}
	return ctx, span
}

// endSpan records err on the span; it is meant to be deferred with a pointer to the named result.
func endSpan(span trace.Span, err *error) {
	if err != nil && *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}

// withLock runs fn while holding the per-order lock.
func (s *Service) withLock(ctx context.Context, orderID string, fn func() error) error {
	unlock, err := s.locks.LockOrder(ctx, orderID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// load fetches the order and, when customerID is set, checks ownership.
func (s *Service) load(ctx context.Context, orderID, customerID string) (*orders.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if customerID != "" && o.CustomerID != customerID {
		return nil, ErrForbidden
	}
	return o, nil
}

// dropTimeout deletes the order's timer and clears the handle. Scheduler errors are logged only.
func (s *Service) dropTimeout(ctx context.Context, o *orders.Order) {
	s.deleteTimer(ctx, o.ID, o.SchedulerName)
	o.ClearTimeout()
}

func (s *Service) deleteTimer(ctx context.Context, orderID, handle string) {
	if handle == "" {
		return
	}
	if err := s.timeouts.Delete(ctx, handle); err != nil {
		s.log.Warn("delete order timeout", zap.String("order_id", orderID), zap.String("timer", handle), zap.Error(err))
	}
}

func (s *Service) cancelShipment(ctx context.Context, o *orders.Order) {
	if o.ShipmentOrderID == "" {
		return
	}
	if err := s.shipping.Cancel(ctx, o.ShipmentOrderID); err != nil {
		s.log.Warn("cancel shipment", zap.String("order_id", o.ID), zap.String("shipment_order_id", o.ShipmentOrderID), zap.Error(err))
	}
}

func orderAttr(id string) attribute.KeyValue { return attribute.String("order.id", id) }
