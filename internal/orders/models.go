package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Address struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone"`
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country"`
}

type ShippingInfo struct {
	Weight  float64 `json:"weight"` // kg
	Length  float64 `json:"length,omitempty"`
	Breadth float64 `json:"breadth,omitempty"`
	Height  float64 `json:"height,omitempty"`
}

type LineItem struct {
	ProductID string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Color     string          `json:"color,omitempty"`
	Size      string          `json:"size,omitempty"`
	Image     string          `json:"image,omitempty"`
}

// StockKey reports whether the item points at a concrete size option.
func (l LineItem) StockKey() (StockKey, bool) {
	if l.Color == "" || l.Size == "" || l.Quantity <= 0 {
		return StockKey{}, false
	}
	if _, err := uuid.Parse(l.ProductID); err != nil {
		return StockKey{}, false
	}
	return StockKey{ProductID: l.ProductID, Color: l.Color, Size: l.Size}, true
}

type Order struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`

	Items           []LineItem      `json:"items"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAddress Address         `json:"shipping_address"`
	BillingAddress  Address         `json:"billing_address"`
	ShippingInfo    ShippingInfo    `json:"shipping_info"`

	PaymentStatus     PaymentStatus     `json:"payment_status"`
	FulfillmentStatus FulfillmentStatus `json:"status"`

	PaymentSessionID string `json:"payment_session_id,omitempty"`
	PaymentLink      string `json:"payment_link,omitempty"`
	PaymentIntentID  string `json:"payment_intent_id,omitempty"`

	ShipmentID        string          `json:"shipment_id,omitempty"`
	ShipmentOrderID   string          `json:"shipment_order_id,omitempty"`
	CourierID         string          `json:"courier_id,omitempty"`
	AWBCode           string          `json:"awb_code,omitempty"`
	TrackingURL       string          `json:"tracking_url,omitempty"`
	PickupDate        string          `json:"pickup_date,omitempty"`
	EstimatedDelivery string          `json:"estimated_delivery,omitempty"`
	ShippingCharge    decimal.Decimal `json:"shipping_charge"`

	SchedulerName      string     `json:"scheduler_name,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`

	Version   int       `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ArmTimeout and ClearTimeout keep scheduler handle and expiry in lockstep.
func (o *Order) ArmTimeout(handle string, at time.Time) {
	t := at.UTC()
	o.SchedulerName = handle
	o.ExpiresAt = &t
}

func (o *Order) ClearTimeout() {
	o.SchedulerName = ""
	o.ExpiresAt = nil
}

func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

type StockKey struct {
	ProductID string `json:"product_id"`
	Color     string `json:"color"`
	Size      string `json:"size"`
}

type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "RESERVED"
	ReservationCommitted ReservationStatus = "COMMITTED"
	ReservationReleased  ReservationStatus = "RELEASED"
	// CONSUMED stock has left the warehouse and is never restocked.
	ReservationConsumed  ReservationStatus = "CONSUMED"
)

type Reservation struct {
	OrderID   string
	StockKey
	Qty       int
	Status    ReservationStatus
	CreatedAt time.Time
}

type ReservationLine struct {
	StockKey
	Qty int `json:"qty"`
}

// ReserveOutcome lists what was decremented and what could not be resolved to a size option.
type ReserveOutcome struct {
	Reserved []ReservationLine `json:"reserved"`
	Skipped  []LineItem        `json:"skipped,omitempty"`
}
