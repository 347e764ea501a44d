package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated     = "OrderCreated"
	EventPaymentConfirmed = "PaymentConfirmed"
	EventOrderCancelled   = "OrderCancelled"
	EventOrderFailed      = "OrderFailed"
	EventOrderExpired     = "OrderExpired"
	EventOrderTimeout     = "OrderTimeout"
)

// ActionProcessOrderTimeout is carried by every timer fire.
const ActionProcessOrderTimeout = "processOrderTimeout"

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID     string            `json:"order_id"`
	CustomerID  string            `json:"customer_id"`
	TotalAmount string            `json:"total_amount"`
	Reserved    []ReservationLine `json:"reserved"`
	Degraded    bool              `json:"degraded"`
}

type PaymentConfirmedPayload struct {
	OrderID   string `json:"order_id"`
	SessionID string `json:"session_id"`
	AWBCode   string `json:"awb_code,omitempty"`
}

type OrderClosedPayload struct {
	OrderID       string `json:"order_id"`
	Reason        string `json:"reason,omitempty"`
	RestockedQty  int    `json:"restocked_qty"`
	RefundIssued  bool   `json:"refund_issued,omitempty"`
	RecordDeleted bool   `json:"record_deleted"`
}

// TimeoutPayload is what the scheduler delivers when a timer fires.
type TimeoutPayload struct {
	OrderID string `json:"orderId"`
	Action  string `json:"action"`
}
