package payments

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var ErrSessionNotFound = errors.New("payments: session not found")

type Customer struct {
	ID    string
	Name  string
	Email string
	Phone string
}

type SessionRequest struct {
	OrderID  string
	Amount   decimal.Decimal
	Currency string
	Customer Customer
}

// Session is the hosted checkout attempt the customer is redirected to.
type Session struct {
	ID        string
	Link      string
	IntentID  string
	ExpiresAt time.Time
}

type PaymentState struct {
	SessionID string
	OrderID   string
	IntentID  string
	Status    Status
}

type RefundRequest struct {
	OrderID  string
	IntentID string
	Amount   decimal.Decimal
	Reason   string
}

// Gateway wraps a hosted payment-session API.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	SessionStatus(ctx context.Context, sessionID string) (PaymentState, error)
	Refund(ctx context.Context, req RefundRequest) error
}

// Logger receives structured gateway events.
type Logger func(ctx context.Context, event string, fields map[string]any)

// MinorUnits converts a decimal amount to the smallest currency unit, rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
